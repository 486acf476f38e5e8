package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SAMEER05407/mytrading/internal/domain"
)

// SpotStatus is the slice of the trade engine the status page reads.
type SpotStatus interface {
	StatusSnapshot() (domain.TradeView, bool)
}

// FuturesStatus is the futures counterpart.
type FuturesStatus interface {
	FuturesSnapshot() (domain.FuturesView, bool)
}

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	trades    SpotStatus
	futures   FuturesStatus
	logger    *zap.Logger
	startedAt time.Time

	ipURL    string
	ipOnce   sync.Once
	cachedIP string
}

func NewServer(
	port int,
	trades SpotStatus,
	futures FuturesStatus,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		trades:    trades,
		futures:   futures,
		logger:    logger,
		startedAt: time.Now(),
		ipURL:     "https://api.ipify.org",
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status Page
	s.router.HandleFunc("GET /", s.handleStatusPage)

	// Health
	s.router.HandleFunc("GET /healthz", s.handleHealthz)

	// Metrics
	s.router.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
