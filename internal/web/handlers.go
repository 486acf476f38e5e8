package web

import (
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Templates
var templates *template.Template

func InitTemplates(dir string) error {
	var err error
	templates, err = template.ParseGlob(filepath.Join(dir, "*.html"))
	return err
}

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"Uptime":   time.Since(s.startedAt).Round(time.Second).String(),
		"PublicIP": s.publicIP(),
	}
	if view, ok := s.trades.StatusSnapshot(); ok {
		data["Spot"] = view
	}
	if view, ok := s.futures.FuturesSnapshot(); ok {
		data["Futures"] = view
	}

	if err := templates.ExecuteTemplate(w, "status.html", data); err != nil {
		s.logger.Error("Template error", zap.Error(err))
		http.Error(w, "Internal Server Error", 500)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		s.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// publicIP resolves the host's outbound address once per process; the
// operator uses it to whitelist the bot on the exchange.
func (s *Server) publicIP() string {
	s.ipOnce.Do(func() {
		s.cachedIP = "unknown"
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(s.ipURL)
		if err != nil {
			s.logger.Warn("Failed to resolve public IP", zap.Error(err))
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
		if err != nil {
			s.logger.Warn("Failed to read public IP response", zap.Error(err))
			return
		}
		s.cachedIP = string(body)
	})
	return s.cachedIP
}
