package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SAMEER05407/mytrading/internal/domain"
	"github.com/SAMEER05407/mytrading/internal/infrastructure/metrics"
)

// FuturesMonitor polls the venue's position report on a fixed interval. The
// report carries the mark price, so one call per tick gives the PnL, the
// live position size and externally-closed detection at once.
type FuturesMonitor struct {
	engine   *FuturesEngine
	futures  domain.FuturesExchange
	notifier domain.Notifier
	logger   *zap.Logger

	pair         string
	side         domain.Side
	entryPrice   float64
	quantity     float64
	profitTarget float64
	stopLoss     float64
	startedAt    time.Time

	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFuturesMonitor copies the trade fields it needs; the caller may hold
// the engine lock.
func NewFuturesMonitor(
	engine *FuturesEngine,
	futuresExchange domain.FuturesExchange,
	notifier domain.Notifier,
	logger *zap.Logger,
	interval time.Duration,
	trade domain.FuturesTrade,
) *FuturesMonitor {
	return &FuturesMonitor{
		engine:       engine,
		futures:      futuresExchange,
		notifier:     notifier,
		logger:       logger,
		pair:         trade.Pair,
		side:         trade.Side,
		entryPrice:   trade.EntryPrice,
		quantity:     trade.Quantity,
		profitTarget: trade.ProfitTarget,
		stopLoss:     trade.StopLoss,
		startedAt:    trade.StartedAt,
		interval:     interval,
		stopCh:       make(chan struct{}),
	}
}

func (m *FuturesMonitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop signals the loop and waits for it to exit. Safe to call twice.
func (m *FuturesMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *FuturesMonitor) run() {
	defer m.wg.Done()

	ctx := context.Background()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	closing := false
	closeReason := ""

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}
		metrics.MonitorTick("futures")

		// Once a threshold fires we only retry the close until it lands
		// or the position is gone.
		if closing {
			if m.close(ctx, closeReason) {
				return
			}
			continue
		}

		pos, err := m.futures.Position(ctx, m.pair)
		if err != nil {
			m.logger.Warn("futures position fetch failed",
				zap.String("pair", m.pair),
				zap.Error(err))
			metrics.PriceFetchError("futures")
			continue
		}

		actual := math.Abs(pos.Quantity)
		if actual < m.quantity*0.01 {
			if _, cleared := m.engine.ClearExternalFutures(); cleared {
				m.notify(fmt.Sprintf("⚠️ <b>%s futures position closed externally.</b> Monitoring stopped.", m.pair))
			}
			return
		}
		if actual != m.quantity {
			m.logger.Info("futures position size changed on venue",
				zap.String("pair", m.pair),
				zap.Float64("recorded", m.quantity),
				zap.Float64("actual", actual))
			m.quantity = actual
			m.engine.syncQuantity(actual)
		}

		pnl := futuresPnL(m.side, m.entryPrice, pos.MarkPrice, m.quantity)
		m.engine.markFutures(pos.MarkPrice, pnl)
		metrics.SetProfit("futures", pnl)
		m.logger.Debug("futures tick",
			zap.String("pair", m.pair),
			zap.Float64("mark_price", pos.MarkPrice),
			zap.Float64("pnl", pnl),
			zap.Float64("target", m.profitTarget))

		switch {
		case pnl >= m.profitTarget:
			closing = true
			closeReason = "target-reached"
		case m.stopLoss > 0 && pnl <= -m.stopLoss:
			closing = true
			closeReason = "stop-loss"
		}
		if closing && m.close(ctx, closeReason) {
			return
		}
	}
}

// close attempts the exit once and reports whether monitoring is done.
func (m *FuturesMonitor) close(ctx context.Context, reason string) bool {
	view, err := m.engine.CloseFutures(ctx, reason)
	if errors.Is(err, domain.ErrClosedExternally) {
		m.notify(fmt.Sprintf("⚠️ <b>%s futures position closed externally.</b> Monitoring stopped.", m.pair))
		return true
	}
	if errors.Is(err, domain.ErrNoFuturesTrade) {
		return true
	}
	if err != nil {
		m.logger.Error("futures close failed, will retry",
			zap.String("pair", m.pair),
			zap.String("reason", reason),
			zap.Error(err))
		metrics.CloseRetry("futures")
		return false
	}

	held := time.Since(m.startedAt).Round(time.Second)
	switch reason {
	case "target-reached":
		m.notify(fmt.Sprintf(
			"💰 <b>Futures target hit on %s</b>\nSide: %s %dx\nEntry: %.8f\nExit: %.8f\nPnL: %+.4f USDT\nHeld: %s",
			view.Pair, view.Side, view.Leverage, view.EntryPrice, view.MarkPrice, view.PnL, held))
	case "stop-loss":
		m.notify(fmt.Sprintf(
			"🛑 <b>Futures stop loss on %s</b>\nSide: %s %dx\nEntry: %.8f\nExit: %.8f\nPnL: %+.4f USDT\nHeld: %s",
			view.Pair, view.Side, view.Leverage, view.EntryPrice, view.MarkPrice, view.PnL, held))
	}
	return true
}

func (m *FuturesMonitor) notify(text string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Send(text); err != nil {
		m.logger.Warn("notification failed", zap.Error(err))
	}
}
