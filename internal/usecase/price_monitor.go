package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SAMEER05407/mytrading/internal/domain"
	"github.com/SAMEER05407/mytrading/internal/infrastructure/metrics"
)

// PriceMonitor polls the venue price at a fixed cadence for the one open
// trade, updates the record and triggers the close once the profit target
// (or stop loss) is hit. The engine starts a monitor right after a
// successful open; the single-position invariant keeps it unique.
//
// States: running -> closing -> terminated. A failed close keeps the
// monitor in closing and retries on the next scheduled tick, without
// bound: an open position is never abandoned.
type PriceMonitor struct {
	engine   *TradeEngine
	exchange domain.Exchange
	notifier domain.Notifier
	logger   *zap.Logger

	pair         string
	buyPrice     float64
	quantity     float64
	profitTarget float64
	stopLoss     float64
	startedAt    time.Time

	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPriceMonitor copies the freshly opened trade; buy price, quantity and
// targets do not change for the life of the position.
func NewPriceMonitor(
	engine *TradeEngine,
	exchange domain.Exchange,
	notifier domain.Notifier,
	logger *zap.Logger,
	interval time.Duration,
	trade domain.Trade,
) *PriceMonitor {
	return &PriceMonitor{
		engine:       engine,
		exchange:     exchange,
		notifier:     notifier,
		logger:       logger,
		pair:         trade.Pair,
		buyPrice:     trade.BuyPrice,
		quantity:     trade.Quantity,
		profitTarget: trade.ProfitTarget,
		stopLoss:     trade.StopLoss,
		startedAt:    trade.StartedAt,
		interval:     interval,
		stopCh:       make(chan struct{}),
	}
}

func (m *PriceMonitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop ends the loop and waits for the goroutine to exit. Idempotent.
func (m *PriceMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *PriceMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	closing := false
	reason := ""
	ticks := 0

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}

		ticks++
		metrics.MonitorTick("spot")

		if closing {
			// A manual sell can land while the close is being retried
			if ticks%2 == 0 && m.closedExternally() {
				return
			}
			if m.close(reason) {
				return
			}
			continue
		}

		price, err := m.exchange.GetPrice(context.Background(), m.pair)
		if err != nil {
			// Operator-facing only; the chat channel never sees tick errors
			m.logger.Warn("price fetch failed",
				zap.String("pair", m.pair),
				zap.Error(err))
			metrics.PriceFetchError("spot")
			continue
		}
		m.engine.MarkPrice(price)

		profit := (price - m.buyPrice) * m.quantity
		metrics.SetProfit("spot", profit)
		m.logger.Debug("tick",
			zap.String("pair", m.pair),
			zap.Float64("price", price),
			zap.Float64("profit", profit))

		// Balance is checked at half the tick cadence to catch positions
		// sold outside the bot
		if ticks%2 == 0 && m.closedExternally() {
			return
		}

		switch {
		case profit >= m.profitTarget:
			closing, reason = true, "target-reached"
		case m.stopLoss > 0 && profit <= -m.stopLoss:
			closing, reason = true, "stop-loss"
		default:
			continue
		}

		if m.close(reason) {
			return
		}
	}
}

// close attempts the sell and reports whether the monitor is done.
func (m *PriceMonitor) close(reason string) bool {
	view, err := m.engine.CloseActive(context.Background(), reason)
	if errors.Is(err, domain.ErrNoActiveTrade) {
		// Cleared elsewhere while we were closing
		return true
	}
	if err != nil {
		m.logger.Error("close failed, retrying next tick",
			zap.String("pair", m.pair),
			zap.String("reason", reason),
			zap.Error(err))
		metrics.CloseRetry("spot")
		return false
	}

	held := time.Since(m.startedAt).Round(time.Second)
	if reason == "stop-loss" {
		m.notify(fmt.Sprintf(
			"🛑 <b>Stop loss hit on %s</b>\nSell price: %.8f\nResult: %+.2f USDT\nHeld: %s",
			view.Pair, view.CurrentPrice, view.CurrentProfit, held))
	} else {
		m.notify(fmt.Sprintf(
			"🎯 <b>Target reached on %s</b>\nSell price: %.8f\nProfit: %+.2f USDT\nHeld: %s",
			view.Pair, view.CurrentPrice, view.CurrentProfit, held))
	}
	return true
}

// closedExternally clears the record when the base balance no longer backs
// the recorded quantity, meaning the position was sold outside the bot.
func (m *PriceMonitor) closedExternally() bool {
	asset := strings.TrimSuffix(m.pair, "USDT")
	balance, err := m.exchange.AssetBalance(context.Background(), asset)
	if err != nil {
		m.logger.Warn("balance check failed",
			zap.String("pair", m.pair),
			zap.Error(err))
		return false
	}
	if balance >= m.quantity*0.01 {
		return false
	}

	view, ok := m.engine.ClearExternal()
	if ok {
		m.notify(fmt.Sprintf(
			"⚠️ <b>%s position closed externally</b>\nBalance no longer covers the recorded quantity %.8f. Monitoring stopped.",
			view.Pair, view.Quantity))
	}
	return true
}

func (m *PriceMonitor) notify(text string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Send(text); err != nil {
		m.logger.Warn("notification failed", zap.Error(err))
	}
}
