package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SAMEER05407/mytrading/internal/domain"
	"github.com/SAMEER05407/mytrading/internal/infrastructure/metrics"
)

const (
	minOrderUSD         = 5.0
	defaultTickInterval = 5 * time.Second
)

var pairPattern = regexp.MustCompile(`^[A-Z0-9]+USDT$`)

// TradeEngine owns the single spot trade record and its lock. All state
// transitions (open, close, tick update, status read) go through it.
type TradeEngine struct {
	exchange domain.Exchange
	notifier domain.Notifier
	analyzer *MarketAnalyzer
	logger   *zap.Logger

	mu      sync.Mutex
	trade   domain.Trade
	monitor *PriceMonitor

	tickInterval time.Duration
	timeNow      func() time.Time
}

func NewTradeEngine(
	exchange domain.Exchange,
	notifier domain.Notifier,
	analyzer *MarketAnalyzer,
	logger *zap.Logger,
	tickInterval time.Duration,
) *TradeEngine {
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	return &TradeEngine{
		exchange:     exchange,
		notifier:     notifier,
		analyzer:     analyzer,
		logger:       logger,
		tickInterval: tickInterval,
		timeNow:      time.Now,
	}
}

// OpenTrade validates the request, places a market buy and starts the price
// monitor. Preconditions are checked in order; the first failure wins.
func (e *TradeEngine) OpenTrade(ctx context.Context, pair string, usdAmount, profitTarget, stopLoss float64) (domain.TradeView, error) {
	pair = strings.ToUpper(strings.TrimSpace(pair))

	if !pairPattern.MatchString(pair) {
		return domain.TradeView{}, domain.NewValidationError("pair", "must be a USDT pair like BTCUSDT")
	}
	exists, err := e.exchange.SymbolExists(ctx, pair)
	if err != nil {
		return domain.TradeView{}, fmt.Errorf("symbol check: %w", err)
	}
	if !exists {
		return domain.TradeView{}, domain.NewValidationError("pair", "%s is not tradable on the venue", pair)
	}
	if usdAmount < minOrderUSD {
		return domain.TradeView{}, domain.NewValidationError("amount", "minimum order is %.0f USDT", minOrderUSD)
	}
	if profitTarget <= 0 {
		return domain.TradeView{}, domain.NewValidationError("profit", "profit target must be positive")
	}
	if stopLoss < 0 {
		return domain.TradeView{}, domain.NewValidationError("stop loss", "stop loss cannot be negative")
	}
	// On spot the stake bounds the loss; a stop at or above it can never fire
	if stopLoss > 0 && stopLoss >= usdAmount {
		return domain.TradeView{}, domain.NewValidationError("stop loss", "stop loss must be less than the invested amount")
	}

	// Cheap rejection before touching the venue. The authoritative check
	// happens again when the fill is committed.
	e.mu.Lock()
	if e.trade.Active {
		activePair := e.trade.Pair
		e.mu.Unlock()
		return domain.TradeView{}, fmt.Errorf("%w on %s", domain.ErrTradeActive, activePair)
	}
	e.mu.Unlock()

	if e.analyzer != nil {
		if advisory := e.analyzer.Advisory(ctx, pair); advisory != "" {
			e.notify(advisory)
		}
	}

	fill, err := e.exchange.MarketBuy(ctx, pair, usdAmount)
	if err != nil {
		return domain.TradeView{}, fmt.Errorf("market buy: %w", err)
	}

	e.mu.Lock()
	if e.trade.Active {
		// Lost the race to a concurrent open: unwind the fill so only one
		// position exists.
		activePair := e.trade.Pair
		e.mu.Unlock()
		if _, sellErr := e.exchange.MarketSell(ctx, pair, fill.Quantity); sellErr != nil {
			e.logger.Error("failed to unwind duplicate buy",
				zap.String("pair", pair),
				zap.Float64("quantity", fill.Quantity),
				zap.Error(sellErr))
		}
		return domain.TradeView{}, fmt.Errorf("%w on %s", domain.ErrTradeActive, activePair)
	}
	e.trade = domain.Trade{
		Active:       true,
		Pair:         pair,
		USDAmount:    usdAmount,
		ProfitTarget: profitTarget,
		StopLoss:     stopLoss,
		BuyPrice:     fill.Price,
		Quantity:     fill.Quantity,
		CurrentPrice: fill.Price,
		StartedAt:    e.timeNow(),
	}
	view := e.viewLocked()
	monitor := NewPriceMonitor(e, e.exchange, e.notifier, e.logger, e.tickInterval, e.trade)
	e.monitor = monitor
	e.mu.Unlock()

	monitor.Start()
	metrics.TradeOpened("spot")
	e.logger.Info("trade opened",
		zap.String("pair", pair),
		zap.Float64("usd_amount", usdAmount),
		zap.Float64("buy_price", fill.Price),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("profit_target", profitTarget))
	return view, nil
}

// CloseActive sells the open position at market and clears the record. On a
// sell failure the record is left untouched so the caller can retry with
// identical arguments.
func (e *TradeEngine) CloseActive(ctx context.Context, reason string) (domain.TradeView, error) {
	e.mu.Lock()
	if !e.trade.Active {
		e.mu.Unlock()
		return domain.TradeView{}, domain.ErrNoActiveTrade
	}
	pair := e.trade.Pair
	quantity := e.trade.Quantity
	e.mu.Unlock()

	fill, err := e.exchange.MarketSell(ctx, pair, quantity)
	if err != nil {
		return domain.TradeView{}, fmt.Errorf("market sell: %w", err)
	}

	e.mu.Lock()
	view := e.viewLocked()
	view.CurrentPrice = fill.Price
	view.CurrentProfit = (fill.Price - view.BuyPrice) * view.Quantity
	view.ProgressPct = 100 * view.CurrentProfit / view.ProfitTarget
	e.trade.Reset()
	e.mu.Unlock()

	metrics.TradeClosed("spot", reason)
	e.logger.Info("trade closed",
		zap.String("pair", pair),
		zap.String("reason", reason),
		zap.Float64("sell_price", fill.Price),
		zap.Float64("profit", view.CurrentProfit))
	return view, nil
}

// StatusSnapshot copies the record under the lock. The second return is
// false while no trade is active; the view is never partially populated.
func (e *TradeEngine) StatusSnapshot() (domain.TradeView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.trade.Active {
		return domain.TradeView{}, false
	}
	return e.viewLocked(), true
}

// MarkPrice records the latest polled price.
func (e *TradeEngine) MarkPrice(price float64) {
	e.mu.Lock()
	if e.trade.Active {
		e.trade.CurrentPrice = price
	}
	e.mu.Unlock()
}

// ClearExternal resets the record when the position was closed outside the
// bot (balance gone without our sell). Returns the last view of the trade.
func (e *TradeEngine) ClearExternal() (domain.TradeView, bool) {
	e.mu.Lock()
	if !e.trade.Active {
		e.mu.Unlock()
		return domain.TradeView{}, false
	}
	view := e.viewLocked()
	pair := e.trade.Pair
	e.trade.Reset()
	e.mu.Unlock()

	metrics.TradeClosed("spot", "external")
	e.logger.Warn("position closed externally", zap.String("pair", pair))
	return view, true
}

// Shutdown stops a running monitor, if any. The open position itself is not
// sold; nothing survives a restart.
func (e *TradeEngine) Shutdown() {
	e.mu.Lock()
	monitor := e.monitor
	e.mu.Unlock()
	if monitor != nil {
		monitor.Stop()
	}
}

// viewLocked builds a TradeView from the current record. Callers must hold
// the lock.
func (e *TradeEngine) viewLocked() domain.TradeView {
	t := e.trade
	profit := (t.CurrentPrice - t.BuyPrice) * t.Quantity
	return domain.TradeView{
		Pair:          t.Pair,
		USDAmount:     t.USDAmount,
		ProfitTarget:  t.ProfitTarget,
		StopLoss:      t.StopLoss,
		BuyPrice:      t.BuyPrice,
		Quantity:      t.Quantity,
		CurrentPrice:  t.CurrentPrice,
		StartedAt:     t.StartedAt,
		CurrentProfit: profit,
		ProgressPct:   100 * profit / t.ProfitTarget,
	}
}

func (e *TradeEngine) notify(text string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(text); err != nil {
		e.logger.Warn("notification failed", zap.Error(err))
	}
}
