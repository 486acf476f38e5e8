package usecase

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SAMEER05407/mytrading/internal/domain"
	"github.com/SAMEER05407/mytrading/internal/infrastructure/metrics"
)

const (
	// Futures carries a higher minimum to keep rounded quantities above
	// the venue's LOT_SIZE floor
	minFuturesUSD = 10.0

	minLeverage          = 1
	maxLeverage          = 20
	highLeverageWarnOver = 10
)

// FuturesEngine owns the single futures trade record. The lifecycle mirrors
// the spot engine; margin tops up from the spot wallet when needed.
type FuturesEngine struct {
	futures  domain.FuturesExchange
	spot     domain.Exchange
	notifier domain.Notifier
	analyzer *MarketAnalyzer
	logger   *zap.Logger

	mu      sync.Mutex
	trade   domain.FuturesTrade
	monitor *FuturesMonitor

	tickInterval time.Duration
	timeNow      func() time.Time
}

func NewFuturesEngine(
	futuresExchange domain.FuturesExchange,
	spot domain.Exchange,
	notifier domain.Notifier,
	analyzer *MarketAnalyzer,
	logger *zap.Logger,
	tickInterval time.Duration,
) *FuturesEngine {
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	return &FuturesEngine{
		futures:      futuresExchange,
		spot:         spot,
		notifier:     notifier,
		analyzer:     analyzer,
		logger:       logger,
		tickInterval: tickInterval,
		timeNow:      time.Now,
	}
}

// OpenFutures validates, tops up margin from spot if short, sets leverage
// and enters a leveraged position on the given side.
func (e *FuturesEngine) OpenFutures(ctx context.Context, pair string, side domain.Side, usdAmount float64, leverage int, profitTarget, stopLoss float64) (domain.FuturesView, error) {
	pair = strings.ToUpper(strings.TrimSpace(pair))

	if !pairPattern.MatchString(pair) {
		return domain.FuturesView{}, domain.NewValidationError("pair", "must be a USDT pair like BTCUSDT")
	}
	exists, err := e.futures.SymbolExists(ctx, pair)
	if err != nil {
		return domain.FuturesView{}, fmt.Errorf("symbol check: %w", err)
	}
	if !exists {
		return domain.FuturesView{}, domain.NewValidationError("pair", "%s is not tradable on futures", pair)
	}
	if side != domain.SideLong && side != domain.SideShort {
		return domain.FuturesView{}, domain.NewValidationError("side", "must be LONG or SHORT")
	}
	if usdAmount < minFuturesUSD {
		return domain.FuturesView{}, domain.NewValidationError("amount", "minimum futures order is %.0f USDT", minFuturesUSD)
	}
	if leverage < minLeverage || leverage > maxLeverage {
		return domain.FuturesView{}, domain.NewValidationError("leverage", "must be between %d and %d", minLeverage, maxLeverage)
	}
	if profitTarget <= 0 {
		return domain.FuturesView{}, domain.NewValidationError("profit", "profit target must be positive")
	}
	if stopLoss < 0 {
		return domain.FuturesView{}, domain.NewValidationError("stop loss", "stop loss cannot be negative")
	}

	e.mu.Lock()
	if e.trade.Active {
		activePair := e.trade.Pair
		e.mu.Unlock()
		return domain.FuturesView{}, fmt.Errorf("%w on %s", domain.ErrFuturesActive, activePair)
	}
	e.mu.Unlock()

	if e.analyzer != nil {
		if advisory := e.analyzer.Advisory(ctx, pair); advisory != "" {
			e.notify(advisory)
		}
	}
	if leverage > highLeverageWarnOver {
		e.notify(fmt.Sprintf("⚠️ Leverage %dx is very risky. Liquidation moves closer with every tick against you.", leverage))
	}

	if err := e.ensureMargin(ctx, usdAmount); err != nil {
		return domain.FuturesView{}, err
	}
	if err := e.futures.SetLeverage(ctx, pair, leverage); err != nil {
		return domain.FuturesView{}, fmt.Errorf("set leverage: %w", err)
	}

	price, err := e.futures.GetPrice(ctx, pair)
	if err != nil {
		return domain.FuturesView{}, fmt.Errorf("get price: %w", err)
	}
	quantity := usdAmount * float64(leverage) / price

	fill, err := e.futures.MarketOpen(ctx, pair, side, quantity)
	if err != nil {
		return domain.FuturesView{}, fmt.Errorf("futures open: %w", err)
	}

	e.mu.Lock()
	if e.trade.Active {
		activePair := e.trade.Pair
		e.mu.Unlock()
		if _, closeErr := e.futures.MarketClose(ctx, pair, side, fill.Quantity); closeErr != nil {
			e.logger.Error("failed to unwind duplicate futures open",
				zap.String("pair", pair),
				zap.Float64("quantity", fill.Quantity),
				zap.Error(closeErr))
		}
		return domain.FuturesView{}, fmt.Errorf("%w on %s", domain.ErrFuturesActive, activePair)
	}
	e.trade = domain.FuturesTrade{
		Active:       true,
		Pair:         pair,
		Side:         side,
		USDAmount:    usdAmount,
		Leverage:     leverage,
		ProfitTarget: profitTarget,
		StopLoss:     stopLoss,
		EntryPrice:   fill.Price,
		Quantity:     fill.Quantity,
		MarkPrice:    fill.Price,
		StartedAt:    e.timeNow(),
	}
	view := e.viewLocked()
	monitor := NewFuturesMonitor(e, e.futures, e.notifier, e.logger, e.tickInterval, e.trade)
	e.monitor = monitor
	e.mu.Unlock()

	monitor.Start()
	metrics.TradeOpened("futures")
	e.logger.Info("futures trade opened",
		zap.String("pair", pair),
		zap.String("side", string(side)),
		zap.Float64("usd_amount", usdAmount),
		zap.Int("leverage", leverage),
		zap.Float64("entry_price", fill.Price),
		zap.Float64("quantity", fill.Quantity))
	return view, nil
}

// ensureMargin transfers the shortfall from the spot wallet when the
// futures wallet cannot cover the order.
func (e *FuturesEngine) ensureMargin(ctx context.Context, usdAmount float64) error {
	available, err := e.futures.AvailableUSDT(ctx)
	if err != nil {
		return fmt.Errorf("futures balance: %w", err)
	}
	if available >= usdAmount {
		return nil
	}
	needed := usdAmount - available

	spotBalance, err := e.spot.AssetBalance(ctx, "USDT")
	if err != nil {
		return fmt.Errorf("spot balance: %w", err)
	}
	if spotBalance < needed {
		return domain.NewValidationError("balance",
			"need %.2f USDT more (spot %.2f, futures %.2f)", needed, spotBalance, available)
	}

	e.notify(fmt.Sprintf("💸 Transferring %.2f USDT from spot to futures...", needed))
	if err := e.futures.TransferIn(ctx, needed); err != nil {
		return fmt.Errorf("margin transfer: %w", err)
	}
	e.logger.Info("margin transferred",
		zap.Float64("usd", needed),
		zap.Float64("futures_balance", available),
		zap.Float64("spot_balance", spotBalance))
	return nil
}

// CloseFutures exits the position with a reduce-only order sized from the
// venue's live position, which may have drifted from the recorded quantity.
// When the venue no longer reports the position the record is cleared and
// ErrClosedExternally comes back instead of a fill.
func (e *FuturesEngine) CloseFutures(ctx context.Context, reason string) (domain.FuturesView, error) {
	e.mu.Lock()
	if !e.trade.Active {
		e.mu.Unlock()
		return domain.FuturesView{}, domain.ErrNoFuturesTrade
	}
	pair := e.trade.Pair
	side := e.trade.Side
	recorded := e.trade.Quantity
	e.mu.Unlock()

	pos, err := e.futures.Position(ctx, pair)
	if err != nil {
		return domain.FuturesView{}, fmt.Errorf("position check: %w", err)
	}
	quantity := math.Abs(pos.Quantity)
	if quantity < recorded*0.01 {
		if _, cleared := e.ClearExternalFutures(); cleared {
			return domain.FuturesView{}, domain.ErrClosedExternally
		}
		return domain.FuturesView{}, domain.ErrNoFuturesTrade
	}

	fill, err := e.futures.MarketClose(ctx, pair, side, quantity)
	if err != nil {
		return domain.FuturesView{}, fmt.Errorf("futures close: %w", err)
	}

	e.mu.Lock()
	view := e.viewLocked()
	view.MarkPrice = fill.Price
	view.PnL = futuresPnL(side, view.EntryPrice, fill.Price, view.Quantity)
	view.ProgressPct = 100 * view.PnL / view.ProfitTarget
	e.trade.Reset()
	e.mu.Unlock()

	metrics.TradeClosed("futures", reason)
	e.logger.Info("futures trade closed",
		zap.String("pair", pair),
		zap.String("side", string(side)),
		zap.String("reason", reason),
		zap.Float64("exit_price", fill.Price),
		zap.Float64("pnl", view.PnL))
	return view, nil
}

// FuturesSnapshot copies the record under the lock; false while idle.
func (e *FuturesEngine) FuturesSnapshot() (domain.FuturesView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.trade.Active {
		return domain.FuturesView{}, false
	}
	return e.viewLocked(), true
}

// markFutures records the latest mark price and side-signed PnL.
func (e *FuturesEngine) markFutures(markPrice, pnl float64) {
	e.mu.Lock()
	if e.trade.Active {
		e.trade.MarkPrice = markPrice
		e.trade.PnL = pnl
	}
	e.mu.Unlock()
}

// syncQuantity adopts the venue's position size when it drifts from the
// recorded one (partial external close, fee settlement).
func (e *FuturesEngine) syncQuantity(quantity float64) {
	e.mu.Lock()
	if e.trade.Active {
		e.trade.Quantity = quantity
	}
	e.mu.Unlock()
}

// ClearExternalFutures resets the record when the venue no longer reports
// the position.
func (e *FuturesEngine) ClearExternalFutures() (domain.FuturesView, bool) {
	e.mu.Lock()
	if !e.trade.Active {
		e.mu.Unlock()
		return domain.FuturesView{}, false
	}
	view := e.viewLocked()
	pair := e.trade.Pair
	e.trade.Reset()
	e.mu.Unlock()

	metrics.TradeClosed("futures", "external")
	e.logger.Warn("futures position closed externally", zap.String("pair", pair))
	return view, true
}

func (e *FuturesEngine) Shutdown() {
	e.mu.Lock()
	monitor := e.monitor
	e.mu.Unlock()
	if monitor != nil {
		monitor.Stop()
	}
}

func (e *FuturesEngine) viewLocked() domain.FuturesView {
	t := e.trade
	return domain.FuturesView{
		Pair:         t.Pair,
		Side:         t.Side,
		USDAmount:    t.USDAmount,
		Leverage:     t.Leverage,
		ProfitTarget: t.ProfitTarget,
		StopLoss:     t.StopLoss,
		EntryPrice:   t.EntryPrice,
		Quantity:     t.Quantity,
		MarkPrice:    t.MarkPrice,
		PnL:          t.PnL,
		StartedAt:    t.StartedAt,
		ProgressPct:  100 * t.PnL / t.ProfitTarget,
	}
}

func (e *FuturesEngine) notify(text string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(text); err != nil {
		e.logger.Warn("notification failed", zap.Error(err))
	}
}

// futuresPnL signs the mark-to-entry difference for the position side.
func futuresPnL(side domain.Side, entry, price, quantity float64) float64 {
	if side == domain.SideShort {
		return (entry - price) * quantity
	}
	return (price - entry) * quantity
}
