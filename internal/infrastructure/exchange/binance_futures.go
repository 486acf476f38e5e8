package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/SAMEER05407/mytrading/internal/domain"
)

// FuturesAdapter implements domain.FuturesExchange on Binance USDT-M
// futures. Wallet top-ups come from the spot account, so the spot adapter
// is injected for transfers.
type FuturesAdapter struct {
	client *futures.Client
	spot   *BinanceAdapter

	mu     sync.Mutex
	rules  map[string]lotRule
	loaded bool
}

func NewFuturesAdapter(apiKey, apiSecret string, spot *BinanceAdapter) *FuturesAdapter {
	return &FuturesAdapter{
		client: futures.NewClient(apiKey, apiSecret),
		spot:   spot,
		rules:  make(map[string]lotRule),
	}
}

// --- Symbol info ---

// loadRules fetches the exchange info once and caches every symbol's
// LOT_SIZE filter. The futures endpoint has no per-symbol query.
func (f *FuturesAdapter) loadRules(ctx context.Context) error {
	f.mu.Lock()
	loaded := f.loaded
	f.mu.Unlock()
	if loaded {
		return nil
	}

	info, err := f.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("futures exchange info: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		filter := s.LotSizeFilter()
		if filter == nil {
			continue
		}
		step, err := strconv.ParseFloat(filter.StepSize, 64)
		if err != nil || step <= 0 {
			continue
		}
		min, _ := strconv.ParseFloat(filter.MinQuantity, 64)
		f.rules[s.Symbol] = lotRule{
			stepSize:  step,
			minQty:    min,
			precision: stepPrecision(filter.StepSize),
		}
	}
	f.loaded = true
	return nil
}

func (f *FuturesAdapter) SymbolExists(ctx context.Context, pair string) (bool, error) {
	if err := f.loadRules(ctx); err != nil {
		return false, err
	}
	f.mu.Lock()
	_, ok := f.rules[pair]
	f.mu.Unlock()
	return ok, nil
}

func (f *FuturesAdapter) lotRuleFor(ctx context.Context, pair string) (lotRule, error) {
	if err := f.loadRules(ctx); err != nil {
		return lotRule{}, err
	}
	f.mu.Lock()
	rule, ok := f.rules[pair]
	f.mu.Unlock()
	if !ok {
		return lotRule{}, fmt.Errorf("unknown futures symbol %s", pair)
	}
	return rule, nil
}

// --- Market data ---

func (f *FuturesAdapter) GetPrice(ctx context.Context, pair string) (float64, error) {
	prices, err := f.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("futures list prices %s: %w", pair, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no futures price returned for %s", pair)
	}
	return strconv.ParseFloat(prices[0].Price, 64)
}

func (f *FuturesAdapter) Klines(ctx context.Context, pair, interval string, limit int) ([]domain.Kline, error) {
	raw, err := f.client.NewKlinesService().
		Symbol(pair).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("futures klines %s %s: %w", pair, interval, err)
	}

	klines := make([]domain.Kline, 0, len(raw))
	for _, k := range raw {
		kline := domain.Kline{}
		kline.Open, _ = strconv.ParseFloat(k.Open, 64)
		kline.High, _ = strconv.ParseFloat(k.High, 64)
		kline.Low, _ = strconv.ParseFloat(k.Low, 64)
		kline.Close, _ = strconv.ParseFloat(k.Close, 64)
		klines = append(klines, kline)
	}
	return klines, nil
}

// --- Orders ---

func (f *FuturesAdapter) SetLeverage(ctx context.Context, pair string, leverage int) error {
	_, err := f.client.NewChangeLeverageService().
		Symbol(pair).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("change leverage %s: %w", pair, err)
	}
	return nil
}

func (f *FuturesAdapter) MarketOpen(ctx context.Context, pair string, side domain.Side, quantity float64) (domain.Fill, error) {
	if side == domain.SideShort {
		return f.marketOrder(ctx, pair, futures.SideTypeSell, quantity, false)
	}
	return f.marketOrder(ctx, pair, futures.SideTypeBuy, quantity, false)
}

func (f *FuturesAdapter) MarketClose(ctx context.Context, pair string, side domain.Side, quantity float64) (domain.Fill, error) {
	if side == domain.SideShort {
		return f.marketOrder(ctx, pair, futures.SideTypeBuy, quantity, true)
	}
	return f.marketOrder(ctx, pair, futures.SideTypeSell, quantity, true)
}

func (f *FuturesAdapter) marketOrder(ctx context.Context, pair string, side futures.SideType, quantity float64, reduceOnly bool) (domain.Fill, error) {
	rule, err := f.lotRuleFor(ctx, pair)
	if err != nil {
		return domain.Fill{}, err
	}
	qty := floorToStep(quantity, rule.stepSize)
	if qty < rule.minQty || qty <= 0 {
		return domain.Fill{}, fmt.Errorf("futures quantity %s below venue minimum %s for %s",
			formatFloat(qty, rule.precision), formatFloat(rule.minQty, rule.precision), pair)
	}

	svc := f.client.NewCreateOrderService().
		Symbol(pair).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(formatFloat(qty, rule.precision))
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}
	order, err := svc.Do(ctx)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("futures market %s %s: %w", side, pair, err)
	}

	avg, _ := strconv.ParseFloat(order.AvgPrice, 64)
	exec, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	if avg > 0 && exec > 0 {
		return domain.Fill{Price: avg, Quantity: exec}, nil
	}

	// Fill details can lag the create response
	time.Sleep(500 * time.Millisecond)
	got, err := f.client.NewGetOrderService().Symbol(pair).OrderID(order.OrderID).Do(ctx)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("futures get order %d: %w", order.OrderID, err)
	}
	avg, _ = strconv.ParseFloat(got.AvgPrice, 64)
	exec, _ = strconv.ParseFloat(got.ExecutedQuantity, 64)
	if avg <= 0 || exec <= 0 {
		return domain.Fill{}, fmt.Errorf("futures order %d reported no fill", order.OrderID)
	}
	return domain.Fill{Price: avg, Quantity: exec}, nil
}

// --- Account ---

func (f *FuturesAdapter) Position(ctx context.Context, pair string) (domain.Position, error) {
	risks, err := f.client.NewGetPositionRiskService().Symbol(pair).Do(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position risk %s: %w", pair, err)
	}

	for _, r := range risks {
		if r.Symbol != pair {
			continue
		}
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		return domain.Position{
			Quantity:      amt,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnL: pnl,
		}, nil
	}
	return domain.Position{}, nil
}

func (f *FuturesAdapter) AvailableUSDT(ctx context.Context) (float64, error) {
	acct, err := f.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("futures get account: %w", err)
	}
	for _, a := range acct.Assets {
		if a.Asset == "USDT" {
			return strconv.ParseFloat(a.AvailableBalance, 64)
		}
	}
	return 0, nil
}

func (f *FuturesAdapter) TransferIn(ctx context.Context, usd float64) error {
	return f.spot.TransferToFutures(ctx, usd)
}
