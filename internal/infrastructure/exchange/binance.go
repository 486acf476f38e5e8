package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"github.com/SAMEER05407/mytrading/internal/domain"
)

// BinanceAdapter implements domain.Exchange on the Binance spot API.
type BinanceAdapter struct {
	client *binance.Client

	mu    sync.Mutex
	rules map[string]lotRule // pair -> LOT_SIZE filter, filled on symbol lookup
}

// lotRule is the venue's LOT_SIZE constraint for one symbol.
type lotRule struct {
	stepSize  float64
	minQty    float64
	precision int
}

func NewBinanceAdapter(apiKey, apiSecret string) *BinanceAdapter {
	return &BinanceAdapter{
		client: binance.NewClient(apiKey, apiSecret),
		rules:  make(map[string]lotRule),
	}
}

// --- Symbol info ---

func (b *BinanceAdapter) SymbolExists(ctx context.Context, pair string) (bool, error) {
	info, err := b.client.NewExchangeInfoService().Symbol(pair).Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -1121 {
			// -1121: invalid symbol
			return false, nil
		}
		return false, fmt.Errorf("exchange info: %w", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != pair || s.Status != "TRADING" {
			continue
		}
		if f := s.LotSizeFilter(); f != nil {
			b.storeRule(pair, f.StepSize, f.MinQuantity)
		}
		return true, nil
	}
	return false, nil
}

func (b *BinanceAdapter) storeRule(pair, stepSize, minQty string) {
	step, err := strconv.ParseFloat(stepSize, 64)
	if err != nil || step <= 0 {
		return
	}
	min, _ := strconv.ParseFloat(minQty, 64)

	b.mu.Lock()
	b.rules[pair] = lotRule{
		stepSize:  step,
		minQty:    min,
		precision: stepPrecision(stepSize),
	}
	b.mu.Unlock()
}

func (b *BinanceAdapter) lotRuleFor(ctx context.Context, pair string) (lotRule, error) {
	b.mu.Lock()
	rule, ok := b.rules[pair]
	b.mu.Unlock()
	if ok {
		return rule, nil
	}

	exists, err := b.SymbolExists(ctx, pair)
	if err != nil {
		return lotRule{}, err
	}
	if !exists {
		return lotRule{}, fmt.Errorf("unknown symbol %s", pair)
	}

	b.mu.Lock()
	rule, ok = b.rules[pair]
	b.mu.Unlock()
	if !ok {
		return lotRule{}, fmt.Errorf("no LOT_SIZE filter for %s", pair)
	}
	return rule, nil
}

// --- Orders ---

func (b *BinanceAdapter) MarketBuy(ctx context.Context, pair string, usdAmount float64) (domain.Fill, error) {
	order, err := b.client.NewCreateOrderService().
		Symbol(pair).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(formatFloat(usdAmount, 2)).
		Do(ctx)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("market buy %s: %w", pair, err)
	}
	return b.fillFromOrder(ctx, pair, order)
}

func (b *BinanceAdapter) MarketSell(ctx context.Context, pair string, quantity float64) (domain.Fill, error) {
	// Fees are taken in the base asset, so the account may hold slightly
	// less than the recorded quantity. Sell what is actually there.
	free, err := b.AssetBalance(ctx, strings.TrimSuffix(pair, "USDT"))
	if err != nil {
		return domain.Fill{}, err
	}
	if free < quantity {
		quantity = free
	}

	rule, err := b.lotRuleFor(ctx, pair)
	if err != nil {
		return domain.Fill{}, err
	}
	qty := floorToStep(quantity, rule.stepSize)
	if qty < rule.minQty || qty <= 0 {
		return domain.Fill{}, fmt.Errorf("sell quantity %s below venue minimum %s for %s",
			formatFloat(qty, rule.precision), formatFloat(rule.minQty, rule.precision), pair)
	}

	order, err := b.client.NewCreateOrderService().
		Symbol(pair).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(formatFloat(qty, rule.precision)).
		Do(ctx)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("market sell %s: %w", pair, err)
	}
	return b.fillFromOrder(ctx, pair, order)
}

// fillFromOrder derives the average execution price. Market orders normally
// report fills inline; when they do not, the order is re-queried after a
// short delay.
func (b *BinanceAdapter) fillFromOrder(ctx context.Context, pair string, order *binance.CreateOrderResponse) (domain.Fill, error) {
	qty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	if len(order.Fills) > 0 {
		var quote, base float64
		for _, f := range order.Fills {
			p, _ := strconv.ParseFloat(f.Price, 64)
			q, _ := strconv.ParseFloat(f.Quantity, 64)
			quote += p * q
			base += q
		}
		if base > 0 && qty > 0 {
			return domain.Fill{Price: quote / base, Quantity: qty}, nil
		}
	}

	time.Sleep(500 * time.Millisecond)
	got, err := b.client.NewGetOrderService().Symbol(pair).OrderID(order.OrderID).Do(ctx)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("get order %d: %w", order.OrderID, err)
	}
	exec, _ := strconv.ParseFloat(got.ExecutedQuantity, 64)
	cum, _ := strconv.ParseFloat(got.CummulativeQuoteQuantity, 64)
	if exec <= 0 {
		return domain.Fill{}, fmt.Errorf("order %d reported no executed quantity", order.OrderID)
	}
	return domain.Fill{Price: cum / exec, Quantity: exec}, nil
}

// --- Market data ---

func (b *BinanceAdapter) GetPrice(ctx context.Context, pair string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("list prices %s: %w", pair, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", pair)
	}
	return strconv.ParseFloat(prices[0].Price, 64)
}

func (b *BinanceAdapter) Klines(ctx context.Context, pair, interval string, limit int) ([]domain.Kline, error) {
	raw, err := b.client.NewKlinesService().
		Symbol(pair).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", pair, interval, err)
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

// --- Account ---

func (b *BinanceAdapter) AssetBalance(ctx context.Context, asset string) (float64, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("get account: %w", err)
	}

	for _, bal := range acct.Balances {
		if bal.Asset == asset {
			free, _ := strconv.ParseFloat(bal.Free, 64)
			return free, nil
		}
	}
	return 0, nil
}

// TransferToFutures moves USDT from the spot wallet to the futures wallet.
func (b *BinanceAdapter) TransferToFutures(ctx context.Context, usd float64) error {
	_, err := b.client.NewFuturesTransferService().
		Asset("USDT").
		Amount(formatFloat(usd, 8)).
		Type(binance.FuturesTransferTypeToFutures).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("transfer to futures: %w", err)
	}
	return nil
}

// --- Helpers ---

func formatFloat(v float64, precision int) string {
	return strconv.FormatFloat(v, 'f', precision, 64)
}

func floorToStep(quantity, step float64) float64 {
	if step <= 0 {
		return quantity
	}
	return math.Floor(quantity/step) * step
}

// stepPrecision counts the significant decimals of a step size string such
// as "0.00100000" (-> 3). Integer steps round to whole units.
func stepPrecision(step string) int {
	i := strings.IndexByte(step, '.')
	if i < 0 {
		return 0
	}
	frac := strings.TrimRight(step[i+1:], "0")
	return len(frac)
}
