package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/SAMEER05407/mytrading/internal/domain"
	"github.com/SAMEER05407/mytrading/internal/usecase"
)

// mockFutures scripts the futures venue. The monitor goroutine reads the
// position concurrently with the test, so everything goes through the mutex.
type mockFutures struct {
	mu sync.Mutex

	SymbolMissing     bool
	SymbolErr         error
	symbolExistsCalls int

	Price    float64
	PriceErr error

	LeverageErr error
	leverageSet int

	OpenErr      error
	openCalls    int
	lastOpenSide domain.Side
	lastOpenQty  float64

	CloseErr      error
	closeCalls    int
	lastCloseSide domain.Side
	lastCloseQty  float64

	position    domain.Position
	positionErr error

	Available    float64
	AvailableErr error

	TransferErr error
	transfers   []float64
}

func (m *mockFutures) SymbolExists(ctx context.Context, pair string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbolExistsCalls++
	return !m.SymbolMissing, m.SymbolErr
}

func (m *mockFutures) GetPrice(ctx context.Context, pair string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Price, m.PriceErr
}

func (m *mockFutures) SetLeverage(ctx context.Context, pair string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LeverageErr != nil {
		return m.LeverageErr
	}
	m.leverageSet = leverage
	return nil
}

func (m *mockFutures) MarketOpen(ctx context.Context, pair string, side domain.Side, quantity float64) (domain.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCalls++
	m.lastOpenSide = side
	m.lastOpenQty = quantity
	if m.OpenErr != nil {
		return domain.Fill{}, m.OpenErr
	}
	return domain.Fill{Price: m.Price, Quantity: quantity}, nil
}

func (m *mockFutures) MarketClose(ctx context.Context, pair string, side domain.Side, quantity float64) (domain.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	m.lastCloseSide = side
	m.lastCloseQty = quantity
	if m.CloseErr != nil {
		return domain.Fill{}, m.CloseErr
	}
	price := m.position.MarkPrice
	if price == 0 {
		price = m.Price
	}
	return domain.Fill{Price: price, Quantity: quantity}, nil
}

func (m *mockFutures) Position(ctx context.Context, pair string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position, m.positionErr
}

func (m *mockFutures) AvailableUSDT(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Available, m.AvailableErr
}

func (m *mockFutures) TransferIn(ctx context.Context, usd float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TransferErr != nil {
		return m.TransferErr
	}
	m.transfers = append(m.transfers, usd)
	return nil
}

func (m *mockFutures) SetPosition(p domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = p
}

func (m *mockFutures) SetCloseErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseErr = err
}

func (m *mockFutures) OpenCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCalls
}

func (m *mockFutures) LastOpen() (domain.Side, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpenSide, m.lastOpenQty
}

func (m *mockFutures) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

func (m *mockFutures) LastClose() (domain.Side, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCloseSide, m.lastCloseQty
}

func (m *mockFutures) LeverageSet() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leverageSet
}

func (m *mockFutures) Transfers() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.transfers))
	copy(out, m.transfers)
	return out
}

func (m *mockFutures) SymbolExistsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.symbolExistsCalls
}

func newTestFuturesEngine(t *testing.T, fmock *mockFutures, spot *mockExchange, notifier *mockNotifier, tick time.Duration) *usecase.FuturesEngine {
	t.Helper()
	engine := usecase.NewFuturesEngine(fmock, spot, notifier, nil, zap.NewNop(), tick)
	t.Cleanup(engine.Shutdown)
	return engine
}

func TestOpenFutures_RejectsBadInput(t *testing.T) {
	cases := []struct {
		name      string
		pair      string
		side      domain.Side
		amount    float64
		leverage  int
		profit    float64
		stop      float64
		wantField string
	}{
		{"amount below minimum", "BTCUSDT", domain.SideLong, 5, 5, 0.5, 0, "amount"},
		{"zero leverage", "BTCUSDT", domain.SideLong, 20, 0, 0.5, 0, "leverage"},
		{"leverage above cap", "BTCUSDT", domain.SideLong, 20, 21, 0.5, 0, "leverage"},
		{"zero profit target", "BTCUSDT", domain.SideLong, 20, 5, 0, 0, "profit"},
		{"negative stop loss", "BTCUSDT", domain.SideLong, 20, 5, 0.5, -0.1, "stop loss"},
		{"unparsed side", "BTCUSDT", domain.Side("SIDEWAYS"), 20, 5, 0.5, 0, "side"},
		{"not a USDT pair", "BTCETH", domain.SideLong, 20, 5, 0.5, 0, "pair"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fmock := &mockFutures{Price: 100, Available: 1000}
			engine := newTestFuturesEngine(t, fmock, &mockExchange{}, &mockNotifier{}, time.Hour)

			_, err := engine.OpenFutures(context.Background(), tc.pair, tc.side, tc.amount, tc.leverage, tc.profit, tc.stop)

			var vErr *domain.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tc.wantField {
				t.Errorf("expected field %q, got %q", tc.wantField, vErr.Field)
			}
			if fmock.OpenCalls() != 0 {
				t.Error("no order may be placed on invalid input")
			}
			if len(fmock.Transfers()) != 0 {
				t.Error("no margin may move on invalid input")
			}
		})
	}
}

func TestOpenFutures_BadPairRejectedBeforeAnyNetworkCall(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, &mockNotifier{}, time.Hour)

	_, err := engine.OpenFutures(context.Background(), "BTCETH", domain.SideLong, 20, 5, 0.5, 0)

	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fmock.SymbolExistsCalls() != 0 {
		t.Error("format must be checked before the venue is contacted")
	}
}

func TestOpenFutures_RejectsUnknownSymbol(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000, SymbolMissing: true}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, &mockNotifier{}, time.Hour)

	_, err := engine.OpenFutures(context.Background(), "NOPEUSDT", domain.SideLong, 20, 5, 0.5, 0)

	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if vErr.Field != "pair" {
		t.Errorf("expected field pair, got %q", vErr.Field)
	}
}

func TestOpenFutures_ComputesLeveragedQuantity(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, &mockNotifier{}, time.Hour)

	view, err := engine.OpenFutures(context.Background(), "btcusdt", domain.SideLong, 20, 5, 1, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// 20 USDT at 5x buys 100 USDT of exposure: 1.0 BTC at price 100
	side, qty := fmock.LastOpen()
	if side != domain.SideLong || !floatEquals(qty, 1.0) {
		t.Errorf("expected LONG 1.0, got %s %f", side, qty)
	}
	if fmock.LeverageSet() != 5 {
		t.Errorf("leverage must be set on the venue before the order, got %d", fmock.LeverageSet())
	}
	if view.Pair != "BTCUSDT" || view.Side != domain.SideLong ||
		!floatEquals(view.EntryPrice, 100) || !floatEquals(view.Quantity, 1.0) ||
		view.Leverage != 5 {
		t.Errorf("view incomplete: %+v", view)
	}
	if len(fmock.Transfers()) != 0 {
		t.Error("wallet already covered the margin, no transfer expected")
	}
	if _, ok := engine.FuturesSnapshot(); !ok {
		t.Error("snapshot must report the open position")
	}
}

func TestOpenFutures_TransfersShortfallFromSpot(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 5}
	spot := &mockExchange{BalanceSet: true, Balance: 100}
	notifier := &mockNotifier{}
	engine := newTestFuturesEngine(t, fmock, spot, notifier, time.Hour)

	if _, err := engine.OpenFutures(context.Background(), "BTCUSDT", domain.SideLong, 20, 5, 1, 0); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	transfers := fmock.Transfers()
	if len(transfers) != 1 || !floatEquals(transfers[0], 15) {
		t.Fatalf("expected one transfer of 15 USDT, got %v", transfers)
	}
	if !notifier.Contains("Transferring 15.00 USDT") {
		t.Error("transfer must be announced before it happens")
	}
}

func TestOpenFutures_InsufficientSpotBalance(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 5}
	spot := &mockExchange{BalanceSet: true, Balance: 10} // needs 15
	engine := newTestFuturesEngine(t, fmock, spot, &mockNotifier{}, time.Hour)

	_, err := engine.OpenFutures(context.Background(), "BTCUSDT", domain.SideLong, 20, 5, 1, 0)

	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if vErr.Field != "balance" {
		t.Errorf("expected field balance, got %q", vErr.Field)
	}
	if len(fmock.Transfers()) != 0 || fmock.OpenCalls() != 0 {
		t.Error("neither transfer nor order may happen without funds")
	}
}

func TestOpenFutures_HighLeverageWarnsAndProceeds(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000}
	notifier := &mockNotifier{}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, notifier, time.Hour)

	if _, err := engine.OpenFutures(context.Background(), "BTCUSDT", domain.SideLong, 20, 12, 1, 0); err != nil {
		t.Fatalf("high leverage must warn, not block: %v", err)
	}
	if !notifier.Contains("Leverage 12x") {
		t.Error("expected a risk warning for 12x leverage")
	}
	if fmock.LeverageSet() != 12 {
		t.Errorf("leverage must still be applied, got %d", fmock.LeverageSet())
	}
}

func TestOpenFutures_SecondOpenRejected(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, &mockNotifier{}, time.Hour)
	ctx := context.Background()

	if _, err := engine.OpenFutures(ctx, "BTCUSDT", domain.SideLong, 20, 5, 1, 0); err != nil {
		t.Fatalf("first open failed: %v", err)
	}

	_, err := engine.OpenFutures(ctx, "ETHUSDT", domain.SideShort, 20, 5, 1, 0)
	if !errors.Is(err, domain.ErrFuturesActive) {
		t.Fatalf("expected ErrFuturesActive, got %v", err)
	}
	if fmock.OpenCalls() != 1 {
		t.Errorf("second order must not reach the venue, got %d opens", fmock.OpenCalls())
	}
}

func TestFuturesMonitor_ClosesLongAtTarget(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000}
	// Mark price present before the first tick; 0.6 above a 100 entry on
	// quantity 2 is 1.2 USDT, past the 1.0 target.
	fmock.position = domain.Position{Quantity: 2, MarkPrice: 100.6}
	notifier := &mockNotifier{}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, notifier, 5*time.Millisecond)

	if _, err := engine.OpenFutures(context.Background(), "BTCUSDT", domain.SideLong, 40, 5, 1, 0); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool { return fmock.CloseCalls() > 0 })
	waitUntil(t, 2*time.Second, func() bool { return notifier.Contains("Futures target hit") })

	side, qty := fmock.LastClose()
	if side != domain.SideLong || !floatEquals(qty, 2) {
		t.Errorf("close must exit the recorded LONG 2.0, got %s %f", side, qty)
	}
	waitUntil(t, 2*time.Second, func() bool {
		_, ok := engine.FuturesSnapshot()
		return !ok
	})
}

func TestFuturesMonitor_ShortProfitsFromFallingMark(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000}
	// For a short the sign flips: mark 0.6 below entry on quantity 2 is
	// +1.2 USDT. The venue reports shorts as negative position amounts.
	fmock.position = domain.Position{Quantity: -2, MarkPrice: 99.4}
	notifier := &mockNotifier{}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, notifier, 5*time.Millisecond)

	if _, err := engine.OpenFutures(context.Background(), "BTCUSDT", domain.SideShort, 40, 5, 1, 0); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool { return notifier.Contains("Futures target hit") })

	side, qty := fmock.LastClose()
	if side != domain.SideShort || !floatEquals(qty, 2) {
		t.Errorf("close must exit the SHORT with its absolute size, got %s %f", side, qty)
	}
}

func TestFuturesMonitor_StopLossCloses(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000}
	// Long under water: mark 0.6 below entry on quantity 2 is -1.2 USDT,
	// past the 1.0 stop.
	fmock.position = domain.Position{Quantity: 2, MarkPrice: 99.4}
	notifier := &mockNotifier{}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, notifier, 5*time.Millisecond)

	if _, err := engine.OpenFutures(context.Background(), "BTCUSDT", domain.SideLong, 40, 5, 50, 1); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool { return notifier.Contains("Futures stop loss") })
	if fmock.CloseCalls() == 0 {
		t.Error("stop loss must close the position")
	}
}

func TestFuturesMonitor_HoldsBelowTarget(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000}
	// +0.8 USDT against a 1.0 target: hold
	fmock.position = domain.Position{Quantity: 2, MarkPrice: 100.4}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, &mockNotifier{}, 5*time.Millisecond)

	if _, err := engine.OpenFutures(context.Background(), "BTCUSDT", domain.SideLong, 40, 5, 1, 0); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// Let a few ticks pass; nothing may close
	time.Sleep(50 * time.Millisecond)
	if fmock.CloseCalls() != 0 {
		t.Fatalf("position closed below target: %d close calls", fmock.CloseCalls())
	}

	// The record tracks the ticking mark price
	waitUntil(t, 2*time.Second, func() bool {
		view, ok := engine.FuturesSnapshot()
		return ok && floatEquals(view.MarkPrice, 100.4) && floatEquals(view.PnL, 0.8)
	})

	// Mark moves past the target; the next tick closes
	fmock.SetPosition(domain.Position{Quantity: 2, MarkPrice: 100.6})
	waitUntil(t, 2*time.Second, func() bool { return fmock.CloseCalls() == 1 })
}

func TestFuturesMonitor_AdoptsVenueQuantityDrift(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000}
	// Venue reports 1.5 where 2.0 was recorded (partial external close)
	fmock.position = domain.Position{Quantity: 1.5, MarkPrice: 100.1}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, &mockNotifier{}, 5*time.Millisecond)

	if _, err := engine.OpenFutures(context.Background(), "BTCUSDT", domain.SideLong, 40, 5, 100, 0); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		view, ok := engine.FuturesSnapshot()
		return ok && floatEquals(view.Quantity, 1.5)
	})

	// PnL follows the adopted size: 0.1 * 1.5
	waitUntil(t, 2*time.Second, func() bool {
		view, ok := engine.FuturesSnapshot()
		return ok && floatEquals(view.PnL, 0.15)
	})
}

func TestFuturesMonitor_DetectsExternalClose(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000}
	// Dust far below 1% of the recorded 2.0
	fmock.position = domain.Position{Quantity: 0.001, MarkPrice: 100}
	notifier := &mockNotifier{}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, notifier, 5*time.Millisecond)

	if _, err := engine.OpenFutures(context.Background(), "BTCUSDT", domain.SideLong, 40, 5, 1, 0); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := engine.FuturesSnapshot()
		return !ok
	})
	waitUntil(t, 2*time.Second, func() bool { return notifier.Contains("closed externally") })

	if fmock.CloseCalls() != 0 {
		t.Errorf("nothing left on the venue to close, got %d close calls", fmock.CloseCalls())
	}
}

func TestFuturesMonitor_RetriesFailedClose(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000}
	fmock.position = domain.Position{Quantity: 2, MarkPrice: 100.6}
	fmock.CloseErr = errors.New("venue rejected")
	notifier := &mockNotifier{}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, notifier, 5*time.Millisecond)

	if _, err := engine.OpenFutures(context.Background(), "BTCUSDT", domain.SideLong, 40, 5, 1, 0); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// 1. Failed exits keep the record alive
	waitUntil(t, 2*time.Second, func() bool { return fmock.CloseCalls() >= 3 })
	if _, ok := engine.FuturesSnapshot(); !ok {
		t.Fatal("position must stay recorded while closes fail")
	}

	// 2. Venue recovers; the retry lands
	fmock.SetCloseErr(nil)
	waitUntil(t, 2*time.Second, func() bool {
		_, ok := engine.FuturesSnapshot()
		return !ok
	})
	waitUntil(t, 2*time.Second, func() bool { return notifier.Contains("Futures target hit") })
}

func TestFuturesMonitor_ExternalCloseDuringRetriesReportsExternal(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000}
	fmock.position = domain.Position{Quantity: 2, MarkPrice: 100.6}
	fmock.CloseErr = errors.New("venue rejected")
	notifier := &mockNotifier{}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, notifier, 5*time.Millisecond)

	if _, err := engine.OpenFutures(context.Background(), "BTCUSDT", domain.SideLong, 40, 5, 1, 0); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// 1. Target hit but the exit keeps failing
	waitUntil(t, 2*time.Second, func() bool { return fmock.CloseCalls() >= 2 })

	// 2. The position vanishes on the venue mid-retry
	fmock.SetPosition(domain.Position{Quantity: 0.001, MarkPrice: 100.6})
	waitUntil(t, 2*time.Second, func() bool {
		_, ok := engine.FuturesSnapshot()
		return !ok
	})
	waitUntil(t, 2*time.Second, func() bool { return notifier.Contains("closed externally") })

	if notifier.Contains("Futures target hit") {
		t.Error("an externally closed position must not report a target close")
	}
	closes := fmock.CloseCalls()
	time.Sleep(30 * time.Millisecond)
	if fmock.CloseCalls() != closes {
		t.Error("no further exit attempts once the position is gone")
	}
}

func TestFuturesPnLSignsForSide(t *testing.T) {
	fmock := &mockFutures{Price: 100, Available: 1000}
	fmock.position = domain.Position{Quantity: -2, MarkPrice: 100.6}
	notifier := &mockNotifier{}
	engine := newTestFuturesEngine(t, fmock, &mockExchange{}, notifier, 5*time.Millisecond)

	// A short loses when the mark rises: -1.2 USDT against stop 1.0
	if _, err := engine.OpenFutures(context.Background(), "BTCUSDT", domain.SideShort, 40, 5, 50, 1); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool { return notifier.Contains("Futures stop loss") })
	if fmock.CloseCalls() != 1 {
		t.Errorf("expected exactly one close, got %d", fmock.CloseCalls())
	}
}
