package domain

import "time"

// Trade is the single mutable record describing zero-or-one open spot
// position. One instance exists per process, owned by the trade engine and
// reset in place when the position closes.
type Trade struct {
	Active       bool
	Pair         string
	USDAmount    float64
	ProfitTarget float64 // absolute USD gain that triggers the close
	StopLoss     float64 // absolute USD loss that triggers the close, 0 = disabled
	BuyPrice     float64
	Quantity     float64
	CurrentPrice float64
	StartedAt    time.Time
}

// Reset clears the record so the single instance can be reused.
func (t *Trade) Reset() {
	*t = Trade{}
}

// TradeView is an immutable copy of the trade record handed to callers, with
// profit figures computed from the copied fields.
type TradeView struct {
	Pair          string
	USDAmount     float64
	ProfitTarget  float64
	StopLoss      float64
	BuyPrice      float64
	Quantity      float64
	CurrentPrice  float64
	StartedAt     time.Time
	CurrentProfit float64
	ProgressPct   float64
}

// FuturesTrade mirrors Trade for the USDT-margined futures position. PnL is
// the mark-to-entry difference signed for the side, so the same target and
// stop thresholds work for longs and shorts.
type FuturesTrade struct {
	Active       bool
	Pair         string
	Side         Side
	USDAmount    float64
	Leverage     int
	ProfitTarget float64
	StopLoss     float64
	EntryPrice   float64
	Quantity     float64
	MarkPrice    float64
	PnL          float64
	StartedAt    time.Time
}

func (t *FuturesTrade) Reset() {
	*t = FuturesTrade{}
}

type FuturesView struct {
	Pair         string
	Side         Side
	USDAmount    float64
	Leverage     int
	ProfitTarget float64
	StopLoss     float64
	EntryPrice   float64
	Quantity     float64
	MarkPrice    float64
	PnL          float64
	StartedAt    time.Time
	ProgressPct  float64
}

// Fill is the outcome of a market order: average execution price and the
// base-asset quantity actually traded.
type Fill struct {
	Price    float64
	Quantity float64
}

// Kline is one OHLC candle, oldest-first in slices.
type Kline struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Position is the venue's view of an open futures position.
type Position struct {
	Quantity      float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
}
