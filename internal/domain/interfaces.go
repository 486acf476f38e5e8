package domain

import "context"

// Exchange is the spot venue the assistant trades on.
type Exchange interface {
	// SymbolExists reports whether pair is listed and currently tradable.
	SymbolExists(ctx context.Context, pair string) (bool, error)
	// MarketBuy spends usdAmount of quote currency at market.
	MarketBuy(ctx context.Context, pair string, usdAmount float64) (Fill, error)
	// MarketSell sells up to quantity of the base asset at market.
	MarketSell(ctx context.Context, pair string, quantity float64) (Fill, error)
	GetPrice(ctx context.Context, pair string) (float64, error)
	// AssetBalance returns the free balance of one asset, e.g. "BTC".
	AssetBalance(ctx context.Context, asset string) (float64, error)
	Klines(ctx context.Context, pair, interval string, limit int) ([]Kline, error)
}

// FuturesExchange is the USDT-margined futures venue.
type FuturesExchange interface {
	SymbolExists(ctx context.Context, pair string) (bool, error)
	GetPrice(ctx context.Context, pair string) (float64, error)
	SetLeverage(ctx context.Context, pair string, leverage int) error
	// MarketOpen enters a position on the given side.
	MarketOpen(ctx context.Context, pair string, side Side, quantity float64) (Fill, error)
	// MarketClose exits a position on the given side with a reduce-only
	// market order on the opposite side.
	MarketClose(ctx context.Context, pair string, side Side, quantity float64) (Fill, error)
	Position(ctx context.Context, pair string) (Position, error)
	AvailableUSDT(ctx context.Context) (float64, error)
	// TransferIn moves usd of USDT from the spot wallet to the futures wallet.
	TransferIn(ctx context.Context, usd float64) error
}

// Notifier delivers user-facing messages. Best effort: a failed send is
// logged by the caller and never rolls back or retries a trade action.
type Notifier interface {
	Send(text string) error
}
