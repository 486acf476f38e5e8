package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/SAMEER05407/mytrading/internal/infrastructure/exchange"
)

// Connectivity probe: run before pointing the bot at real money.
func main() {
	_ = godotenv.Load()

	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		fmt.Println("BINANCE_API_KEY and BINANCE_API_SECRET must be set")
		os.Exit(1)
	}

	pair := "BTCUSDT"
	if len(os.Args) > 1 {
		pair = strings.ToUpper(os.Args[1])
	}

	fmt.Println("Testing Binance Interaction...")
	fmt.Printf("API Key: %s...\n", apiKey[:4])
	fmt.Printf("Pair: %s\n", pair)

	spot := exchange.NewBinanceAdapter(apiKey, apiSecret)
	futures := exchange.NewFuturesAdapter(apiKey, apiSecret, spot)
	ctx := context.Background()
	failed := false

	// 1. Check Symbol
	exists, err := spot.SymbolExists(ctx, pair)
	if err != nil {
		fmt.Printf("❌ Failed to check symbol: %v\n", err)
		failed = true
	} else if !exists {
		fmt.Printf("❌ Symbol %s is not tradable\n", pair)
		failed = true
	} else {
		fmt.Printf("✅ Symbol %s is tradable\n", pair)
	}

	// 2. Check Public Endpoint (Price)
	price, err := spot.GetPrice(ctx, pair)
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ Current Price (%s): %f\n", pair, price)
	}

	// 3. Check Private Endpoint (Balance)
	balance, err := spot.AssetBalance(ctx, "USDT")
	if err != nil {
		fmt.Printf("❌ Failed to get balance: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ Spot Balance: %.2f USDT\n", balance)
	}

	// 4. Check Futures Wallet
	futuresBalance, err := futures.AvailableUSDT(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get futures balance: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ Futures Balance: %.2f USDT\n", futuresBalance)
	}

	if failed {
		os.Exit(1)
	}
}
