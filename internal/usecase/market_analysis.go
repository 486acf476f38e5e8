package usecase

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/SAMEER05407/mytrading/internal/domain"
)

const (
	analysisInterval = "5m"
	analysisDepth    = 100

	// Spread of EMA9 over EMA20 below this share of price reads as sideways
	sidewaysThresholdPct = 0.15
	// ATR below this share of price reads as a dead market
	atrThresholdPct = 0.10
)

// KlineSource is the slice of a venue the analyzer needs.
type KlineSource interface {
	Klines(ctx context.Context, pair, interval string, limit int) ([]domain.Kline, error)
}

// MarketAnalyzer produces a pre-trade advisory from recent candles. It is
// advisory only: a flat or dead market is worth a warning because a fixed
// profit target may take very long to reach, but the trade is never
// blocked.
type MarketAnalyzer struct {
	source KlineSource
	logger *zap.Logger
}

func NewMarketAnalyzer(source KlineSource, logger *zap.Logger) *MarketAnalyzer {
	return &MarketAnalyzer{source: source, logger: logger}
}

// Advisory returns a cautionary message for pair, or "" when conditions
// look workable or data is unavailable.
func (a *MarketAnalyzer) Advisory(ctx context.Context, pair string) string {
	klines, err := a.source.Klines(ctx, pair, analysisInterval, analysisDepth)
	if err != nil {
		a.logger.Warn("market analysis skipped",
			zap.String("pair", pair),
			zap.Error(err))
		return ""
	}

	ema9, ok9 := ema(klines, 9)
	ema20, ok20 := ema(klines, 20)
	atr14, okATR := atr(klines, 14)
	if !ok9 || !ok20 || !okATR {
		return ""
	}
	price := klines[len(klines)-1].Close
	if price <= 0 {
		return ""
	}

	emaSlope := (ema9 - ema20) / price * 100
	atrPct := atr14 / price * 100

	var issues []string
	if math.Abs(emaSlope) < sidewaysThresholdPct {
		issues = append(issues, fmt.Sprintf("sideways market (EMA slope %.3f%%)", emaSlope))
	}
	if atrPct < atrThresholdPct {
		issues = append(issues, fmt.Sprintf("low volatility (ATR %.3f%%)", atrPct))
	}
	if len(issues) == 0 {
		return ""
	}

	return fmt.Sprintf(
		"⚠️ <b>Market condition warning for %s</b>\n%s\nA flat market can keep the position open for a long time.",
		pair, strings.Join(issues, "\n"))
}

// ema seeds with the simple average of the first period closes and folds in
// the rest with the standard 2/(period+1) multiplier.
func ema(klines []domain.Kline, period int) (float64, bool) {
	if period <= 0 || len(klines) < period {
		return 0, false
	}
	var sum float64
	for _, k := range klines[:period] {
		sum += k.Close
	}
	value := sum / float64(period)

	multiplier := 2 / float64(period+1)
	for _, k := range klines[period:] {
		value = (k.Close-value)*multiplier + value
	}
	return value, true
}

// atr averages the last period true ranges.
func atr(klines []domain.Kline, period int) (float64, bool) {
	if period <= 0 || len(klines) < period+1 {
		return 0, false
	}

	ranges := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		high, low, prevClose := klines[i].High, klines[i].Low, klines[i-1].Close
		tr := high - low
		if d := math.Abs(high - prevClose); d > tr {
			tr = d
		}
		if d := math.Abs(low - prevClose); d > tr {
			tr = d
		}
		ranges = append(ranges, tr)
	}

	var sum float64
	for _, tr := range ranges[len(ranges)-period:] {
		sum += tr
	}
	return sum / float64(period), true
}
