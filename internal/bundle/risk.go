package bundle

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// RiskConfig defines the MEV heuristic thresholds
type RiskConfig struct {
	// Newest TPS sample above SpikeMultiplier x the mean of the older ones
	SpikeMultiplier float64
	// Range of the recent prices (max - min) over their mean, as a fraction
	MaxPriceMove float64
	SampleLimit  int
	PriceWindow  int
}

// DefaultRiskConfig returns the thresholds used when none are configured
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		SpikeMultiplier: 2.0,
		MaxPriceMove:    0.10,
		SampleLimit:     5,
		PriceWindow:     3,
	}
}

// RiskCheckResult is the outcome of one assessment
type RiskCheckResult struct {
	Risky       bool
	Reason      string
	TPS         float64
	BaselineTPS float64
	PriceMove   float64
}

// RiskChecker looks for signs of competing activity around a mint before a
// snipe: a transaction-rate spike or a sharp recent price move.
type RiskChecker struct {
	config  RiskConfig
	samples SampleSource
	prices  PriceHistory
}

func NewRiskChecker(config RiskConfig, samples SampleSource, prices PriceHistory) *RiskChecker {
	def := DefaultRiskConfig()
	if config.SpikeMultiplier <= 0 {
		config.SpikeMultiplier = def.SpikeMultiplier
	}
	if config.MaxPriceMove <= 0 {
		config.MaxPriceMove = def.MaxPriceMove
	}
	if config.SampleLimit < 2 {
		config.SampleLimit = def.SampleLimit
	}
	if config.PriceWindow < 2 {
		config.PriceWindow = def.PriceWindow
	}
	return &RiskChecker{config: config, samples: samples, prices: prices}
}

// Check assesses mint. An error means the assessment could not be made;
// callers treat that as risky.
func (rc *RiskChecker) Check(ctx context.Context, mint solana.PublicKey) (*RiskCheckResult, error) {
	result := &RiskCheckResult{}

	// 1. Transaction-rate spike
	samples, err := rc.samples.GetRecentPerformanceSamples(ctx, rc.config.SampleLimit)
	if err != nil {
		return nil, fmt.Errorf("performance samples: %w", err)
	}
	if len(samples) < 2 {
		return nil, fmt.Errorf("need at least 2 performance samples, got %d", len(samples))
	}
	result.TPS = samples[0].TPS()
	var sum float64
	for _, s := range samples[1:] {
		sum += s.TPS()
	}
	result.BaselineTPS = sum / float64(len(samples)-1)
	if result.BaselineTPS > 0 && result.TPS > rc.config.SpikeMultiplier*result.BaselineTPS {
		result.Risky = true
		result.Reason = fmt.Sprintf("transaction rate spike: %.1f tps against baseline %.1f",
			result.TPS, result.BaselineTPS)
		return result, nil
	}

	// 2. Price volatility over the last few observations
	if _, err := rc.prices.Price(ctx, mint); err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	recent := rc.prices.Recent(mint, rc.config.PriceWindow)
	if len(recent) < 2 {
		return result, nil
	}
	result.PriceMove = priceSwing(recent)
	if result.PriceMove > rc.config.MaxPriceMove {
		result.Risky = true
		result.Reason = fmt.Sprintf("price swung %.2f%% of the recent mean, limit %.2f%%",
			result.PriceMove*100, rc.config.MaxPriceMove*100)
	}
	return result, nil
}

// priceSwing returns (max - min) / mean over the window
func priceSwing(prices []decimal.Decimal) float64 {
	sum := decimal.Zero
	lo, hi := prices[0], prices[0]
	for _, p := range prices {
		sum = sum.Add(p)
		lo = decimal.Min(lo, p)
		hi = decimal.Max(hi, p)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(prices))))
	if !mean.IsPositive() {
		return 0
	}
	f, _ := hi.Sub(lo).Div(mean).Float64()
	return f
}
