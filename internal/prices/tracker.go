// Package prices samples token prices and keeps a short history per mint.
package prices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/trade"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const DefaultDepth = 16

// Sink receives every sampled price, e.g. a cache
type Sink interface {
	UpdatePrice(ctx context.Context, mint string, price decimal.Decimal) error
}

type Sample struct {
	Price decimal.Decimal `json:"price"`
	At    time.Time       `json:"at"`
}

type TrackerConfig struct {
	Oracle trade.PriceOracle
	Depth  int
	Sink   Sink
	Logger *logrus.Logger
}

// Tracker is a PriceOracle that remembers what it returned
type Tracker struct {
	oracle trade.PriceOracle
	depth  int
	sink   Sink
	logger *logrus.Logger

	mu      sync.RWMutex
	history map[solana.PublicKey][]Sample
}

func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Depth < 3 {
		cfg.Depth = DefaultDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Tracker{
		oracle:  cfg.Oracle,
		depth:   cfg.Depth,
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		history: make(map[solana.PublicKey][]Sample),
	}
}

// Price fetches the current price and records it
func (t *Tracker) Price(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	p, err := t.oracle.Price(ctx, mint)
	if err != nil {
		return decimal.Zero, err
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("oracle returned non-positive price %s for %s", p, mint)
	}
	t.Record(mint, p)

	if t.sink != nil {
		if err := t.sink.UpdatePrice(ctx, mint.String(), p); err != nil {
			t.logger.WithError(err).WithField("mint", mint.String()).Warn("price sink update failed")
		}
	}
	return p, nil
}

// Record appends a sample, dropping the oldest beyond the configured depth
func (t *Tracker) Record(mint solana.PublicKey, p decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := append(t.history[mint], Sample{Price: p, At: time.Now()})
	if len(h) > t.depth {
		h = h[len(h)-t.depth:]
	}
	t.history[mint] = h
}

// Recent returns up to n of the newest prices, oldest first
func (t *Tracker) Recent(mint solana.PublicKey, n int) []decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := t.history[mint]
	if n < len(h) {
		h = h[len(h)-n:]
	}
	out := make([]decimal.Decimal, len(h))
	for i, s := range h {
		out[i] = s.Price
	}
	return out
}

// History returns every retained sample for mint, oldest first
func (t *Tracker) History(mint solana.PublicKey) []Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Sample(nil), t.history[mint]...)
}
