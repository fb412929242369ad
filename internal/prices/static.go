package prices

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Static is an oracle over manually set prices
type Static struct {
	mu     sync.RWMutex
	prices map[solana.PublicKey]decimal.Decimal
}

func NewStatic() *Static {
	return &Static{prices: make(map[solana.PublicKey]decimal.Decimal)}
}

func (s *Static) Set(mint solana.PublicKey, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[mint] = price
}

func (s *Static) Price(_ context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[mint]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", mint)
	}
	return p, nil
}
