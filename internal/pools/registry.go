// Package pools resolves a token mint to the liquidity pool it trades in.
package pools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/aman-zulfiqar/solana-bundler/internal/trade"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

var ErrNotFound = errors.New("pool not found")

// PoolConfig represents a pool entry in the JSON config
type PoolConfig struct {
	Name      string `json:"name"`
	PoolID    string `json:"pool_id"`
	BaseMint  string `json:"base_mint"`
	QuoteMint string `json:"quote_mint"`
	Source    string `json:"source,omitempty"`
}

// Registry holds statically configured pools
type Registry struct {
	pools []trade.Pool
	names map[string]int
}

// NewRegistry builds a registry from already parsed pools
func NewRegistry(pools ...trade.Pool) *Registry {
	r := &Registry{names: map[string]int{}}
	for _, p := range pools {
		r.pools = append(r.pools, p)
	}
	return r
}

// LoadRegistry reads pools from a JSON file
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool config: %w", err)
	}

	var configs []PoolConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	r := NewRegistry()
	for i, cfg := range configs {
		pool, err := parsePoolConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("pool %d (%s): %w", i, cfg.Name, err)
		}
		if cfg.Name != "" {
			r.names[cfg.Name] = len(r.pools)
		}
		r.pools = append(r.pools, pool)
	}
	return r, nil
}

func parsePoolConfig(cfg PoolConfig) (trade.Pool, error) {
	id, err := solana.PublicKeyFromBase58(cfg.PoolID)
	if err != nil {
		return trade.Pool{}, fmt.Errorf("pool_id: %w", err)
	}
	base, err := solana.PublicKeyFromBase58(cfg.BaseMint)
	if err != nil {
		return trade.Pool{}, fmt.Errorf("base_mint: %w", err)
	}
	quote := trade.NativeMint
	if cfg.QuoteMint != "" {
		if quote, err = solana.PublicKeyFromBase58(cfg.QuoteMint); err != nil {
			return trade.Pool{}, fmt.Errorf("quote_mint: %w", err)
		}
	}
	source := cfg.Source
	if source == "" {
		source = "static"
	}
	return trade.Pool{ID: id, BaseMint: base, QuoteMint: quote, Source: source}, nil
}

// ResolvePool finds a pool for the pair in either direction
func (r *Registry) ResolvePool(_ context.Context, base, quote solana.PublicKey) (trade.Pool, error) {
	for _, p := range r.pools {
		if (p.BaseMint.Equals(base) && p.QuoteMint.Equals(quote)) ||
			(p.BaseMint.Equals(quote) && p.QuoteMint.Equals(base)) {
			return p, nil
		}
	}
	return trade.Pool{}, fmt.Errorf("%w for mints %s / %s", ErrNotFound, base, quote)
}

// FindPoolByName searches for a pool by its configured name
func (r *Registry) FindPoolByName(name string) (trade.Pool, error) {
	i, ok := r.names[name]
	if !ok {
		return trade.Pool{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return r.pools[i], nil
}

func (r *Registry) Pools() []trade.Pool {
	return append([]trade.Pool(nil), r.pools...)
}

func (r *Registry) Len() int {
	return len(r.pools)
}

// Chain tries each resolver in order and returns the first hit
type Chain struct {
	resolvers []trade.PoolResolver
	logger    *logrus.Logger
}

func NewChain(logger *logrus.Logger, resolvers ...trade.PoolResolver) *Chain {
	if logger == nil {
		logger = logrus.New()
	}
	return &Chain{resolvers: resolvers, logger: logger}
}

func (c *Chain) ResolvePool(ctx context.Context, base, quote solana.PublicKey) (trade.Pool, error) {
	var errs []error
	for _, r := range c.resolvers {
		p, err := r.ResolvePool(ctx, base, quote)
		if err == nil {
			return p, nil
		}
		c.logger.WithError(err).WithField("mint", base.String()).Debug("pool resolver missed")
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return trade.Pool{}, fmt.Errorf("%w: no resolvers configured", ErrNotFound)
	}
	return trade.Pool{}, errors.Join(errs...)
}
