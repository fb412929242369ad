package orders

import (
	"context"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/trade"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuted  Status = "executed"
	StatusCancelled Status = "cancelled"
)

// LimitOrder triggers a buy at or below Price, or a sell at or above it.
// Amount is lamports for buys and base units for sells.
type LimitOrder struct {
	ID         string           `json:"id"`
	Wallet     solana.PublicKey `json:"wallet"`
	TokenMint  solana.PublicKey `json:"tokenMint"`
	Amount     uint64           `json:"amount"`
	Price      decimal.Decimal  `json:"price"`
	Side       trade.Side       `json:"side"`
	Status     Status           `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
	ExpiresAt  time.Time        `json:"expiresAt"`
	ExecutedAt *time.Time       `json:"executedAt,omitempty"`
	Signature  string           `json:"signature,omitempty"`
	LastError  string           `json:"lastError,omitempty"`
}

// Triggered reports whether price crosses the order's limit
func (o *LimitOrder) Triggered(price decimal.Decimal) bool {
	if o.Side == trade.SideBuy {
		return price.LessThanOrEqual(o.Price)
	}
	return price.GreaterThanOrEqual(o.Price)
}

func (o *LimitOrder) clone() *LimitOrder {
	c := *o
	if o.ExecutedAt != nil {
		t := *o.ExecutedAt
		c.ExecutedAt = &t
	}
	return &c
}

// OrderRequest is the input to CreateOrder
type OrderRequest struct {
	Wallet solana.PublicKey
	Mint   solana.PublicKey
	Amount uint64
	Price  decimal.Decimal
	Side   trade.Side
	TTL    time.Duration
}

// Executor submits a triggered order and returns its signature
type Executor interface {
	ExecuteOrder(ctx context.Context, order *LimitOrder) (solana.Signature, error)
}

// Store persists orders across restarts
type Store interface {
	Save(ctx context.Context, o *LimitOrder) error
	List(ctx context.Context) ([]*LimitOrder, error)
}
