// Package trade describes the trade-execution collaborator: how a buy or
// sell for one wallet becomes instructions, and the fee/tip instructions
// bundles attach to them.
package trade

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// NativeMint is wrapped SOL, the quote asset pools are resolved against
var NativeMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Pool is a resolved liquidity pool
type Pool struct {
	ID        solana.PublicKey `json:"poolId"`
	BaseMint  solana.PublicKey `json:"baseMint"`
	QuoteMint solana.PublicKey `json:"quoteMint"`
	Source    string           `json:"source"`
}

// Leg is one wallet's side of a trade. Amount is in lamports of the quote
// asset for buys and base units for sells.
type Leg struct {
	Wallet solana.PublicKey
	Side   Side
	Amount uint64
}

// PoolResolver finds the pool trading base against quote
type PoolResolver interface {
	ResolvePool(ctx context.Context, base, quote solana.PublicKey) (Pool, error)
}

// PriceOracle returns the current price of mint in the quote asset
type PriceOracle interface {
	Price(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error)
}

// Builder turns a leg into swap instructions against pool
type Builder interface {
	BuildSwap(ctx context.Context, pool Pool, leg Leg) ([]solana.Instruction, error)
}

// NewTransaction assembles ixs into an unsigned legacy transaction
func NewTransaction(ixs []solana.Instruction, payer solana.PublicKey, blockhash solana.Hash) (*solana.Transaction, error) {
	if len(ixs) == 0 {
		return nil, fmt.Errorf("transaction has no instructions")
	}
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	return tx, nil
}
