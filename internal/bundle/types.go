package bundle

import (
	"context"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/aman-zulfiqar/solana-bundler/internal/queue"
	"github.com/aman-zulfiqar/solana-bundler/internal/rpc"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// MinCleanWallets is the smallest clean-wallet set an MEV bundle accepts
const MinCleanWallets = 20

// Signer signs with stored wallet keys
type Signer interface {
	SignTransaction(tx *solana.Transaction, signers ...solana.PublicKey) error
}

// Enqueuer hands transactions to the transaction queue
type Enqueuer interface {
	AddToQueue(tx *solana.Transaction, signers []solana.PublicKey, priority queue.PriorityClass, cfg queue.TransactionConfig) *queue.Ticket
}

// Limiter gates outbound submissions. The connection manager's bucket is
// shared so fast sends and RPC sends count against one aggregate rate.
type Limiter interface {
	Wait(ctx context.Context) error
}

type BlockhashSource interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
}

type Confirmer interface {
	ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) bool
}

// SampleSource provides network performance samples, newest first
type SampleSource interface {
	GetRecentPerformanceSamples(ctx context.Context, limit int) ([]rpc.PerformanceSample, error)
}

// PriceHistory fetches a price and remembers the last few it saw
type PriceHistory interface {
	Price(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error)
	Recent(mint solana.PublicKey, n int) []decimal.Decimal
}

// Journal records submitted transactions. Implementations must not block
// the caller on backend failures.
type Journal interface {
	Record(ctx context.Context, ev *models.ExecutionEvent)
}

// SnipeConfig selects how a single-wallet or staggered snipe is submitted
type SnipeConfig struct {
	// hybrid | jito | bloxroute | rpc; empty uses the orchestrator default
	Transport   string
	TipLamports uint64
	Priority    queue.PriorityClass
	MaxRetries  int
	Timeout     time.Duration
}

// BundleConfig describes a multi-wallet MEV bundle
type BundleConfig struct {
	DevWallet    solana.PublicKey
	MEVWallet    solana.PublicKey
	CleanWallets []solana.PublicKey
	// Lamports per buy, and base units for the dump
	Amount uint64
	// Optional pause between clean-wallet submissions inside a window
	Delay       time.Duration
	TipLamports uint64
	Transport   string
}
