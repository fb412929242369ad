// Package transport submits signed transactions over low-latency paths
// that bypass the public RPC mempool.
package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/rpc"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

const (
	NameHybrid    = "hybrid"
	NameJito      = "jito"
	NameBloxroute = "bloxroute"
	NameRPC       = "rpc"
)

// Fast sends a signed transaction and returns its signature
type Fast interface {
	Name() string
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// ValidName reports whether name is a configurable transport
func ValidName(name string) bool {
	switch strings.ToLower(name) {
	case NameHybrid, NameJito, NameBloxroute, NameRPC:
		return true
	}
	return false
}

// Jito submits through a block engine's JSON-RPC sendTransaction endpoint
type Jito struct {
	client *rpc.Client
}

// NewJito targets e.g. https://mainnet.block-engine.jito.wtf/api/v1/transactions
func NewJito(url string, timeout time.Duration, logger *logrus.Logger) *Jito {
	return &Jito{client: rpc.NewClient(rpc.ClientConfig{
		BaseURL: url,
		Timeout: timeout,
		Logger:  logger,
	})}
}

func (j *Jito) Name() string { return NameJito }

func (j *Jito) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	// the block engine rejects preflight; it simulates itself
	sig, err := j.client.SendTransaction(ctx, tx, rpc.SendOptions{SkipPreflight: true})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("jito send: %w", err)
	}
	return sig, nil
}
