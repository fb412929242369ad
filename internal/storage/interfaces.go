package storage

import (
	"context"
	"io"

	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/shopspring/decimal"
)

// ExecutionCache keeps recent executions and last prices for fast reads
type ExecutionCache interface {
	// AddRecentExecution pushes an event onto the bounded recent list
	AddRecentExecution(ctx context.Context, ev *models.ExecutionEvent) error

	// GetRecentExecutions returns up to limit events, newest first
	GetRecentExecutions(ctx context.Context, limit int64) ([]*models.ExecutionEvent, error)

	UpdatePrice(ctx context.Context, mint string, price decimal.Decimal) error
	GetPrice(ctx context.Context, mint string) (decimal.Decimal, error)

	// PublishExecution fans an event out to subscribers
	PublishExecution(ctx context.Context, ev *models.ExecutionEvent) error

	Ping(ctx context.Context) error
	io.Closer
}

// ExecutionStore is the durable execution history
type ExecutionStore interface {
	InsertExecution(ctx context.Context, ev *models.ExecutionEvent) error
	Ping(ctx context.Context) error
	io.Closer
}

// ExecutionHandler processes events delivered by a subscription
type ExecutionHandler func(*models.ExecutionEvent)
