package queue

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// PriorityClass orders queue items; higher is sooner. Any int is accepted,
// the named classes are the ones the API exposes.
type PriorityClass int

const (
	PriorityLow    PriorityClass = 1
	PriorityNormal PriorityClass = 5
	PriorityHigh   PriorityClass = 10
)

// ParsePriority maps an API priority name to its class
func ParsePriority(s string) (PriorityClass, bool) {
	switch s {
	case "low":
		return PriorityLow, true
	case "", "normal":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	}
	return 0, false
}

// TransactionConfig bounds one item. Zero values fall back to the queue defaults.
type TransactionConfig struct {
	MaxRetries int
	Timeout    time.Duration
}

// Submitter sends a signed transaction
type Submitter interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Signer signs tx with the keys of the given signers
type Signer interface {
	SignTransaction(tx *solana.Transaction, signers ...solana.PublicKey) error
}

// Confirmer polls for confirmation, reporting false on timeout or failure
type Confirmer interface {
	ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) bool
}

// BlockhashSource refreshes the recent blockhash before each attempt
type BlockhashSource interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
}

type item struct {
	id         string
	seq        uint64
	tx         *solana.Transaction
	signers    []solana.PublicKey
	priority   PriorityClass
	enqueuedAt time.Time
	maxRetries int
	timeout    time.Duration
	ticket     *Ticket
}

// Ticket resolves once its item reaches a terminal state
type Ticket struct {
	ID string

	done chan struct{}
	sig  solana.Signature
	err  error
}

func newTicket(id string) *Ticket {
	return &Ticket{ID: id, done: make(chan struct{})}
}

func (t *Ticket) resolve(sig solana.Signature, err error) {
	t.sig, t.err = sig, err
	close(t.done)
}

// Done is closed when the item is resolved
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the item resolves or ctx ends. Giving up on the wait
// does not cancel the submission.
func (t *Ticket) Wait(ctx context.Context) (solana.Signature, error) {
	select {
	case <-ctx.Done():
		return solana.Signature{}, ctx.Err()
	case <-t.done:
		return t.sig, t.err
	}
}

// Stats is a point-in-time view of the queue
type Stats struct {
	Pending    int    `json:"pending"`
	InFlight   int    `json:"inFlight"`
	Processing bool   `json:"processing"`
	Passes     uint64 `json:"passes"`
	Confirmed  uint64 `json:"confirmed"`
	Failed     uint64 `json:"failed"`
}
