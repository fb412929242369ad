// Package queue orders signed-transaction requests by priority and submits
// them in batches with bounded retries.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/aman-zulfiqar/solana-bundler/internal/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const maxBackoff = 10 * time.Second

// Config holds configuration for the transaction queue
type Config struct {
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	// Confirmation timeout used when an item sets none. Zero skips confirmation.
	Timeout time.Duration

	Blockhash BlockhashSource
	Metrics   *metrics.Metrics
	Logger    *logrus.Logger
}

// Queue runs at most one processing pass at a time. A pass drains a priority
// sorted snapshot in fixed-size batches.
type Queue struct {
	cfg       Config
	submitter Submitter
	signer    Signer
	confirmer Confirmer
	logger    *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	items      []*item
	seq        uint64
	processing bool
	inFlight   int
	passes     uint64
	confirmed  uint64
	failed     uint64
	idle       chan struct{}
}

// New creates a queue. confirmer may be nil when no item asks for confirmation.
func New(cfg Config, submitter Submitter, signer Signer, confirmer Confirmer) *Queue {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 5
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:       cfg,
		submitter: submitter,
		signer:    signer,
		confirmer: confirmer,
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close cancels in-flight work. Pending items resolve with the context error.
func (q *Queue) Close() {
	q.cancel()
}

// AddToQueue enqueues tx and starts a processing pass if none is running.
// tx must not be shared with other queue items.
func (q *Queue) AddToQueue(tx *solana.Transaction, signers []solana.PublicKey, priority PriorityClass, cfg TransactionConfig) *Ticket {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = q.cfg.MaxRetries
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = q.cfg.Timeout
	}

	it := &item{
		id:         uuid.NewString(),
		tx:         tx,
		signers:    signers,
		priority:   priority,
		enqueuedAt: time.Now(),
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
	}
	it.ticket = newTicket(it.id)

	q.mu.Lock()
	q.seq++
	it.seq = q.seq
	q.items = append(q.items, it)
	start := !q.processing
	if start {
		q.processing = true
		q.idle = make(chan struct{})
	}
	depth := len(q.items) + q.inFlight
	q.mu.Unlock()

	q.cfg.Metrics.SetQueueDepth(depth)
	q.logger.WithFields(logrus.Fields{
		"id":       it.id,
		"priority": priority,
		"retries":  cfg.MaxRetries,
	}).Debug("transaction queued")

	if start {
		go q.run()
	}
	return it.ticket
}

// run loops passes until a pass finishes with nothing new enqueued
func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.processing = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		snapshot := q.items
		q.items = nil
		q.inFlight = len(snapshot)
		q.passes++
		q.mu.Unlock()

		q.pass(snapshot)
	}
}

func (q *Queue) pass(items []*item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		if !a.enqueuedAt.Equal(b.enqueuedAt) {
			return a.enqueuedAt.Before(b.enqueuedAt)
		}
		return a.seq < b.seq
	})

	q.logger.WithFields(logrus.Fields{
		"items":      len(items),
		"batch_size": q.cfg.BatchSize,
	}).Debug("queue pass started")

	for start := 0; start < len(items); start += q.cfg.BatchSize {
		end := start + q.cfg.BatchSize
		if end > len(items) {
			end = len(items)
		}

		var g errgroup.Group
		for _, it := range items[start:end] {
			g.Go(func() error {
				q.process(it)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// process drives one item to a terminal state and resolves its ticket
func (q *Queue) process(it *item) {
	sig, err := q.submit(it)
	if err == nil && it.timeout > 0 && q.confirmer != nil {
		if !q.confirmer.ConfirmTransaction(q.ctx, sig, it.timeout) {
			err = errs.New(errs.TransactionTimeout, "queue.confirm",
				"transaction %s not confirmed within %s", sig, it.timeout)
		}
	}

	q.mu.Lock()
	q.inFlight--
	if err != nil {
		q.failed++
	} else {
		q.confirmed++
	}
	depth := len(q.items) + q.inFlight
	q.mu.Unlock()
	q.cfg.Metrics.SetQueueDepth(depth)

	log := q.logger.WithFields(logrus.Fields{"id": it.id, "priority": it.priority})
	if err != nil {
		q.cfg.Metrics.QueueResult("failed")
		log.WithError(err).Error("queued transaction failed")
	} else {
		q.cfg.Metrics.QueueResult("ok")
		log.WithField("signature", sig.String()).Info("queued transaction landed")
	}
	it.ticket.resolve(sig, err)
}

// submit makes exactly maxRetries attempts with exponential backoff between them
func (q *Queue) submit(it *item) (solana.Signature, error) {
	const op = "queue.submit"
	var lastErr error
	backoff := q.cfg.RetryBackoff

	for attempt := 1; attempt <= it.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-q.ctx.Done():
				return solana.Signature{}, q.ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if q.cfg.Blockhash != nil {
			hash, err := q.cfg.Blockhash.GetLatestBlockhash(q.ctx)
			if err != nil {
				lastErr = err
				q.logger.WithError(err).WithField("attempt", attempt).Warn("blockhash refresh failed")
				continue
			}
			it.tx.Message.RecentBlockhash = hash
		}

		if q.signer != nil {
			if err := q.signer.SignTransaction(it.tx, it.signers...); err != nil {
				return solana.Signature{}, err
			}
		}

		q.cfg.Metrics.QueueAttempt()
		sig, err := q.submitter.SendTransaction(q.ctx, it.tx)
		if err == nil {
			return sig, nil
		}
		lastErr = err
		q.logger.WithError(err).WithFields(logrus.Fields{
			"id":      it.id,
			"attempt": attempt,
			"max":     it.maxRetries,
		}).Warn("submission attempt failed")

		if q.ctx.Err() != nil {
			return solana.Signature{}, q.ctx.Err()
		}
	}

	return solana.Signature{}, errs.Wrap(errs.TransactionFailed, op, lastErr,
		fmt.Sprintf("retries exhausted after %d attempts", it.maxRetries))
}

// Len returns the number of items pending or in flight
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + q.inFlight
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:    len(q.items),
		InFlight:   q.inFlight,
		Processing: q.processing,
		Passes:     q.passes,
		Confirmed:  q.confirmed,
		Failed:     q.failed,
	}
}

// Idle blocks until no pass is running or ctx ends
func (q *Queue) Idle(ctx context.Context) error {
	q.mu.Lock()
	if !q.processing {
		q.mu.Unlock()
		return nil
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}
