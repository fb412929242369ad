package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// recorder submits instantly unless a gate is installed for a transaction
type recorder struct {
	mu       sync.Mutex
	order    []*solana.Transaction
	gates    map[*solana.Transaction]chan struct{}
	failures map[*solana.Transaction]int
	attempts map[*solana.Transaction]int

	active    int32
	maxActive int32
}

func newRecorder() *recorder {
	return &recorder{
		gates:    map[*solana.Transaction]chan struct{}{},
		failures: map[*solana.Transaction]int{},
		attempts: map[*solana.Transaction]int{},
	}
}

func (r *recorder) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	n := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)
	for {
		m := atomic.LoadInt32(&r.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&r.maxActive, m, n) {
			break
		}
	}

	r.mu.Lock()
	r.order = append(r.order, tx)
	seq := len(r.order)
	r.attempts[tx]++
	gate := r.gates[tx]
	fail := r.failures[tx] > 0
	if fail {
		r.failures[tx]--
	}
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return solana.Signature{}, ctx.Err()
		}
	}
	if fail {
		return solana.Signature{}, errors.New("node is behind")
	}
	return solana.Signature{byte(seq), 1}, nil
}

func (r *recorder) submitted() []*solana.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*solana.Transaction(nil), r.order...)
}

type confirmFunc func(ctx context.Context, sig solana.Signature, timeout time.Duration) bool

func (f confirmFunc) ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) bool {
	return f(ctx, sig, timeout)
}

func newQueue(t *testing.T, cfg Config, sub Submitter, conf Confirmer) *Queue {
	t.Helper()
	cfg.Logger = quietLogger()
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	q := New(cfg, sub, nil, conf)
	t.Cleanup(q.Close)
	return q
}

func wait(t *testing.T, tk *Ticket) (solana.Signature, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return tk.Wait(ctx)
}

func TestQueue_PriorityOrder(t *testing.T) {
	rec := newRecorder()
	q := newQueue(t, Config{BatchSize: 1}, rec, nil)

	blocker := &solana.Transaction{}
	gate := make(chan struct{})
	rec.gates[blocker] = gate
	blockTicket := q.AddToQueue(blocker, nil, PriorityNormal, TransactionConfig{})

	require.Eventually(t, func() bool { return len(rec.submitted()) == 1 }, time.Second, time.Millisecond)

	p1, p3a, p2, p3b := &solana.Transaction{}, &solana.Transaction{}, &solana.Transaction{}, &solana.Transaction{}
	tickets := []*Ticket{
		q.AddToQueue(p1, nil, 1, TransactionConfig{}),
		q.AddToQueue(p3a, nil, 3, TransactionConfig{}),
		q.AddToQueue(p2, nil, 2, TransactionConfig{}),
		q.AddToQueue(p3b, nil, 3, TransactionConfig{}),
	}
	close(gate)

	_, err := wait(t, blockTicket)
	require.NoError(t, err)
	for _, tk := range tickets {
		_, err := wait(t, tk)
		require.NoError(t, err)
	}

	assert.Equal(t, []*solana.Transaction{blocker, p3a, p3b, p2, p1}, rec.submitted())
	assert.Equal(t, uint64(2), q.Stats().Passes)
}

func TestQueue_SingleFlight(t *testing.T) {
	rec := newRecorder()
	q := newQueue(t, Config{BatchSize: 1}, rec, nil)

	first := &solana.Transaction{}
	gate := make(chan struct{})
	rec.gates[first] = gate
	tickets := []*Ticket{q.AddToQueue(first, nil, PriorityNormal, TransactionConfig{})}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk := q.AddToQueue(&solana.Transaction{}, nil, PriorityNormal, TransactionConfig{})
			mu.Lock()
			tickets = append(tickets, tk)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.True(t, q.Stats().Processing)
	close(gate)

	for _, tk := range tickets {
		_, err := wait(t, tk)
		require.NoError(t, err)
	}
	// batch size 1: any overlap means two passes submitted at once
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.maxActive))
	assert.Len(t, rec.submitted(), 51)
	require.NoError(t, q.Idle(context.Background()))
	assert.Zero(t, q.Len())
}

func TestQueue_BatchesRunConcurrently(t *testing.T) {
	rec := newRecorder()
	q := newQueue(t, Config{BatchSize: 3}, rec, nil)

	gate := make(chan struct{})
	txs := []*solana.Transaction{{}, {}, {}}
	for _, tx := range txs {
		rec.gates[tx] = gate
	}
	// hold the queue busy so all three land in the same pass
	blocker := &solana.Transaction{}
	blockGate := make(chan struct{})
	rec.gates[blocker] = blockGate
	q.AddToQueue(blocker, nil, PriorityHigh, TransactionConfig{})
	require.Eventually(t, func() bool { return len(rec.submitted()) == 1 }, time.Second, time.Millisecond)

	var tickets []*Ticket
	for _, tx := range txs {
		tickets = append(tickets, q.AddToQueue(tx, nil, PriorityNormal, TransactionConfig{}))
	}
	close(blockGate)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&rec.active) == 3 }, time.Second, time.Millisecond)
	close(gate)
	for _, tk := range tickets {
		_, err := wait(t, tk)
		require.NoError(t, err)
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	rec := newRecorder()
	q := newQueue(t, Config{MaxRetries: 3}, rec, nil)

	tx := &solana.Transaction{}
	rec.failures[tx] = 2
	_, err := wait(t, q.AddToQueue(tx, nil, PriorityNormal, TransactionConfig{}))
	require.NoError(t, err)
	assert.Equal(t, 3, rec.attempts[tx])
}

func TestQueue_RetriesExhausted(t *testing.T) {
	rec := newRecorder()
	q := newQueue(t, Config{}, rec, nil)

	tx := &solana.Transaction{}
	rec.failures[tx] = 100
	_, err := wait(t, q.AddToQueue(tx, nil, PriorityNormal, TransactionConfig{MaxRetries: 4}))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrTransactionFailed)
	assert.Equal(t, 4, rec.attempts[tx])
	assert.Equal(t, uint64(1), q.Stats().Failed)
	assert.Zero(t, q.Len())
}

func TestQueue_ConfirmationTimeout(t *testing.T) {
	rec := newRecorder()
	var gotTimeout time.Duration
	conf := confirmFunc(func(_ context.Context, _ solana.Signature, timeout time.Duration) bool {
		gotTimeout = timeout
		return false
	})
	q := newQueue(t, Config{}, rec, conf)

	_, err := wait(t, q.AddToQueue(&solana.Transaction{}, nil, PriorityNormal, TransactionConfig{Timeout: 250 * time.Millisecond}))
	assert.ErrorIs(t, err, errs.ErrTransactionTimeout)
	assert.Equal(t, 250*time.Millisecond, gotTimeout)
}

func TestQueue_ConfirmedReturnsSignature(t *testing.T) {
	rec := newRecorder()
	conf := confirmFunc(func(context.Context, solana.Signature, time.Duration) bool { return true })
	q := newQueue(t, Config{Timeout: time.Second}, rec, conf)

	sig, err := wait(t, q.AddToQueue(&solana.Transaction{}, nil, PriorityHigh, TransactionConfig{}))
	require.NoError(t, err)
	assert.NotEqual(t, solana.Signature{}, sig)
	assert.Equal(t, uint64(1), q.Stats().Confirmed)
}

func TestParsePriority(t *testing.T) {
	p, ok := ParsePriority("high")
	assert.True(t, ok)
	assert.Equal(t, PriorityHigh, p)
	p, ok = ParsePriority("")
	assert.True(t, ok)
	assert.Equal(t, PriorityNormal, p)
	_, ok = ParsePriority("urgent")
	assert.False(t, ok)
}
