package orders

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/aman-zulfiqar/solana-bundler/internal/prices"
	"github.com/aman-zulfiqar/solana-bundler/internal/trade"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeExecutor) ExecuteOrder(_ context.Context, o *LimitOrder) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, o.ID)
	if f.err != nil {
		return solana.Signature{}, f.err
	}
	return solana.Signature{byte(len(f.calls)), 4}, nil
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memStore struct {
	mu     sync.Mutex
	orders map[string]LimitOrder
	err    error
}

func (s *memStore) Save(_ context.Context, o *LimitOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.orders[o.ID] = *o
	return nil
}

func (s *memStore) List(context.Context) ([]*LimitOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*LimitOrder, 0, len(s.orders))
	for _, o := range s.orders {
		o := o
		out = append(out, &o)
	}
	return out, nil
}

var mint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

func newMonitor(t *testing.T, price float64) (*Monitor, *prices.Static, *fakeExecutor) {
	t.Helper()
	oracle := prices.NewStatic()
	oracle.Set(mint, decimal.NewFromFloat(price))
	exec := &fakeExecutor{}
	m := NewMonitor(Config{Oracle: oracle, Executor: exec, Logger: quietLogger()})
	return m, oracle, exec
}

func request(side trade.Side, price float64, ttl time.Duration) OrderRequest {
	return OrderRequest{
		Wallet: solana.NewWallet().PublicKey(),
		Mint:   mint,
		Amount: 1000,
		Price:  decimal.NewFromFloat(price),
		Side:   side,
		TTL:    ttl,
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	m, _, _ := newMonitor(t, 1)
	ctx := context.Background()

	cases := map[string]func(*OrderRequest){
		"zero amount":  func(r *OrderRequest) { r.Amount = 0 },
		"huge amount":  func(r *OrderRequest) { r.Amount = DefaultMaxAmount + 1 },
		"zero price":   func(r *OrderRequest) { r.Price = decimal.Zero },
		"bad side":     func(r *OrderRequest) { r.Side = "hold" },
		"short ttl":    func(r *OrderRequest) { r.TTL = time.Millisecond },
		"long ttl":     func(r *OrderRequest) { r.TTL = 30 * 24 * time.Hour },
		"missing mint": func(r *OrderRequest) { r.Mint = solana.PublicKey{} },
	}
	for name, mutate := range cases {
		req := request(trade.SideBuy, 1, time.Minute)
		mutate(&req)
		_, err := m.CreateOrder(ctx, req)
		assert.ErrorIs(t, err, errs.ErrValidation, name)
	}
	assert.Empty(t, m.ListOrders())
}

func TestCreateOrder_Pending(t *testing.T) {
	m, _, _ := newMonitor(t, 1)
	o, err := m.CreateOrder(context.Background(), request(trade.SideSell, 2, time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, time.Minute, o.ExpiresAt.Sub(o.CreatedAt))

	got, ok := m.GetOrder(o.ID)
	require.True(t, ok)
	assert.Equal(t, o.ID, got.ID)
}

func TestTick_ExpiresWithoutExecuting(t *testing.T) {
	m, _, exec := newMonitor(t, 10)
	// buy at 1 never triggers while the market sits at 10
	o, err := m.CreateOrder(context.Background(), request(trade.SideBuy, 1, 100*time.Millisecond))
	require.NoError(t, err)

	m.Tick(context.Background())
	got, _ := m.GetOrder(o.ID)
	assert.Equal(t, StatusPending, got.Status)

	time.Sleep(120 * time.Millisecond)
	m.Tick(context.Background())
	got, _ = m.GetOrder(o.ID)
	assert.Equal(t, StatusCancelled, got.Status)

	m.Tick(context.Background())
	got, _ = m.GetOrder(o.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Zero(t, exec.count())
}

func TestTick_BuyAndSellConditions(t *testing.T) {
	m, oracle, exec := newMonitor(t, 1.0)
	ctx := context.Background()

	buy, err := m.CreateOrder(ctx, request(trade.SideBuy, 1.0, time.Minute))
	require.NoError(t, err)
	sell, err := m.CreateOrder(ctx, request(trade.SideSell, 1.5, time.Minute))
	require.NoError(t, err)

	m.Tick(ctx)
	got, _ := m.GetOrder(buy.ID)
	assert.Equal(t, StatusExecuted, got.Status)
	assert.NotEmpty(t, got.Signature)
	require.NotNil(t, got.ExecutedAt)
	got, _ = m.GetOrder(sell.ID)
	assert.Equal(t, StatusPending, got.Status)

	oracle.Set(mint, decimal.NewFromFloat(1.5))
	m.Tick(ctx)
	got, _ = m.GetOrder(sell.ID)
	assert.Equal(t, StatusExecuted, got.Status)

	// executed orders are never evaluated again
	m.Tick(ctx)
	assert.Equal(t, 2, exec.count())
}

func TestTick_ExecutionErrorLeavesPending(t *testing.T) {
	m, _, exec := newMonitor(t, 1)
	exec.err = errors.New("queue closed")

	o, err := m.CreateOrder(context.Background(), request(trade.SideBuy, 2, time.Minute))
	require.NoError(t, err)
	m.Tick(context.Background())

	got, _ := m.GetOrder(o.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Contains(t, got.LastError, "queue closed")
}

func TestTick_PriceErrorLeavesPending(t *testing.T) {
	m, _, exec := newMonitor(t, 1)
	req := request(trade.SideBuy, 2, time.Minute)
	req.Mint = solana.NewWallet().PublicKey()
	o, err := m.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	m.Tick(context.Background())
	got, _ := m.GetOrder(o.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.NotEmpty(t, got.LastError)
	assert.Zero(t, exec.count())
}

func TestCancelOrder(t *testing.T) {
	m, _, exec := newMonitor(t, 1)
	ctx := context.Background()
	o, err := m.CreateOrder(ctx, request(trade.SideBuy, 2, time.Minute))
	require.NoError(t, err)

	got, err := m.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	_, err = m.CancelOrder(ctx, o.ID)
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = m.CancelOrder(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrValidation)

	m.Tick(ctx)
	assert.Zero(t, exec.count())
}

type gatedExecutor struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedExecutor) ExecuteOrder(ctx context.Context, _ *LimitOrder) (solana.Signature, error) {
	close(g.entered)
	select {
	case <-g.release:
		return solana.Signature{9}, nil
	case <-ctx.Done():
		return solana.Signature{}, ctx.Err()
	}
}

func TestCancelOrder_RefusedWhileExecuting(t *testing.T) {
	oracle := prices.NewStatic()
	oracle.Set(mint, decimal.NewFromInt(1))
	exec := &gatedExecutor{entered: make(chan struct{}), release: make(chan struct{})}
	m := NewMonitor(Config{Oracle: oracle, Executor: exec, Logger: quietLogger()})
	ctx := context.Background()

	o, err := m.CreateOrder(ctx, request(trade.SideBuy, 2, time.Minute))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		m.Tick(ctx)
		close(done)
	}()
	<-exec.entered

	_, err = m.CancelOrder(ctx, o.ID)
	assert.ErrorIs(t, err, errs.ErrValidation)

	close(exec.release)
	<-done
	got, _ := m.GetOrder(o.ID)
	assert.Equal(t, StatusExecuted, got.Status)
}

func TestStore_PersistAndLoad(t *testing.T) {
	store := &memStore{orders: map[string]LimitOrder{}}
	oracle := prices.NewStatic()
	oracle.Set(mint, decimal.NewFromInt(1))
	exec := &fakeExecutor{}

	m := NewMonitor(Config{Oracle: oracle, Executor: exec, Store: store, Logger: quietLogger()})
	o, err := m.CreateOrder(context.Background(), request(trade.SideBuy, 1, time.Minute))
	require.NoError(t, err)
	m.Tick(context.Background())
	assert.Equal(t, StatusExecuted, store.orders[o.ID].Status)

	restarted := NewMonitor(Config{Oracle: oracle, Executor: exec, Store: store, Logger: quietLogger()})
	n, err := restarted.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, ok := restarted.GetOrder(o.ID)
	require.True(t, ok)
	assert.Equal(t, StatusExecuted, got.Status)

	store.err = errors.New("redis down")
	_, err = m.CreateOrder(context.Background(), request(trade.SideBuy, 1, time.Minute))
	assert.ErrorIs(t, err, errs.ErrConnection)
}

func TestMonitor_StartStop(t *testing.T) {
	oracle := prices.NewStatic()
	oracle.Set(mint, decimal.NewFromInt(1))
	exec := &fakeExecutor{}
	m := NewMonitor(Config{Interval: 10 * time.Millisecond, Oracle: oracle, Executor: exec, Logger: quietLogger()})

	o, err := m.CreateOrder(context.Background(), request(trade.SideBuy, 1, time.Minute))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		got, _ := m.GetOrder(o.ID)
		return got.Status == StatusExecuted
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
