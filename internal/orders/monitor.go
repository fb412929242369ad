// Package orders keeps limit orders and evaluates them on a fixed interval.
package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/aman-zulfiqar/solana-bundler/internal/metrics"
	"github.com/aman-zulfiqar/solana-bundler/internal/trade"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxAmount caps a single order at one million SOL worth of units
const DefaultMaxAmount uint64 = 1_000_000 * solana.LAMPORTS_PER_SOL

// Config holds configuration for the order monitor
type Config struct {
	Interval  time.Duration
	MinTTL    time.Duration
	MaxTTL    time.Duration
	MaxAmount uint64

	Oracle   trade.PriceOracle
	Executor Executor
	// Optional persistence
	Store   Store
	Metrics *metrics.Metrics
	Logger  *logrus.Logger
}

// Monitor owns every order's status. Passes are serial: one slow price fetch
// delays the rest of the pass.
type Monitor struct {
	cfg      Config
	oracle   trade.PriceOracle
	executor Executor
	store    Store
	logger   *logrus.Logger
	now      func() time.Time

	passMu sync.Mutex

	mu        sync.Mutex
	orders    map[string]*LimitOrder
	executing map[string]bool
	running   bool
	cancel    context.CancelFunc
}

func NewMonitor(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MinTTL <= 0 {
		cfg.MinTTL = 100 * time.Millisecond
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 7 * 24 * time.Hour
	}
	if cfg.MaxAmount == 0 {
		cfg.MaxAmount = DefaultMaxAmount
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Monitor{
		cfg:       cfg,
		oracle:    cfg.Oracle,
		executor:  cfg.Executor,
		store:     cfg.Store,
		logger:    cfg.Logger,
		now:       time.Now,
		orders:    make(map[string]*LimitOrder),
		executing: make(map[string]bool),
	}
}

// Load restores persisted orders. Orders already in memory are kept.
func (m *Monitor) Load(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	list, err := m.store.List(ctx)
	if err != nil {
		return 0, errs.Wrap(errs.Connection, "orders.load", err, "list persisted orders")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range list {
		if _, ok := m.orders[o.ID]; ok {
			continue
		}
		m.orders[o.ID] = o
		n++
	}
	return n, nil
}

// CreateOrder validates req and stores a pending order
func (m *Monitor) CreateOrder(ctx context.Context, req OrderRequest) (*LimitOrder, error) {
	const op = "orders.create"
	switch {
	case req.Wallet.IsZero() || req.Mint.IsZero():
		return nil, errs.New(errs.Validation, op, "wallet and mint are required")
	case req.Amount == 0 || req.Amount > m.cfg.MaxAmount:
		return nil, errs.New(errs.Validation, op, "amount must be in (0, %d]", m.cfg.MaxAmount)
	case !req.Price.IsPositive():
		return nil, errs.New(errs.Validation, op, "price must be positive")
	case !req.Side.Valid():
		return nil, errs.New(errs.Validation, op, "side must be buy or sell")
	case req.TTL < m.cfg.MinTTL || req.TTL > m.cfg.MaxTTL:
		return nil, errs.New(errs.Validation, op, "ttl must be in [%s, %s]", m.cfg.MinTTL, m.cfg.MaxTTL)
	}

	now := m.now().UTC()
	o := &LimitOrder{
		ID:        uuid.NewString(),
		Wallet:    req.Wallet,
		TokenMint: req.Mint,
		Amount:    req.Amount,
		Price:     req.Price,
		Side:      req.Side,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(req.TTL),
	}
	if m.store != nil {
		if err := m.store.Save(ctx, o); err != nil {
			return nil, errs.Wrap(errs.Connection, op, err, "persist order")
		}
	}

	m.mu.Lock()
	m.orders[o.ID] = o
	m.mu.Unlock()

	m.cfg.Metrics.OrderTransition(string(StatusPending))
	m.logger.WithFields(logrus.Fields{
		"id":    o.ID,
		"side":  o.Side,
		"price": o.Price.String(),
		"ttl":   req.TTL,
	}).Info("limit order created")
	return o.clone(), nil
}

// CancelOrder moves a pending order to cancelled at once, outside the timer
// pass. An order the pass is executing cannot be cancelled.
func (m *Monitor) CancelOrder(ctx context.Context, id string) (*LimitOrder, error) {
	const op = "orders.cancel"
	m.mu.Lock()
	o, ok := m.orders[id]
	switch {
	case !ok:
		m.mu.Unlock()
		return nil, errs.New(errs.Validation, op, "order %s not found", id)
	case o.Status != StatusPending:
		m.mu.Unlock()
		return nil, errs.New(errs.Validation, op, "order %s is %s", id, o.Status)
	case m.executing[id]:
		m.mu.Unlock()
		return nil, errs.New(errs.Validation, op, "order %s is executing", id)
	}
	o.Status = StatusCancelled
	snap := o.clone()
	m.mu.Unlock()

	m.persist(ctx, snap)
	m.cfg.Metrics.OrderTransition(string(StatusCancelled))
	return snap, nil
}

func (m *Monitor) GetOrder(id string) (*LimitOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	return o.clone(), true
}

// ListOrders returns every order, oldest first
func (m *Monitor) ListOrders() []*LimitOrder {
	m.mu.Lock()
	out := make([]*LimitOrder, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o.clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Start ticks until ctx is cancelled or Stop is called
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("order monitor already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()
		cancel()
	}()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.WithField("interval", m.cfg.Interval).Info("starting order monitor")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// Tick runs one serial pass over the pending orders
func (m *Monitor) Tick(ctx context.Context) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	for _, o := range m.pending() {
		if ctx.Err() != nil {
			return
		}
		m.evaluate(ctx, o)
	}
}

func (m *Monitor) pending() []*LimitOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*LimitOrder, 0, len(m.orders))
	for _, o := range m.orders {
		if o.Status == StatusPending {
			out = append(out, o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Monitor) evaluate(ctx context.Context, o *LimitOrder) {
	log := m.logger.WithFields(logrus.Fields{"id": o.ID, "side": o.Side})

	if !m.now().Before(o.ExpiresAt) {
		if snap := m.transition(o.ID, func(cur *LimitOrder) { cur.Status = StatusCancelled }); snap != nil {
			m.persist(ctx, snap)
			m.cfg.Metrics.OrderTransition(string(StatusCancelled))
			log.Info("limit order expired")
		}
		return
	}

	price, err := m.oracle.Price(ctx, o.TokenMint)
	if err != nil {
		m.fail(ctx, o.ID, fmt.Errorf("price: %w", err))
		log.WithError(err).Warn("order price fetch failed")
		return
	}
	if !o.Triggered(price) {
		return
	}

	if !m.begin(o.ID) {
		return
	}
	sig, err := m.executor.ExecuteOrder(ctx, o)
	if err != nil {
		m.end(o.ID)
		m.fail(ctx, o.ID, err)
		log.WithError(err).Warn("order execution failed, order stays pending")
		return
	}

	executedAt := m.now().UTC()
	snap := m.transition(o.ID, func(cur *LimitOrder) {
		cur.Status = StatusExecuted
		cur.ExecutedAt = &executedAt
		cur.Signature = sig.String()
		cur.LastError = ""
	})
	m.end(o.ID)
	if snap != nil {
		m.persist(ctx, snap)
		m.cfg.Metrics.OrderTransition(string(StatusExecuted))
		log.WithFields(logrus.Fields{
			"price":     price.String(),
			"limit":     o.Price.String(),
			"signature": sig.String(),
		}).Info("limit order executed")
	}
}

// transition applies fn to a still-pending order and returns a snapshot,
// or nil when the order already left pending
func (m *Monitor) transition(id string, fn func(*LimitOrder)) *LimitOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[id]
	if !ok || cur.Status != StatusPending {
		return nil
	}
	fn(cur)
	return cur.clone()
}

func (m *Monitor) fail(ctx context.Context, id string, err error) {
	if snap := m.transition(id, func(cur *LimitOrder) { cur.LastError = err.Error() }); snap != nil {
		m.persist(ctx, snap)
	}
}

func (m *Monitor) begin(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.orders[id]; !ok || cur.Status != StatusPending {
		return false
	}
	m.executing[id] = true
	return true
}

func (m *Monitor) end(id string) {
	m.mu.Lock()
	delete(m.executing, id)
	m.mu.Unlock()
}

func (m *Monitor) persist(ctx context.Context, o *LimitOrder) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, o); err != nil {
		m.logger.WithError(err).WithField("id", o.ID).Warn("persist order failed")
	}
}
