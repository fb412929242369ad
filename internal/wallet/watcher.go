package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BalanceFetcher returns an account balance in lamports
type BalanceFetcher interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// BalanceWatcher polls balances of subscribed wallets and writes them back
// through the store.
type BalanceWatcher struct {
	store    *Store
	fetcher  BalanceFetcher
	interval time.Duration
	logger   *logrus.Logger

	mu       sync.Mutex
	subs     map[string]solana.PublicKey
	followed map[solana.PublicKey]string
	running  bool
	cancel  context.CancelFunc
}

// WatcherConfig holds configuration for the balance watcher
type WatcherConfig struct {
	Store        *Store
	Fetcher      BalanceFetcher
	PollInterval time.Duration
	Logger       *logrus.Logger
}

// NewBalanceWatcher creates a new balance watcher
func NewBalanceWatcher(cfg WatcherConfig) *BalanceWatcher {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &BalanceWatcher{
		store:    cfg.Store,
		fetcher:  cfg.Fetcher,
		interval: cfg.PollInterval,
		logger:   cfg.Logger,
		subs:     make(map[string]solana.PublicKey),
		followed: make(map[solana.PublicKey]string),
	}
}

// Follow subscribes every stored wallet and keeps doing so as the store
// changes: added wallets are subscribed, removed ones lose all subscriptions.
func (w *BalanceWatcher) Follow() {
	w.store.OnChange(w.sync)
	for _, info := range w.store.Wallets() {
		w.track(info.PublicKey)
	}
}

func (w *BalanceWatcher) sync(added, removed []solana.PublicKey) {
	for _, pub := range removed {
		w.drop(pub)
	}
	for _, pub := range added {
		w.track(pub)
	}
}

func (w *BalanceWatcher) track(pub solana.PublicKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.followed[pub]; ok {
		return
	}
	id := uuid.NewString()
	w.subs[id] = pub
	w.followed[pub] = id
}

func (w *BalanceWatcher) drop(pub solana.PublicKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, p := range w.subs {
		if p.Equals(pub) {
			delete(w.subs, id)
		}
	}
	delete(w.followed, pub)
}

// Subscribe starts tracking pub and returns the subscription id
func (w *BalanceWatcher) Subscribe(pub solana.PublicKey) (string, error) {
	if _, ok := w.store.Get(pub); !ok {
		return "", errs.New(errs.Validation, "wallet.subscribe", "wallet %s not found", pub)
	}
	id := uuid.NewString()
	w.mu.Lock()
	w.subs[id] = pub
	w.mu.Unlock()
	return id, nil
}

// Unsubscribe removes a subscription and reports whether it existed
func (w *BalanceWatcher) Unsubscribe(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	pub, ok := w.subs[id]
	delete(w.subs, id)
	if ok && w.followed[pub] == id {
		delete(w.followed, pub)
	}
	return ok
}

// Subscribed reports whether pub has at least one subscription
func (w *BalanceWatcher) Subscribed(pub solana.PublicKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.subs {
		if p.Equals(pub) {
			return true
		}
	}
	return false
}

// Start polls until ctx is cancelled or Stop is called
func (w *BalanceWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("balance watcher already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.cancel = nil
		w.mu.Unlock()
		cancel()
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.WithField("interval", w.interval).Info("starting balance watcher")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Stop ends a running Start loop
func (w *BalanceWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

// Poll refreshes every subscribed wallet once. A balance that has not changed
// is not written back. Failures are logged per wallet.
func (w *BalanceWatcher) Poll(ctx context.Context) {
	w.mu.Lock()
	seen := make(map[solana.PublicKey]struct{}, len(w.subs))
	targets := make([]solana.PublicKey, 0, len(w.subs))
	for _, pub := range w.subs {
		if _, dup := seen[pub]; dup {
			continue
		}
		seen[pub] = struct{}{}
		targets = append(targets, pub)
	}
	w.mu.Unlock()

	for _, pub := range targets {
		if ctx.Err() != nil {
			return
		}
		lamports, err := w.fetcher.GetBalance(ctx, pub)
		if err != nil {
			w.logger.WithError(err).WithField("wallet", pub.String()).Warn("balance fetch failed")
			continue
		}
		sol := float64(lamports) / float64(solana.LAMPORTS_PER_SOL)
		info, ok := w.store.Get(pub)
		if !ok {
			continue
		}
		if info.Balance == sol {
			continue
		}
		if err := w.store.UpdateWalletBalance(pub, sol); err != nil {
			w.logger.WithError(err).WithField("wallet", pub.String()).Warn("balance update failed")
			continue
		}
		w.logger.WithFields(logrus.Fields{
			"wallet":  pub.String(),
			"balance": sol,
		}).Debug("balance refreshed")
	}
}
