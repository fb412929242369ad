// Package connection picks a healthy RPC endpoint, rate-limits submissions
// and polls for confirmations.
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/aman-zulfiqar/solana-bundler/internal/rpc"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config holds configuration for the connection manager
type Config struct {
	Endpoints       []string
	ProbeTimeout    time.Duration
	ConfirmInterval time.Duration

	// Token bucket wrapped around every submission
	RateCapacity     int
	RateRefillPerSec float64

	// Per-endpoint client settings
	HTTPTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	SendOptions rpc.SendOptions
	Logger      *logrus.Logger
}

// Manager owns the endpoint list and the active index. Nothing else mutates it.
type Manager struct {
	clients         []*rpc.Client
	probeTimeout    time.Duration
	confirmInterval time.Duration
	limiter         *rate.Limiter
	sendOpts        rpc.SendOptions
	logger          *logrus.Logger

	mu     sync.RWMutex
	active int // -1 until a probe succeeds
}

// NewManager validates the endpoint list and builds one client per endpoint
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errs.New(errs.Validation, "connection.new", "no RPC endpoints configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = time.Second
	}
	if cfg.RateCapacity <= 0 {
		cfg.RateCapacity = 10
	}
	if cfg.RateRefillPerSec <= 0 {
		cfg.RateRefillPerSec = 5
	}

	clients := make([]*rpc.Client, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		clients = append(clients, rpc.NewClient(rpc.ClientConfig{
			BaseURL:      ep,
			Timeout:      cfg.HTTPTimeout,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
			Logger:       cfg.Logger,
		}))
	}

	return &Manager{
		clients:         clients,
		probeTimeout:    cfg.ProbeTimeout,
		confirmInterval: cfg.ConfirmInterval,
		limiter:         rate.NewLimiter(rate.Limit(cfg.RateRefillPerSec), cfg.RateCapacity),
		sendOpts:        cfg.SendOptions,
		logger:          cfg.Logger,
		active:          -1,
	}, nil
}

// GetActiveConnection probes endpoints in list order and returns the first
// that answers. The winning index is recorded for later calls.
func (m *Manager) GetActiveConnection(ctx context.Context) (*rpc.Client, error) {
	var lastErr error
	for i, c := range m.clients {
		pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		slot, err := c.Probe(pctx)
		cancel()
		if err != nil {
			lastErr = err
			m.logger.WithError(err).WithFields(logrus.Fields{
				"endpoint": c.Endpoint(),
				"index":    i,
			}).Warn("endpoint failed liveness probe")
			if ctx.Err() != nil {
				break
			}
			continue
		}

		m.mu.Lock()
		m.active = i
		m.mu.Unlock()

		m.logger.WithFields(logrus.Fields{
			"endpoint": c.Endpoint(),
			"index":    i,
			"slot":     slot,
		}).Debug("active connection selected")
		return c, nil
	}

	m.mu.Lock()
	m.active = -1
	m.mu.Unlock()

	return nil, errs.Wrap(errs.Connection, "connection.active", lastErr,
		fmt.Sprintf("NoActiveConnection: all %d endpoints failed", len(m.clients)))
}

// ActiveIndex returns the index recorded by the last successful probe, or -1
func (m *Manager) ActiveIndex() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// ActiveEndpoint returns the URL of the recorded connection, or ""
func (m *Manager) ActiveEndpoint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active < 0 {
		return ""
	}
	return m.clients[m.active].Endpoint()
}

// current returns the recorded connection, probing only when none is recorded
func (m *Manager) current(ctx context.Context) (*rpc.Client, error) {
	m.mu.RLock()
	idx := m.active
	m.mu.RUnlock()
	if idx >= 0 {
		return m.clients[idx], nil
	}
	return m.GetActiveConnection(ctx)
}

// withFailover runs fn against the current connection and, when it fails,
// re-probes once and runs it again on whatever endpoint wins.
func (m *Manager) withFailover(ctx context.Context, op string, fn func(*rpc.Client) error) error {
	c, err := m.current(ctx)
	if err != nil {
		return err
	}
	err = fn(c)
	if err == nil || ctx.Err() != nil {
		return err
	}
	m.logger.WithError(err).WithFields(logrus.Fields{
		"endpoint": c.Endpoint(),
		"op":       op,
	}).Warn("rpc call failed, re-probing endpoints")

	c, err = m.GetActiveConnection(ctx)
	if err != nil {
		return err
	}
	return fn(c)
}

// SendTransaction waits for a token and submits tx exactly once on the active
// endpoint. A failed send re-probes the endpoints so the caller's next attempt
// goes to whichever one is healthy; it never resubmits on its own.
func (m *Manager) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := m.Wait(ctx); err != nil {
		return solana.Signature{}, err
	}

	c, err := m.current(ctx)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := c.SendTransaction(ctx, tx, m.sendOpts)
	if err != nil {
		m.logger.WithError(err).WithField("endpoint", c.Endpoint()).Error("transaction submission failed")
		if ctx.Err() == nil {
			if _, perr := m.GetActiveConnection(ctx); perr != nil {
				m.logger.WithError(perr).Warn("re-probe after failed submission found no endpoint")
			}
		}
		return solana.Signature{}, err
	}

	m.logger.WithFields(logrus.Fields{
		"endpoint":  c.Endpoint(),
		"signature": sig.String(),
	}).Debug("transaction submitted")
	return sig, nil
}

// Wait takes one token from the submission bucket. Every outbound submission,
// RPC or fast transport, goes through it.
func (m *Manager) Wait(ctx context.Context) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// ConfirmTransaction polls until the signature is confirmed or finalized.
// It reports false on timeout or on-chain failure instead of returning an error.
func (m *Manager) ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(m.confirmInterval)
	defer ticker.Stop()

	for {
		c, err := m.current(ctx)
		if err == nil {
			st, err := c.GetSignatureStatus(ctx, sig)
			switch {
			case err != nil:
				m.logger.WithError(err).WithFields(logrus.Fields{
					"endpoint":  c.Endpoint(),
					"signature": sig.String(),
				}).Debug("signature status poll failed")
			case st != nil && st.Err != nil:
				m.logger.WithFields(logrus.Fields{
					"endpoint":  c.Endpoint(),
					"signature": sig.String(),
					"err":       fmt.Sprintf("%v", st.Err),
				}).Error("transaction failed on-chain")
				return false
			case st.Settled():
				m.logger.WithFields(logrus.Fields{
					"endpoint":  c.Endpoint(),
					"signature": sig.String(),
					"status":    st.ConfirmationStatus,
				}).Info("transaction confirmed")
				return true
			}
		}

		select {
		case <-ctx.Done():
			m.logger.WithFields(logrus.Fields{
				"endpoint":  m.ActiveEndpoint(),
				"signature": sig.String(),
				"timeout":   timeout,
			}).Warn("transaction confirmation timed out")
			return false
		case <-ticker.C:
		}
	}
}

// GetLatestBlockhash fetches a recent blockhash from the active endpoint
func (m *Manager) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var hash solana.Hash
	err := m.withFailover(ctx, "getLatestBlockhash", func(c *rpc.Client) error {
		h, err := c.GetLatestBlockhash(ctx, "confirmed")
		hash = h
		return err
	})
	return hash, err
}

// GetBalance returns the lamport balance of account
func (m *Manager) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var lamports uint64
	err := m.withFailover(ctx, "getBalance", func(c *rpc.Client) error {
		v, err := c.GetBalance(ctx, account, "confirmed")
		lamports = v
		return err
	})
	return lamports, err
}

// GetRecentPerformanceSamples fetches network throughput samples, newest first
func (m *Manager) GetRecentPerformanceSamples(ctx context.Context, limit int) ([]rpc.PerformanceSample, error) {
	var out []rpc.PerformanceSample
	err := m.withFailover(ctx, "getRecentPerformanceSamples", func(c *rpc.Client) error {
		s, err := c.GetRecentPerformanceSamples(ctx, limit)
		out = s
		return err
	})
	return out, err
}

// RequestAirdrop funds account on a test cluster
func (m *Manager) RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error) {
	var sig solana.Signature
	err := m.withFailover(ctx, "requestAirdrop", func(c *rpc.Client) error {
		s, err := c.RequestAirdrop(ctx, account, lamports)
		sig = s
		return err
	})
	return sig, err
}
