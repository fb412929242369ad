// Package bundle runs the trading strategies: single-wallet safe snipes,
// multi-stage MEV bundles across many wallets, staggered buys and limit
// order execution.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/aman-zulfiqar/solana-bundler/internal/metrics"
	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/aman-zulfiqar/solana-bundler/internal/orders"
	"github.com/aman-zulfiqar/solana-bundler/internal/queue"
	"github.com/aman-zulfiqar/solana-bundler/internal/trade"
	"github.com/aman-zulfiqar/solana-bundler/internal/transport"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	strategySafe    = "safe"
	strategyMEV     = "mev"
	strategyStagger = "stagger"
	strategyOrder   = "order"
)

// Config holds orchestrator defaults
type Config struct {
	Transport   string
	TipLamports uint64
	// Delay before the second clean-wallet window of an MEV bundle
	CleanWindowDelay time.Duration
	// When set, an MEV bundle waits for the first stage to confirm before dumping
	StageConfirmTimeout time.Duration
	OrderTimeout        time.Duration
}

// Deps are the orchestrator's collaborators. Journal, Confirmer and Metrics
// may be nil.
type Deps struct {
	Signer     Signer
	Queue      Enqueuer
	Blockhash  BlockhashSource
	Confirmer  Confirmer
	Pools      trade.PoolResolver
	Builder    trade.Builder
	Transports []transport.Fast
	// Taken before every fast send, retries included. nil disables throttling.
	Limiter    Limiter
	Risk       *RiskChecker
	Journal    Journal
	Metrics    *metrics.Metrics
	Logger     *logrus.Logger
}

// Orchestrator executes strategies. Every method validates its input before
// touching the network.
type Orchestrator struct {
	cfg        Config
	signer     Signer
	queue      Enqueuer
	blockhash  BlockhashSource
	confirmer  Confirmer
	pools      trade.PoolResolver
	builder    trade.Builder
	transports map[string]transport.Fast
	limiter    Limiter
	risk       *RiskChecker
	journal    Journal
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Transport == "" {
		cfg.Transport = transport.NameHybrid
	}
	if cfg.CleanWindowDelay <= 0 {
		cfg.CleanWindowDelay = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	ts := make(map[string]transport.Fast, len(deps.Transports))
	for _, t := range deps.Transports {
		if t != nil {
			ts[t.Name()] = t
		}
	}
	return &Orchestrator{
		cfg:        cfg,
		signer:     deps.Signer,
		queue:      deps.Queue,
		blockhash:  deps.Blockhash,
		confirmer:  deps.Confirmer,
		pools:      deps.Pools,
		builder:    deps.Builder,
		transports: ts,
		limiter:    deps.Limiter,
		risk:       deps.Risk,
		journal:    deps.Journal,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
}

// SafeSnipe buys mint for wallet after the MEV risk check passes
func (o *Orchestrator) SafeSnipe(ctx context.Context, wallet, mint solana.PublicKey, amount uint64, cfg SnipeConfig) (solana.Signature, error) {
	const op = "bundle.safe_snipe"
	sig, err := o.safeSnipe(ctx, op, wallet, mint, amount, cfg)
	o.metrics.BundleRun(strategySafe, outcome(err))
	return sig, err
}

func (o *Orchestrator) safeSnipe(ctx context.Context, op string, wallet, mint solana.PublicKey, amount uint64, cfg SnipeConfig) (solana.Signature, error) {
	route, err := o.route(op, cfg.Transport)
	if err != nil {
		return solana.Signature{}, err
	}
	if wallet.IsZero() || mint.IsZero() {
		return solana.Signature{}, errs.New(errs.Validation, op, "wallet and mint are required")
	}
	if amount == 0 {
		return solana.Signature{}, errs.New(errs.Validation, op, "amount must be positive")
	}

	// 1. MEV risk, fail closed
	if err := o.checkRisk(ctx, op, mint); err != nil {
		return solana.Signature{}, err
	}

	// 2. Build
	pool, err := o.resolvePool(ctx, op, mint)
	if err != nil {
		return solana.Signature{}, err
	}
	ixs, err := o.legIxs(ctx, op, pool, trade.Leg{Wallet: wallet, Side: trade.SideBuy, Amount: amount})
	if err != nil {
		return solana.Signature{}, err
	}
	if tip := o.tip(cfg.TipLamports); tip > 0 && route != transport.NameRPC {
		ixs = append(ixs, trade.NewTipIx(wallet, tip))
	}
	tx, err := o.buildTx(ctx, op, wallet, ixs)
	if err != nil {
		return solana.Signature{}, err
	}

	// 3. Submit
	sig, err := o.submit(ctx, op, route, tx, []solana.PublicKey{wallet}, cfg.Priority, queue.TransactionConfig{
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return solana.Signature{}, err
	}
	o.record(ctx, sig, strategySafe, "buy", wallet, mint, trade.SideBuy, amount, route)
	return sig, nil
}

// MEVBundleSnipe runs three strictly ordered stages: the dev and MEV wallets
// buy in one transaction, the MEV wallet dumps, then the clean wallets buy in
// two windows through the queue. The returned signatures are the bundle, the
// dump, then one per clean wallet in input order.
func (o *Orchestrator) MEVBundleSnipe(ctx context.Context, mint solana.PublicKey, cfg BundleConfig) ([]solana.Signature, error) {
	const op = "bundle.mev_snipe"
	sigs, err := o.mevBundleSnipe(ctx, op, mint, cfg)
	o.metrics.BundleRun(strategyMEV, outcome(err))
	return sigs, err
}

func (o *Orchestrator) mevBundleSnipe(ctx context.Context, op string, mint solana.PublicKey, cfg BundleConfig) ([]solana.Signature, error) {
	if len(cfg.CleanWallets) < MinCleanWallets {
		return nil, errs.New(errs.InsufficientWallets, op,
			"need at least %d clean wallets, got %d", MinCleanWallets, len(cfg.CleanWallets))
	}
	route, err := o.route(op, cfg.Transport)
	if err != nil {
		return nil, err
	}
	if route == transport.NameRPC {
		// the bundle and dump stages need a block engine for atomic landing
		return nil, errs.New(errs.Validation, op, "MEV bundles need a fast transport, not rpc")
	}
	if mint.IsZero() || cfg.DevWallet.IsZero() || cfg.MEVWallet.IsZero() {
		return nil, errs.New(errs.Validation, op, "mint, dev wallet and MEV wallet are required")
	}
	if cfg.DevWallet.Equals(cfg.MEVWallet) {
		return nil, errs.New(errs.Validation, op, "dev and MEV wallets must differ")
	}
	if cfg.Amount == 0 {
		return nil, errs.New(errs.Validation, op, "amount must be positive")
	}
	if cfg.Delay < 0 {
		return nil, errs.New(errs.Validation, op, "delay must not be negative")
	}
	for _, w := range cfg.CleanWallets {
		if w.IsZero() {
			return nil, errs.New(errs.Validation, op, "clean wallet list contains an empty key")
		}
	}

	pool, err := o.resolvePool(ctx, op, mint)
	if err != nil {
		return nil, err
	}
	log := o.logger.WithFields(logrus.Fields{
		"mint":      mint.String(),
		"clean":     len(cfg.CleanWallets),
		"transport": route,
	})
	stageCfg := queue.TransactionConfig{}

	// Stage 1: dev + MEV buy in the same transaction
	var ixs []solana.Instruction
	for _, w := range []solana.PublicKey{cfg.DevWallet, cfg.MEVWallet} {
		leg, err := o.legIxs(ctx, op, pool, trade.Leg{Wallet: w, Side: trade.SideBuy, Amount: cfg.Amount})
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, leg...)
	}
	if tip := o.tip(cfg.TipLamports); tip > 0 {
		ixs = append(ixs, trade.NewTipIx(cfg.DevWallet, tip))
	}
	tx, err := o.buildTx(ctx, op, cfg.DevWallet, ixs)
	if err != nil {
		return nil, err
	}
	mevSig, err := o.submit(ctx, op, route, tx, []solana.PublicKey{cfg.DevWallet, cfg.MEVWallet}, queue.PriorityHigh, stageCfg)
	if err != nil {
		return nil, fmt.Errorf("bundle stage: %w", err)
	}
	o.record(ctx, mevSig, strategyMEV, "bundle", cfg.MEVWallet, mint, trade.SideBuy, cfg.Amount, route)
	log.WithField("signature", mevSig.String()).Info("bundle stage submitted")

	if err := o.awaitStage(ctx, op, mevSig); err != nil {
		return nil, err
	}

	// Stage 2: MEV wallet dumps
	ixs, err = o.legIxs(ctx, op, pool, trade.Leg{Wallet: cfg.MEVWallet, Side: trade.SideSell, Amount: cfg.Amount})
	if err != nil {
		return nil, err
	}
	tx, err = o.buildTx(ctx, op, cfg.MEVWallet, ixs)
	if err != nil {
		return nil, err
	}
	dumpSig, err := o.submit(ctx, op, route, tx, []solana.PublicKey{cfg.MEVWallet}, queue.PriorityHigh, stageCfg)
	if err != nil {
		return nil, fmt.Errorf("dump stage: %w", err)
	}
	o.record(ctx, dumpSig, strategyMEV, "dump", cfg.MEVWallet, mint, trade.SideSell, cfg.Amount, route)
	log.WithField("signature", dumpSig.String()).Info("dump stage submitted")

	// Stage 3: clean wallets in two windows
	cleanSigs, err := o.cleanWindows(ctx, op, pool, mint, cfg)
	if err != nil {
		return nil, fmt.Errorf("clean stage: %w", err)
	}
	log.Info("clean stage complete")

	return append([]solana.Signature{mevSig, dumpSig}, cleanSigs...), nil
}

// cleanWindows enqueues the first half of the clean wallets immediately and
// the rest after CleanWindowDelay. Both windows run concurrently.
func (o *Orchestrator) cleanWindows(ctx context.Context, op string, pool trade.Pool, mint solana.PublicKey, cfg BundleConfig) ([]solana.Signature, error) {
	wallets := cfg.CleanWallets
	half := len(wallets) / 2
	sigs := make([]solana.Signature, len(wallets))

	g, gctx := errgroup.WithContext(ctx)
	window := func(offset int, delay time.Duration, group []solana.PublicKey) {
		g.Go(func() error {
			if err := sleep(gctx, delay); err != nil {
				return err
			}
			var tg errgroup.Group
			for i, w := range group {
				if i > 0 {
					if err := sleep(gctx, cfg.Delay); err != nil {
						return err
					}
				}
				tk, err := o.enqueueBuy(gctx, op, pool, w, cfg.Amount)
				if err != nil {
					return err
				}
				idx := offset + i
				tg.Go(func() error {
					sig, err := tk.Wait(gctx)
					if err != nil {
						return err
					}
					sigs[idx] = sig
					o.record(ctx, sig, strategyMEV, fmt.Sprintf("clean-%d", idx+1), w, mint, trade.SideBuy, cfg.Amount, transport.NameRPC)
					return nil
				})
			}
			return tg.Wait()
		})
	}
	window(0, 0, wallets[:half])
	window(half, o.cfg.CleanWindowDelay, wallets[half:])

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sigs, nil
}

func (o *Orchestrator) enqueueBuy(ctx context.Context, op string, pool trade.Pool, wallet solana.PublicKey, amount uint64) (*queue.Ticket, error) {
	ixs, err := o.legIxs(ctx, op, pool, trade.Leg{Wallet: wallet, Side: trade.SideBuy, Amount: amount})
	if err != nil {
		return nil, err
	}
	tx, err := o.buildTx(ctx, op, wallet, ixs)
	if err != nil {
		return nil, err
	}
	return o.queue.AddToQueue(tx, []solana.PublicKey{wallet}, queue.PriorityHigh, queue.TransactionConfig{}), nil
}

// StaggerBundleSnipe buys from each wallet in order with delay between
// submissions. On failure it returns the signatures already submitted along
// with the error.
func (o *Orchestrator) StaggerBundleSnipe(ctx context.Context, mint solana.PublicKey, cfg SnipeConfig, wallets []solana.PublicKey, amount uint64, delay time.Duration) ([]solana.Signature, error) {
	const op = "bundle.stagger_snipe"
	sigs, err := o.staggerBundleSnipe(ctx, op, mint, cfg, wallets, amount, delay)
	o.metrics.BundleRun(strategyStagger, outcome(err))
	return sigs, err
}

func (o *Orchestrator) staggerBundleSnipe(ctx context.Context, op string, mint solana.PublicKey, cfg SnipeConfig, wallets []solana.PublicKey, amount uint64, delay time.Duration) ([]solana.Signature, error) {
	route, err := o.route(op, cfg.Transport)
	if err != nil {
		return nil, err
	}
	if mint.IsZero() {
		return nil, errs.New(errs.Validation, op, "mint is required")
	}
	if len(wallets) == 0 {
		return nil, errs.New(errs.Validation, op, "at least one wallet is required")
	}
	if amount == 0 {
		return nil, errs.New(errs.Validation, op, "amount must be positive")
	}
	if delay < 0 {
		return nil, errs.New(errs.Validation, op, "delay must not be negative")
	}

	pool, err := o.resolvePool(ctx, op, mint)
	if err != nil {
		return nil, err
	}

	sigs := make([]solana.Signature, 0, len(wallets))
	for i, w := range wallets {
		if i > 0 {
			if err := sleep(ctx, delay); err != nil {
				return sigs, err
			}
		}
		ixs, err := o.legIxs(ctx, op, pool, trade.Leg{Wallet: w, Side: trade.SideBuy, Amount: amount})
		if err != nil {
			return sigs, err
		}
		if tip := o.tip(cfg.TipLamports); tip > 0 && route != transport.NameRPC {
			ixs = append(ixs, trade.NewTipIx(w, tip))
		}
		tx, err := o.buildTx(ctx, op, w, ixs)
		if err != nil {
			return sigs, err
		}
		sig, err := o.submit(ctx, op, route, tx, []solana.PublicKey{w}, cfg.Priority, queue.TransactionConfig{
			MaxRetries: cfg.MaxRetries,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return sigs, fmt.Errorf("wallet %d of %d: %w", i+1, len(wallets), err)
		}
		sigs = append(sigs, sig)
		o.record(ctx, sig, strategyStagger, fmt.Sprintf("wallet-%d", i+1), w, mint, trade.SideBuy, amount, route)
	}
	return sigs, nil
}

// ExecuteOrder submits a triggered limit order through the queue
func (o *Orchestrator) ExecuteOrder(ctx context.Context, order *orders.LimitOrder) (solana.Signature, error) {
	const op = "bundle.execute_order"
	if order == nil || !order.Side.Valid() || order.Amount == 0 {
		return solana.Signature{}, errs.New(errs.Validation, op, "invalid order")
	}

	pool, err := o.resolvePool(ctx, op, order.TokenMint)
	if err != nil {
		return solana.Signature{}, err
	}
	ixs, err := o.legIxs(ctx, op, pool, trade.Leg{Wallet: order.Wallet, Side: order.Side, Amount: order.Amount})
	if err != nil {
		return solana.Signature{}, err
	}
	tx, err := o.buildTx(ctx, op, order.Wallet, ixs)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := o.queue.AddToQueue(tx, []solana.PublicKey{order.Wallet}, queue.PriorityNormal, queue.TransactionConfig{
		Timeout: o.cfg.OrderTimeout,
	}).Wait(ctx)
	if err != nil {
		return solana.Signature{}, err
	}
	o.record(ctx, sig, strategyOrder, order.ID, order.Wallet, order.TokenMint, order.Side, order.Amount, transport.NameRPC)
	return sig, nil
}

// route resolves the transport name, falling back to the configured default
func (o *Orchestrator) route(op, name string) (string, error) {
	if name == "" {
		name = o.cfg.Transport
	}
	if !transport.ValidName(name) {
		return "", errs.New(errs.Validation, op, "unknown transport %q", name)
	}
	if name == transport.NameRPC {
		return name, nil
	}
	if _, err := o.fast(op, name); err != nil {
		return "", err
	}
	return name, nil
}

func (o *Orchestrator) fast(op, name string) (transport.Fast, error) {
	if name == transport.NameHybrid {
		for _, n := range []string{transport.NameJito, transport.NameBloxroute} {
			if t, ok := o.transports[n]; ok {
				return t, nil
			}
		}
	} else if t, ok := o.transports[name]; ok {
		return t, nil
	}
	return nil, errs.New(errs.Validation, op, "transport %q is not configured", name)
}

// submit signs and sends tx over the fast path, or hands it to the queue for
// the rpc route. hybrid retries the fast send once.
func (o *Orchestrator) submit(ctx context.Context, op, route string, tx *solana.Transaction, signers []solana.PublicKey, priority queue.PriorityClass, cfg queue.TransactionConfig) (solana.Signature, error) {
	if route == transport.NameRPC {
		if priority == 0 {
			priority = queue.PriorityNormal
		}
		return o.queue.AddToQueue(tx, signers, priority, cfg).Wait(ctx)
	}

	fast, err := o.fast(op, route)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := o.signer.SignTransaction(tx, signers...); err != nil {
		return solana.Signature{}, err
	}

	attempts := 1
	if route == transport.NameHybrid {
		attempts = 2
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return solana.Signature{}, tag(errs.TransactionFailed, op, err, fast.Name()+" send throttled")
			}
		}
		sig, err := fast.Send(ctx, tx)
		if err == nil {
			return sig, nil
		}
		lastErr = err
		o.logger.WithError(err).WithFields(logrus.Fields{
			"transport": fast.Name(),
			"attempt":   attempt,
		}).Warn("fast send failed")
		if ctx.Err() != nil {
			break
		}
	}
	return solana.Signature{}, errs.Wrap(errs.TransactionFailed, op, lastErr, fast.Name()+" send failed")
}

func (o *Orchestrator) awaitStage(ctx context.Context, op string, sig solana.Signature) error {
	if o.cfg.StageConfirmTimeout <= 0 || o.confirmer == nil {
		return nil
	}
	if !o.confirmer.ConfirmTransaction(ctx, sig, o.cfg.StageConfirmTimeout) {
		return errs.New(errs.TransactionTimeout, op,
			"bundle stage %s not confirmed within %s", sig, o.cfg.StageConfirmTimeout)
	}
	return nil
}

func (o *Orchestrator) checkRisk(ctx context.Context, op string, mint solana.PublicKey) error {
	if o.risk == nil {
		o.metrics.RiskCheck(true)
		return errs.New(errs.MEVRiskDetected, op, "no risk checker configured")
	}
	res, err := o.risk.Check(ctx, mint)
	if err != nil {
		o.metrics.RiskCheck(true)
		return errs.Wrap(errs.MEVRiskDetected, op, err, "risk assessment unavailable")
	}
	o.metrics.RiskCheck(res.Risky)
	if res.Risky {
		o.logger.WithFields(logrus.Fields{
			"mint":   mint.String(),
			"reason": res.Reason,
		}).Warn("snipe blocked by risk check")
		return errs.New(errs.MEVRiskDetected, op, "%s", res.Reason)
	}
	return nil
}

func (o *Orchestrator) resolvePool(ctx context.Context, op string, mint solana.PublicKey) (trade.Pool, error) {
	pool, err := o.pools.ResolvePool(ctx, mint, trade.NativeMint)
	if err != nil {
		return trade.Pool{}, tag(errs.Validation, op, err, "no pool for "+mint.String())
	}
	return pool, nil
}

func (o *Orchestrator) legIxs(ctx context.Context, op string, pool trade.Pool, leg trade.Leg) ([]solana.Instruction, error) {
	ixs, err := o.builder.BuildSwap(ctx, pool, leg)
	if err != nil {
		return nil, tag(errs.TransactionFailed, op, err, "build "+string(leg.Side))
	}
	return ixs, nil
}

func (o *Orchestrator) buildTx(ctx context.Context, op string, payer solana.PublicKey, ixs []solana.Instruction) (*solana.Transaction, error) {
	hash, err := o.blockhash.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, tag(errs.Connection, op, err, "latest blockhash")
	}
	tx, err := trade.NewTransaction(ixs, payer, hash)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, op, err, "assemble transaction")
	}
	return tx, nil
}

func (o *Orchestrator) tip(lamports uint64) uint64 {
	if lamports > 0 {
		return lamports
	}
	return o.cfg.TipLamports
}

func (o *Orchestrator) record(ctx context.Context, sig solana.Signature, strategy, stage string, wallet, mint solana.PublicKey, side trade.Side, amount uint64, route string) {
	if o.journal == nil {
		return
	}
	o.journal.Record(ctx, &models.ExecutionEvent{
		Signature: sig.String(),
		Timestamp: time.Now().UTC(),
		Strategy:  strategy,
		Stage:     stage,
		Wallet:    wallet.String(),
		Mint:      mint.String(),
		Side:      string(side),
		Amount:    amount,
		Transport: route,
	})
}

// tag keeps an existing error kind and only assigns kind to untagged errors
func tag(kind errs.Kind, op string, err error, msg string) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return fmt.Errorf("%s: %s: %w", op, msg, err)
	}
	return errs.Wrap(kind, op, err, msg)
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
