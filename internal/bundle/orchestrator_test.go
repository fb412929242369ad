package bundle

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/aman-zulfiqar/solana-bundler/internal/orders"
	"github.com/aman-zulfiqar/solana-bundler/internal/pools"
	"github.com/aman-zulfiqar/solana-bundler/internal/prices"
	"github.com/aman-zulfiqar/solana-bundler/internal/queue"
	"github.com/aman-zulfiqar/solana-bundler/internal/rpc"
	"github.com/aman-zulfiqar/solana-bundler/internal/trade"
	"github.com/aman-zulfiqar/solana-bundler/internal/transport"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var testMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

type nopSigner struct{ calls int32 }

func (s *nopSigner) SignTransaction(*solana.Transaction, ...solana.PublicKey) error {
	atomic.AddInt32(&s.calls, 1)
	return nil
}

type countingBlockhash struct{ calls int32 }

func (b *countingBlockhash) GetLatestBlockhash(context.Context) (solana.Hash, error) {
	atomic.AddInt32(&b.calls, 1)
	return solana.Hash{7}, nil
}

// sendLog records every submission with its payer, across fast and queued paths
type sendLog struct {
	mu      sync.Mutex
	entries []sendEntry
	seq     int
}

type sendEntry struct {
	path  string
	payer solana.PublicKey
	at    time.Time
}

func (l *sendLog) add(path string, tx *solana.Transaction) solana.Signature {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.entries = append(l.entries, sendEntry{path: path, payer: tx.Message.AccountKeys[0], at: time.Now()})
	return solana.Signature{byte(l.seq), byte(l.seq >> 8), 9}
}

func (l *sendLog) snapshot() []sendEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sendEntry(nil), l.entries...)
}

type fakeFast struct {
	name  string
	log   *sendLog
	fails int32
	calls int32
}

func (f *fakeFast) Name() string { return f.name }

func (f *fakeFast) Send(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	atomic.AddInt32(&f.calls, 1)
	if atomic.AddInt32(&f.fails, -1) >= 0 {
		return solana.Signature{}, errors.New("block engine unavailable")
	}
	return f.log.add(f.name, tx), nil
}

type rpcSubmitter struct{ log *sendLog }

func (s rpcSubmitter) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return s.log.add("rpc", tx), nil
}

type journalRec struct {
	mu     sync.Mutex
	events []*models.ExecutionEvent
}

func (j *journalRec) Record(_ context.Context, ev *models.ExecutionEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
}

func (j *journalRec) stages() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.events))
	for i, ev := range j.events {
		out[i] = ev.Stage
	}
	return out
}

type fakeSamples struct {
	samples []rpc.PerformanceSample
	err     error
	calls   int32
}

func (f *fakeSamples) GetRecentPerformanceSamples(context.Context, int) ([]rpc.PerformanceSample, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.samples, f.err
}

func calmSamples() []rpc.PerformanceSample {
	return []rpc.PerformanceSample{
		{Slot: 4, NumTransactions: 60000, SamplePeriodSecs: 60},
		{Slot: 3, NumTransactions: 60000, SamplePeriodSecs: 60},
		{Slot: 2, NumTransactions: 58000, SamplePeriodSecs: 60},
	}
}

type harness struct {
	o         *Orchestrator
	log       *sendLog
	jito      *fakeFast
	signer    *nopSigner
	blockhash *countingBlockhash
	samples   *fakeSamples
	oracle    *prices.Static
	journal   *journalRec
	queue     *queue.Queue
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		log:       &sendLog{},
		signer:    &nopSigner{},
		blockhash: &countingBlockhash{},
		samples:   &fakeSamples{samples: calmSamples()},
		oracle:    prices.NewStatic(),
		journal:   &journalRec{},
	}
	h.jito = &fakeFast{name: transport.NameJito, log: h.log}
	h.oracle.Set(testMint, decimal.NewFromFloat(0.5))

	h.queue = queue.New(queue.Config{
		BatchSize:    25,
		RetryBackoff: time.Millisecond,
		Logger:       quietLogger(),
	}, rpcSubmitter{log: h.log}, h.signer, nil)
	t.Cleanup(h.queue.Close)

	tracker := prices.NewTracker(prices.TrackerConfig{Oracle: h.oracle, Logger: quietLogger()})
	h.o = New(cfg, Deps{
		Signer:     h.signer,
		Queue:      h.queue,
		Blockhash:  h.blockhash,
		Pools:      pools.NewRegistry(trade.Pool{ID: solana.NewWallet().PublicKey(), BaseMint: testMint, QuoteMint: trade.NativeMint}),
		Builder:    trade.TransferBuilder{},
		Transports: []transport.Fast{h.jito},
		Risk:       NewRiskChecker(RiskConfig{}, h.samples, tracker),
		Journal:    h.journal,
		Logger:     quietLogger(),
	})
	return h
}

func wallets(n int) []solana.PublicKey {
	out := make([]solana.PublicKey, n)
	for i := range out {
		out[i] = solana.NewWallet().PublicKey()
	}
	return out
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestMEVBundleSnipe_InsufficientWallets(t *testing.T) {
	h := newHarness(t, Config{})
	ws := wallets(21)

	_, err := h.o.MEVBundleSnipe(testCtx(t), testMint, BundleConfig{
		DevWallet:    ws[0],
		MEVWallet:    ws[1],
		CleanWallets: ws[2:],
		Amount:       1000,
	})
	require.ErrorIs(t, err, errs.ErrInsufficientWallets)

	assert.Zero(t, atomic.LoadInt32(&h.jito.calls))
	assert.Zero(t, atomic.LoadInt32(&h.blockhash.calls))
	assert.Zero(t, atomic.LoadInt32(&h.samples.calls))
	assert.Empty(t, h.log.snapshot())
	assert.Zero(t, h.queue.Len())
}

func TestMEVBundleSnipe_StagesInOrder(t *testing.T) {
	h := newHarness(t, Config{CleanWindowDelay: 60 * time.Millisecond})
	ws := wallets(22)
	dev, mev, clean := ws[0], ws[1], ws[2:]

	start := time.Now()
	sigs, err := h.o.MEVBundleSnipe(testCtx(t), testMint, BundleConfig{
		DevWallet:    dev,
		MEVWallet:    mev,
		CleanWallets: clean,
		Amount:       1000,
		TipLamports:  5000,
	})
	require.NoError(t, err)
	require.Len(t, sigs, 2+len(clean))

	entries := h.log.snapshot()
	require.Len(t, entries, 22)
	assert.Equal(t, transport.NameJito, entries[0].path)
	assert.Equal(t, dev, entries[0].payer)
	assert.Equal(t, transport.NameJito, entries[1].path)
	assert.Equal(t, mev, entries[1].payer)

	sent := map[solana.PublicKey]time.Time{}
	for _, e := range entries[2:] {
		assert.Equal(t, "rpc", e.path)
		sent[e.payer] = e.at
	}
	require.Len(t, sent, len(clean))
	for _, w := range clean[len(clean)/2:] {
		assert.GreaterOrEqual(t, sent[w].Sub(start), 60*time.Millisecond)
	}

	seen := map[solana.Signature]bool{}
	for _, s := range sigs {
		assert.False(t, seen[s], "duplicate signature")
		seen[s] = true
	}

	stages := h.journal.stages()
	require.Len(t, stages, 22)
	assert.Equal(t, []string{"bundle", "dump"}, stages[:2])
}

func TestMEVBundleSnipe_StageFailureAborts(t *testing.T) {
	h := newHarness(t, Config{})
	h.jito.fails = 2
	ws := wallets(22)

	_, err := h.o.MEVBundleSnipe(testCtx(t), testMint, BundleConfig{
		DevWallet:    ws[0],
		MEVWallet:    ws[1],
		CleanWallets: ws[2:],
		Amount:       1000,
	})
	require.ErrorIs(t, err, errs.ErrTransactionFailed)
	// hybrid retries once, then nothing later runs
	assert.Equal(t, int32(2), atomic.LoadInt32(&h.jito.calls))
	assert.Empty(t, h.log.snapshot())
}

func TestMEVBundleSnipe_Validation(t *testing.T) {
	h := newHarness(t, Config{})
	ws := wallets(22)
	_, err := h.o.MEVBundleSnipe(testCtx(t), testMint, BundleConfig{
		DevWallet:    ws[0],
		MEVWallet:    ws[0],
		CleanWallets: ws[2:],
		Amount:       1000,
	})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = h.o.MEVBundleSnipe(testCtx(t), testMint, BundleConfig{
		DevWallet:    ws[0],
		MEVWallet:    ws[1],
		CleanWallets: ws[2:],
	})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Zero(t, atomic.LoadInt32(&h.blockhash.calls))
}

func TestMEVBundleSnipe_RejectsRPCTransport(t *testing.T) {
	h := newHarness(t, Config{})
	ws := wallets(22)
	_, err := h.o.MEVBundleSnipe(testCtx(t), testMint, BundleConfig{
		DevWallet:    ws[0],
		MEVWallet:    ws[1],
		CleanWallets: ws[2:],
		Amount:       1000,
		Transport:    transport.NameRPC,
	})
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Zero(t, atomic.LoadInt32(&h.blockhash.calls))
	assert.Zero(t, h.queue.Len())
	assert.Empty(t, h.log.snapshot())
}

type countingLimiter struct {
	waits int32
	err   error
}

func (l *countingLimiter) Wait(context.Context) error {
	atomic.AddInt32(&l.waits, 1)
	return l.err
}

func TestSafeSnipe_EveryFastSendTakesAToken(t *testing.T) {
	h := newHarness(t, Config{})
	lim := &countingLimiter{}
	h.o.limiter = lim
	h.jito.fails = 1

	_, err := h.o.SafeSnipe(testCtx(t), solana.NewWallet().PublicKey(), testMint, 1000, SnipeConfig{})
	require.NoError(t, err)
	// the hybrid retry is a second send and pays for its own token
	assert.Equal(t, int32(2), atomic.LoadInt32(&h.jito.calls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&lim.waits))
}

func TestSafeSnipe_LimiterErrorFailsSend(t *testing.T) {
	h := newHarness(t, Config{})
	h.o.limiter = &countingLimiter{err: context.Canceled}

	_, err := h.o.SafeSnipe(testCtx(t), solana.NewWallet().PublicKey(), testMint, 1000, SnipeConfig{Transport: transport.NameJito})
	assert.ErrorIs(t, err, errs.ErrTransactionFailed)
	assert.Zero(t, atomic.LoadInt32(&h.jito.calls))
}

func TestStaggerBundleSnipe_FastSendsShareRate(t *testing.T) {
	h := newHarness(t, Config{})
	h.o.limiter = rate.NewLimiter(rate.Limit(20), 1)
	ws := wallets(6)

	start := time.Now()
	sigs, err := h.o.StaggerBundleSnipe(testCtx(t), testMint, SnipeConfig{Transport: transport.NameJito}, ws, 1000, 0)
	require.NoError(t, err)
	require.Len(t, sigs, len(ws))
	// one token up front, then 50ms per send
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, int32(len(ws)), atomic.LoadInt32(&h.jito.calls))
}

func TestSafeSnipe_FastPath(t *testing.T) {
	h := newHarness(t, Config{})
	w := solana.NewWallet().PublicKey()

	sig, err := h.o.SafeSnipe(testCtx(t), w, testMint, 1000, SnipeConfig{Transport: transport.NameJito})
	require.NoError(t, err)
	assert.NotEqual(t, solana.Signature{}, sig)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.signer.calls))
	assert.Equal(t, []string{"buy"}, h.journal.stages())
}

func TestSafeSnipe_JitoDoesNotRetry(t *testing.T) {
	h := newHarness(t, Config{})
	h.jito.fails = 1
	_, err := h.o.SafeSnipe(testCtx(t), solana.NewWallet().PublicKey(), testMint, 1000, SnipeConfig{Transport: transport.NameJito})
	assert.ErrorIs(t, err, errs.ErrTransactionFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.jito.calls))
}

func TestSafeSnipe_HybridRetriesOnce(t *testing.T) {
	h := newHarness(t, Config{})
	h.jito.fails = 1
	_, err := h.o.SafeSnipe(testCtx(t), solana.NewWallet().PublicKey(), testMint, 1000, SnipeConfig{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&h.jito.calls))
}

func TestSafeSnipe_RPCUsesQueue(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.o.SafeSnipe(testCtx(t), solana.NewWallet().PublicKey(), testMint, 1000, SnipeConfig{Transport: transport.NameRPC})
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&h.jito.calls))
	entries := h.log.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "rpc", entries[0].path)
}

func TestSafeSnipe_RiskFailsClosed(t *testing.T) {
	h := newHarness(t, Config{})
	h.samples.err = errors.New("rpc down")

	_, err := h.o.SafeSnipe(testCtx(t), solana.NewWallet().PublicKey(), testMint, 1000, SnipeConfig{})
	assert.ErrorIs(t, err, errs.ErrMEVRiskDetected)
	assert.Zero(t, atomic.LoadInt32(&h.blockhash.calls))
	assert.Zero(t, atomic.LoadInt32(&h.jito.calls))
}

func TestSafeSnipe_RiskSpikeBlocks(t *testing.T) {
	h := newHarness(t, Config{})
	h.samples.samples[0].NumTransactions = 500000

	_, err := h.o.SafeSnipe(testCtx(t), solana.NewWallet().PublicKey(), testMint, 1000, SnipeConfig{})
	assert.ErrorIs(t, err, errs.ErrMEVRiskDetected)
	assert.Empty(t, h.log.snapshot())
}

func TestSafeSnipe_UnconfiguredTransport(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.o.SafeSnipe(testCtx(t), solana.NewWallet().PublicKey(), testMint, 1000, SnipeConfig{Transport: transport.NameBloxroute})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = h.o.SafeSnipe(testCtx(t), solana.NewWallet().PublicKey(), testMint, 1000, SnipeConfig{Transport: "carrier-pigeon"})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Zero(t, atomic.LoadInt32(&h.samples.calls))
}

func TestSafeSnipe_UnknownPool(t *testing.T) {
	h := newHarness(t, Config{})
	other := solana.NewWallet().PublicKey()
	h.oracle.Set(other, decimal.NewFromInt(1))
	_, err := h.o.SafeSnipe(testCtx(t), solana.NewWallet().PublicKey(), other, 1000, SnipeConfig{})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestStaggerBundleSnipe_OrderAndDelay(t *testing.T) {
	h := newHarness(t, Config{})
	ws := wallets(4)
	delay := 30 * time.Millisecond

	sigs, err := h.o.StaggerBundleSnipe(testCtx(t), testMint, SnipeConfig{Transport: transport.NameJito}, ws, 1000, delay)
	require.NoError(t, err)
	require.Len(t, sigs, len(ws))

	entries := h.log.snapshot()
	require.Len(t, entries, len(ws))
	for i, e := range entries {
		assert.Equal(t, ws[i], e.payer)
		if i > 0 {
			assert.GreaterOrEqual(t, e.at.Sub(entries[i-1].at), delay)
		}
	}
	assert.Equal(t, []string{"wallet-1", "wallet-2", "wallet-3", "wallet-4"}, h.journal.stages())
}

func TestStaggerBundleSnipe_PartialOnFailure(t *testing.T) {
	h := newHarness(t, Config{})
	ws := wallets(3)
	// first send succeeds, then the block engine stays down
	var n int32
	h.o.transports[transport.NameJito] = sendFunc(func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
		if atomic.AddInt32(&n, 1) > 1 {
			return solana.Signature{}, errors.New("down")
		}
		return h.jito.Send(ctx, tx)
	})

	sigs, err := h.o.StaggerBundleSnipe(testCtx(t), testMint, SnipeConfig{Transport: transport.NameJito}, ws, 1000, 0)
	assert.ErrorIs(t, err, errs.ErrTransactionFailed)
	assert.Len(t, sigs, 1)
}

func TestStaggerBundleSnipe_Validation(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.o.StaggerBundleSnipe(testCtx(t), testMint, SnipeConfig{}, nil, 1000, 0)
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = h.o.StaggerBundleSnipe(testCtx(t), testMint, SnipeConfig{}, wallets(1), 1000, -time.Second)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestExecuteOrder(t *testing.T) {
	h := newHarness(t, Config{})
	order := &orders.LimitOrder{
		ID:        "o-1",
		Wallet:    solana.NewWallet().PublicKey(),
		TokenMint: testMint,
		Amount:    250,
		Side:      trade.SideSell,
	}
	sig, err := h.o.ExecuteOrder(testCtx(t), order)
	require.NoError(t, err)
	assert.NotEqual(t, solana.Signature{}, sig)

	entries := h.log.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "rpc", entries[0].path)
	assert.Equal(t, order.Wallet, entries[0].payer)
}

type sendFunc func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

func (f sendFunc) Name() string { return transport.NameJito }

func (f sendFunc) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return f(ctx, tx)
}
