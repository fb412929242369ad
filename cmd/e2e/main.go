package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/bundle"
	"github.com/aman-zulfiqar/solana-bundler/internal/config"
	"github.com/aman-zulfiqar/solana-bundler/internal/engine"
	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/aman-zulfiqar/solana-bundler/internal/orders"
	"github.com/aman-zulfiqar/solana-bundler/internal/queue"
	"github.com/aman-zulfiqar/solana-bundler/internal/trade"
	"github.com/aman-zulfiqar/solana-bundler/internal/transport"
	"github.com/aman-zulfiqar/solana-bundler/internal/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func loadEnv() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	_ = godotenv.Load(filepath.Join(projectRoot, ".env"))
}

func main() {
	loadEnv()

	rpcURL := flag.String("rpc", "https://api.devnet.solana.com", "test cluster RPC endpoint")
	transportName := flag.String("transport", "rpc", "hybrid | jito | bloxroute | rpc")
	airdrop := flag.Float64("airdrop", 1, "SOL airdropped to the funding wallet")
	fund := flag.Float64("fund", 0.02, "SOL sent from the funding wallet to each test wallet")
	amount := flag.Uint64("amount", 10_000, "lamports per trade leg")
	stepTimeout := flag.Duration("step-timeout", 2*time.Minute, "per-test timeout")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	cfg := config.Load()
	cfg.RPCEndpoints = []string{*rpcURL}
	cfg.Transport = *transportName
	cfg.PriceSource = "static"
	cfg.WalletPath = ""
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.CleanWindowDelay = time.Second
	if cfg.WalletPassword == "" {
		cfg.WalletPassword = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Fresh mint with a registered pool and a fixed price
	mint := solana.NewWallet().PublicKey()
	pool := trade.Pool{ID: solana.NewWallet().PublicKey(), BaseMint: mint, QuoteMint: trade.NativeMint, Source: "e2e"}

	eng, err := engine.New(ctx, cfg, engine.Options{Logger: logger, Pools: []trade.Pool{pool}})
	if err != nil {
		logger.WithError(err).Fatal("failed to init engine")
	}
	defer eng.Close()
	eng.Static.Set(mint, decimal.RequireFromString("0.001"))

	go func() {
		if err := eng.Run(ctx); err != nil {
			logger.WithError(err).Error("background loops stopped")
		}
	}()

	s := &suite{
		eng:       eng,
		mint:      mint,
		transport: *transportName,
		airdrop:   uint64(*airdrop * float64(solana.LAMPORTS_PER_SOL)),
		fund:      uint64(*fund * float64(solana.LAMPORTS_PER_SOL)),
		amount:    *amount,
	}
	r := &runner{timeout: *stepTimeout, logger: logger}
	r.run(ctx, s.steps())
	r.report(os.Stdout)

	if eng.ClickHouse != nil {
		counts, err := eng.ClickHouse.CountByStrategy(context.Background())
		if err != nil {
			logger.WithError(err).Warn("clickhouse summary failed")
		} else {
			fmt.Println("\nexecutions by strategy:")
			for strategy, n := range counts {
				fmt.Printf("  %-10s %d\n", strategy, n)
			}
		}
	}

	if r.failed() > 0 {
		os.Exit(1)
	}
}

// suite holds state shared across steps: the funding wallet and the wallets
// it funded.
type suite struct {
	eng       *engine.Engine
	mint      solana.PublicKey
	transport string
	airdrop   uint64
	fund      uint64
	amount    uint64

	funder  solana.PublicKey
	wallets []solana.PublicKey
}

func (s *suite) snipeConfig() bundle.SnipeConfig {
	return bundle.SnipeConfig{Transport: s.transport}
}

func (s *suite) steps() []step {
	return []step{
		{name: "connection.active", required: true, run: s.activeConnection},
		{name: "wallet.generate", required: true, run: s.generateWallets},
		{name: "wallet.export_import", run: s.exportImport},
		{name: "wallet.label", run: s.updateLabel},
		{name: "fund.airdrop", required: true, run: s.airdropFunder},
		{name: "queue.fund_wallets", required: true, run: s.fundWallets},
		{name: "queue.priorities", run: s.queuePriorities},
		{name: "wallet.balances", run: s.balances},
		{name: "bundle.safe_snipe", run: s.safeSnipe},
		{name: "bundle.stagger", run: s.stagger},
		{name: "bundle.mev_insufficient_wallets", run: s.mevInsufficient},
		{name: "bundle.mev", run: s.mevBundle},
		{name: "orders.execute", run: s.orderExecutes},
		{name: "orders.cancel", run: s.orderCancel},
		{name: "orders.expire", run: s.orderExpires},
		{name: "executions.recent", run: s.recentExecutions},
	}
}

func (s *suite) activeConnection(ctx context.Context) error {
	if _, err := s.eng.Conn.GetActiveConnection(ctx); err != nil {
		return err
	}
	if s.eng.Conn.ActiveEndpoint() == "" {
		return errors.New("no active endpoint recorded")
	}
	return nil
}

func (s *suite) generateWallets(ctx context.Context) error {
	funder, err := s.eng.Wallets.AddWallet(ctx, "funder")
	if err != nil {
		return err
	}
	s.funder = funder.PublicKey

	// dev + mev + the minimum clean set
	got, err := s.eng.Wallets.GenerateWallets(ctx, bundle.MinCleanWallets+2)
	if err != nil {
		return err
	}
	for _, w := range got {
		s.wallets = append(s.wallets, w.PublicKey)
	}
	if s.eng.Wallets.Len() != len(got)+1 {
		return fmt.Errorf("store has %d wallets, want %d", s.eng.Wallets.Len(), len(got)+1)
	}
	return nil
}

func (s *suite) exportImport(ctx context.Context) error {
	blob, err := s.eng.Wallets.ExportWallets()
	if err != nil {
		return err
	}
	other, err := wallet.Open(wallet.Config{
		Password:      s.eng.Config.WalletPassword,
		KDFIterations: s.eng.Config.KDFIterations,
		Logger:        s.eng.Logger,
	})
	if err != nil {
		return err
	}
	defer other.Close()
	n, err := other.ImportWallets(blob)
	if err != nil {
		return err
	}
	if n != s.eng.Wallets.Len() {
		return fmt.Errorf("imported %d wallets, want %d", n, s.eng.Wallets.Len())
	}
	return nil
}

func (s *suite) updateLabel(context.Context) error {
	if err := s.eng.Wallets.UpdateWalletLabel(s.wallets[0], "dev"); err != nil {
		return err
	}
	info, _ := s.eng.Wallets.Get(s.wallets[0])
	if info.Label != "dev" {
		return fmt.Errorf("label is %q", info.Label)
	}
	return nil
}

func (s *suite) airdropFunder(ctx context.Context) error {
	sig, err := s.eng.Conn.RequestAirdrop(ctx, s.funder, s.airdrop)
	if err != nil {
		return err
	}
	if !s.eng.Conn.ConfirmTransaction(ctx, sig, 60*time.Second) {
		return errs.New(errs.TransactionTimeout, "e2e.airdrop", "airdrop %s not confirmed", sig)
	}
	return nil
}

// fundWallets pays every test wallet from the funder through the queue
func (s *suite) fundWallets(ctx context.Context) error {
	const perTx = 10
	var tickets []*queue.Ticket
	for start := 0; start < len(s.wallets); start += perTx {
		end := min(start+perTx, len(s.wallets))
		var ixs []solana.Instruction
		for _, to := range s.wallets[start:end] {
			ixs = append(ixs, trade.NewSystemTransferIx(s.funder, to, s.fund))
		}
		tx, err := trade.NewTransaction(ixs, s.funder, solana.Hash{})
		if err != nil {
			return err
		}
		tickets = append(tickets, s.eng.Queue.AddToQueue(tx, []solana.PublicKey{s.funder}, queue.PriorityHigh, queue.TransactionConfig{}))
	}
	for _, tk := range tickets {
		if _, err := tk.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *suite) queuePriorities(ctx context.Context) error {
	var tickets []*queue.Ticket
	for i, p := range []queue.PriorityClass{queue.PriorityLow, queue.PriorityNormal, queue.PriorityHigh} {
		from := s.wallets[i]
		tx, err := trade.NewTransaction([]solana.Instruction{
			trade.NewMemoIx(from, fmt.Sprintf("e2e priority %d", p)),
		}, from, solana.Hash{})
		if err != nil {
			return err
		}
		tickets = append(tickets, s.eng.Queue.AddToQueue(tx, []solana.PublicKey{from}, p, queue.TransactionConfig{}))
	}
	for _, tk := range tickets {
		if _, err := tk.Wait(ctx); err != nil {
			return err
		}
	}
	stats := s.eng.Queue.Stats()
	if stats.Failed > 0 {
		return fmt.Errorf("queue reports %d failed items", stats.Failed)
	}
	return nil
}

func (s *suite) balances(ctx context.Context) error {
	// generated wallets were subscribed by the engine as they were added
	for _, pub := range s.wallets {
		if !s.eng.Watcher.Subscribed(pub) {
			return fmt.Errorf("wallet %s is not subscribed", pub)
		}
	}
	s.eng.Watcher.Poll(ctx)
	for _, pub := range s.wallets {
		info, _ := s.eng.Wallets.Get(pub)
		if info.Balance <= 0 {
			return fmt.Errorf("wallet %s has no balance after funding", pub)
		}
	}
	return nil
}

func (s *suite) safeSnipe(ctx context.Context) error {
	_, err := s.eng.Bundles.SafeSnipe(ctx, s.wallets[0], s.mint, s.amount, s.snipeConfig())
	return err
}

func (s *suite) stagger(ctx context.Context) error {
	sigs, err := s.eng.Bundles.StaggerBundleSnipe(ctx, s.mint, s.snipeConfig(), s.wallets[1:4], s.amount, 200*time.Millisecond)
	if err != nil {
		return err
	}
	if len(sigs) != 3 {
		return fmt.Errorf("got %d signatures, want 3", len(sigs))
	}
	return nil
}

func (s *suite) mevConfig(clean []solana.PublicKey) bundle.BundleConfig {
	return bundle.BundleConfig{
		DevWallet:    s.wallets[0],
		MEVWallet:    s.wallets[1],
		CleanWallets: clean,
		Amount:       s.amount,
		Transport:    s.transport,
	}
}

func (s *suite) mevInsufficient(ctx context.Context) error {
	_, err := s.eng.Bundles.MEVBundleSnipe(ctx, s.mint, s.mevConfig(s.wallets[2:7]))
	if !errors.Is(err, errs.ErrInsufficientWallets) {
		return fmt.Errorf("want InsufficientWallets, got %v", err)
	}
	return nil
}

func (s *suite) mevBundle(ctx context.Context) error {
	clean := s.wallets[2 : 2+bundle.MinCleanWallets]
	sigs, err := s.eng.Bundles.MEVBundleSnipe(ctx, s.mint, s.mevConfig(clean))
	if s.transport == transport.NameRPC {
		if !errors.Is(err, errs.ErrValidation) {
			return fmt.Errorf("rpc transport: want Validation, got %v", err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if want := 2 + len(clean); len(sigs) != want {
		return fmt.Errorf("got %d signatures, want %d", len(sigs), want)
	}
	return nil
}

func (s *suite) waitOrder(ctx context.Context, id string, want orders.Status) error {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		o, ok := s.eng.Orders.GetOrder(id)
		if !ok {
			return fmt.Errorf("order %s disappeared", id)
		}
		if o.Status == want {
			return nil
		}
		if o.Status != orders.StatusPending {
			return fmt.Errorf("order %s is %s, want %s (last error: %s)", id, o.Status, want, o.LastError)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("order %s still %s: %w", id, o.Status, ctx.Err())
		case <-tick.C:
		}
	}
}

func (s *suite) orderExecutes(ctx context.Context) error {
	o, err := s.eng.Orders.CreateOrder(ctx, orders.OrderRequest{
		Wallet: s.wallets[4],
		Mint:   s.mint,
		Amount: s.amount,
		Price:  decimal.RequireFromString("0.002"),
		Side:   trade.SideBuy,
		TTL:    time.Minute,
	})
	if err != nil {
		return err
	}
	return s.waitOrder(ctx, o.ID, orders.StatusExecuted)
}

func (s *suite) orderCancel(ctx context.Context) error {
	o, err := s.eng.Orders.CreateOrder(ctx, orders.OrderRequest{
		Wallet: s.wallets[5],
		Mint:   s.mint,
		Amount: s.amount,
		Price:  decimal.RequireFromString("1000"),
		Side:   trade.SideSell,
		TTL:    time.Minute,
	})
	if err != nil {
		return err
	}
	if _, err := s.eng.Orders.CancelOrder(ctx, o.ID); err != nil {
		return err
	}
	return s.waitOrder(ctx, o.ID, orders.StatusCancelled)
}

func (s *suite) orderExpires(ctx context.Context) error {
	o, err := s.eng.Orders.CreateOrder(ctx, orders.OrderRequest{
		Wallet: s.wallets[6],
		Mint:   s.mint,
		Amount: s.amount,
		Price:  decimal.RequireFromString("0.0000001"),
		Side:   trade.SideBuy,
		TTL:    500 * time.Millisecond,
	})
	if err != nil {
		return err
	}
	return s.waitOrder(ctx, o.ID, orders.StatusCancelled)
}

func (s *suite) recentExecutions(ctx context.Context) error {
	events, err := s.eng.Journal.Recent(ctx, 100)
	if err != nil {
		return err
	}
	if s.eng.Redis != nil && len(events) == 0 {
		return errors.New("journal is empty after executions")
	}
	return nil
}
