// Package engine wires the bundler's components from configuration.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/bundle"
	"github.com/aman-zulfiqar/solana-bundler/internal/cache"
	"github.com/aman-zulfiqar/solana-bundler/internal/config"
	"github.com/aman-zulfiqar/solana-bundler/internal/connection"
	"github.com/aman-zulfiqar/solana-bundler/internal/jupiter"
	"github.com/aman-zulfiqar/solana-bundler/internal/metrics"
	"github.com/aman-zulfiqar/solana-bundler/internal/orders"
	"github.com/aman-zulfiqar/solana-bundler/internal/pools"
	"github.com/aman-zulfiqar/solana-bundler/internal/prices"
	"github.com/aman-zulfiqar/solana-bundler/internal/queue"
	"github.com/aman-zulfiqar/solana-bundler/internal/rpc"
	"github.com/aman-zulfiqar/solana-bundler/internal/server"
	"github.com/aman-zulfiqar/solana-bundler/internal/storage"
	"github.com/aman-zulfiqar/solana-bundler/internal/trade"
	"github.com/aman-zulfiqar/solana-bundler/internal/transport"
	"github.com/aman-zulfiqar/solana-bundler/internal/wallet"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Options carries what cannot come from the environment
type Options struct {
	Logger *logrus.Logger
	// Pools added to the configured registry, e.g. a test mint on devnet
	Pools []trade.Pool
	// Replaces the configured price oracle before it is wrapped by the tracker
	Oracle trade.PriceOracle
}

// Engine owns every long-lived component. Redis, ClickHouse and Static are
// nil when not configured.
type Engine struct {
	Config  *config.Config
	Logger  *logrus.Logger
	Metrics *metrics.Metrics

	Conn    *connection.Manager
	Wallets *wallet.Store
	Watcher *wallet.BalanceWatcher
	Queue   *queue.Queue
	Prices  *prices.Tracker
	Static  *prices.Static
	Bundles *bundle.Orchestrator
	Orders  *orders.Monitor
	Journal *cache.Journal

	Redis      *cache.RedisCache
	ClickHouse *cache.ClickHouseStore
}

// New builds an engine. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	e := &Engine{Config: cfg, Logger: logger, Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	// 1. RPC endpoints
	conn, err := connection.NewManager(connection.Config{
		Endpoints:        cfg.RPCEndpoints,
		ProbeTimeout:     cfg.ProbeTimeout,
		ConfirmInterval:  cfg.ConfirmInterval,
		RateCapacity:     cfg.RateCapacity,
		RateRefillPerSec: cfg.RateRefillPerSec,
		HTTPTimeout:      cfg.HTTPTimeout,
		MaxRetries:       cfg.MaxRetries,
		RetryBackoff:     cfg.RetryBackoff,
		SendOptions:      rpc.SendOptions{PreflightCommitment: "processed"},
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}
	e.Conn = conn

	// 2. Wallet store and balance watcher
	store, err := wallet.Open(wallet.Config{
		Path:          cfg.WalletPath,
		Password:      cfg.WalletPassword,
		KDFIterations: cfg.KDFIterations,
		KeygenWorkers: cfg.KeygenWorkers,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet store: %w", err)
	}
	e.Wallets = store
	e.Watcher = wallet.NewBalanceWatcher(wallet.WatcherConfig{
		Store:        store,
		Fetcher:      conn,
		PollInterval: cfg.BalancePollInterval,
		Logger:       logger,
	})
	e.Watcher.Follow()

	// 3. Transaction queue
	e.Queue = queue.New(queue.Config{
		BatchSize:    cfg.QueueBatchSize,
		MaxRetries:   cfg.QueueMaxRetries,
		RetryBackoff: cfg.QueueRetryBackoff,
		Timeout:      cfg.QueueTimeout,
		Blockhash:    conn,
		Metrics:      e.Metrics,
		Logger:       logger,
	}, conn, store, conn)

	// 4. Redis: recent executions, price cache, pub/sub, order persistence
	var orderStore orders.Store
	var execCache storage.ExecutionCache
	var priceSink prices.Sink
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		rc, err := cache.NewRedisCache(client)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis cache: %w", err)
		}
		if err := rc.Ping(ctx); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		e.Redis = rc
		execCache, priceSink = rc, rc
		if orderStore, err = orders.NewRedisStore(client); err != nil {
			return nil, err
		}
	}

	// 5. ClickHouse execution history
	var execStore storage.ExecutionStore
	if cfg.ClickHouseAddr != "" {
		ch, err := cache.NewClickHouseStore(ctx, cache.ClickHouseConfig{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			return nil, err
		}
		e.ClickHouse = ch
		execStore = ch
	}
	e.Journal = cache.NewJournal(execCache, execStore, logger)

	// 6. Pools and prices
	registry := pools.NewRegistry()
	if cfg.PoolConfigPath != "" {
		if registry, err = pools.LoadRegistry(cfg.PoolConfigPath); err != nil {
			return nil, err
		}
	}
	if len(opts.Pools) > 0 {
		registry = pools.NewRegistry(append(registry.Pools(), opts.Pools...)...)
	}
	resolvers := []trade.PoolResolver{registry}

	oracle := opts.Oracle
	switch strings.ToLower(cfg.PriceSource) {
	case "static":
		e.Static = prices.NewStatic()
		if oracle == nil {
			oracle = e.Static
		}
	default:
		jup := jupiter.NewClient(jupiter.Config{
			BaseURL: cfg.JupiterBaseURL,
			APIKey:  cfg.JupiterAPIKey,
			Timeout: cfg.HTTPTimeout,
			Logger:  logger,
		})
		resolvers = append(resolvers, jup)
		if oracle == nil {
			oracle = jup
		}
	}
	e.Prices = prices.NewTracker(prices.TrackerConfig{Oracle: oracle, Sink: priceSink, Logger: logger})

	// 7. Fast transports
	var fast []transport.Fast
	if cfg.JitoURL != "" {
		fast = append(fast, transport.NewJito(cfg.JitoURL, cfg.HTTPTimeout, logger))
	}
	if cfg.BloxrouteAuth != "" {
		fast = append(fast, transport.NewBloxroute(cfg.BloxrouteURL, cfg.BloxrouteAuth, cfg.HTTPTimeout, logger))
	}

	// 8. Strategies
	risk := bundle.NewRiskChecker(bundle.RiskConfig{
		SpikeMultiplier: cfg.RiskSpikeMultiplier,
		MaxPriceMove:    cfg.RiskMaxPriceMove,
	}, conn, e.Prices)
	e.Bundles = bundle.New(bundle.Config{
		Transport:        cfg.Transport,
		TipLamports:      cfg.TipLamports,
		CleanWindowDelay: cfg.CleanWindowDelay,
		OrderTimeout:     cfg.QueueTimeout,
	}, bundle.Deps{
		Signer:     store,
		Queue:      e.Queue,
		Blockhash:  conn,
		Confirmer:  conn,
		Pools:      pools.NewChain(logger, resolvers...),
		Builder:    trade.TransferBuilder{PriorityFee: cfg.PriorityFeeMicro},
		Transports: fast,
		Limiter:    conn,
		Risk:       risk,
		Journal:    e.Journal,
		Metrics:    e.Metrics,
		Logger:     logger,
	})

	// 9. Limit orders
	e.Orders = orders.NewMonitor(orders.Config{
		Interval: cfg.OrderInterval,
		MinTTL:   cfg.OrderMinTTL,
		MaxTTL:   cfg.OrderMaxTTL,
		Oracle:   e.Prices,
		Executor: e.Bundles,
		Store:    orderStore,
		Metrics:  e.Metrics,
		Logger:   logger,
	})

	logger.WithFields(logrus.Fields{
		"endpoints":  len(cfg.RPCEndpoints),
		"wallets":    store.Len(),
		"pools":      registry.Len(),
		"transport":  cfg.Transport,
		"redis":      e.Redis != nil,
		"clickhouse": e.ClickHouse != nil,
	}).Info("engine ready")

	ok = true
	return e, nil
}

// Handlers exposes the engine to the HTTP layer
func (e *Engine) Handlers() *server.Handlers {
	return &server.Handlers{
		Wallets:    e.Wallets,
		Bundles:    e.Bundles,
		Orders:     e.Orders,
		Queue:      e.Queue,
		Executions: e.Journal,
		Prices:     e.Prices,
		Metrics:    e.Metrics.Handler(),
		Endpoint:   e.Conn.ActiveEndpoint,
		DevMode:    e.Config.DevMode,
		Logger:     e.Logger,

		// MEV bundles wait on a stage confirmation and the clean-wallet windows
		BundleTimeout: 2*time.Minute + e.Config.CleanWindowDelay,
	}
}

// Run restores persisted orders and runs the background loops until ctx ends
func (e *Engine) Run(ctx context.Context) error {
	n, err := e.Orders.Load(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		e.Logger.WithField("orders", n).Info("restored limit orders")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Orders.Start(ctx) })
	g.Go(func() error { return e.Watcher.Start(ctx) })
	return g.Wait()
}

// Close releases every component that was created. Safe on a partial engine.
func (e *Engine) Close() {
	if e.Queue != nil {
		e.Queue.Close()
	}
	if e.Wallets != nil {
		e.Wallets.Close()
	}
	if e.Redis != nil {
		if err := e.Redis.Close(); err != nil {
			e.Logger.WithError(err).Warn("redis close failed")
		}
	}
	if e.ClickHouse != nil {
		if err := e.ClickHouse.Close(); err != nil {
			e.Logger.WithError(err).Warn("clickhouse close failed")
		}
	}
}
