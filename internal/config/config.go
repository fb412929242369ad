package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// RPC settings
	RPCEndpoints     []string      `yaml:"rpc_endpoints"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	ConfirmInterval  time.Duration `yaml:"confirm_interval"`
	RateCapacity     int           `yaml:"rate_capacity"`
	RateRefillPerSec float64       `yaml:"rate_refill_per_sec"`

	// HTTP client settings
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// Wallet store
	WalletPath     string `yaml:"wallet_path"`
	WalletPassword string `yaml:"-"`
	KDFIterations  int    `yaml:"kdf_iterations"`
	KeygenWorkers  int    `yaml:"keygen_workers"`

	// Transaction queue
	QueueBatchSize    int           `yaml:"queue_batch_size"`
	QueueMaxRetries   int           `yaml:"queue_max_retries"`
	QueueRetryBackoff time.Duration `yaml:"queue_retry_backoff"`
	QueueTimeout      time.Duration `yaml:"queue_timeout"`

	// Bundles
	Transport           string        `yaml:"transport"` // hybrid | jito | bloxroute | rpc
	JitoURL             string        `yaml:"jito_url"`
	BloxrouteURL        string        `yaml:"bloxroute_url"`
	BloxrouteAuth       string        `yaml:"-"`
	TipLamports         uint64        `yaml:"tip_lamports"`
	PriorityFeeMicro    uint64        `yaml:"priority_fee_micro_lamports"`
	CleanWindowDelay    time.Duration `yaml:"clean_window_delay"`
	RiskSpikeMultiplier float64       `yaml:"risk_spike_multiplier"`
	RiskMaxPriceMove    float64       `yaml:"risk_max_price_move"`

	// Prices and pools
	PoolConfigPath string `yaml:"pool_config_path"`
	PriceSource    string `yaml:"price_source"` // jupiter | static
	JupiterBaseURL string `yaml:"jupiter_base_url"`
	JupiterAPIKey  string `yaml:"-"`

	// Limit orders
	OrderInterval time.Duration `yaml:"order_interval"`
	OrderMinTTL   time.Duration `yaml:"order_min_ttl"`
	OrderMaxTTL   time.Duration `yaml:"order_max_ttl"`

	// Balance watcher
	BalancePollInterval time.Duration `yaml:"balance_poll_interval"`

	// Redis settings
	RedisAddr string `yaml:"redis_addr"`

	// ClickHouse settings
	ClickHouseAddr     string `yaml:"clickhouse_addr"`
	ClickHouseDatabase string `yaml:"clickhouse_database"`
	ClickHouseUsername string `yaml:"clickhouse_username"`
	ClickHousePassword string `yaml:"-"`

	// API
	APIAddr  string `yaml:"api_addr"`
	APIKey   string `yaml:"-"`
	DevMode  bool   `yaml:"dev_mode"`
	LogLevel string `yaml:"log_level"`
}

func Load() *Config {
	return &Config{
		// RPC
		RPCEndpoints:     getListEnv("SOLANA_RPC_URLS", []string{getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")}),
		ProbeTimeout:     getDurationEnv("RPC_PROBE_TIMEOUT", 3*time.Second),
		ConfirmInterval:  getDurationEnv("CONFIRM_INTERVAL", time.Second),
		RateCapacity:     getIntEnv("RATE_CAPACITY", 10),
		RateRefillPerSec: getFloatEnv("RATE_REFILL_PER_SEC", 5),

		// HTTP
		HTTPTimeout:  getDurationEnv("HTTP_TIMEOUT", 30*time.Second),
		MaxRetries:   getIntEnv("MAX_RETRIES", 3),
		RetryBackoff: getDurationEnv("RETRY_BACKOFF", time.Second),

		// Wallets
		WalletPath:     getEnv("WALLET_STORE_PATH", "wallets.enc"),
		WalletPassword: getEnv("WALLET_STORE_PASSWORD", ""),
		KDFIterations:  getIntEnv("WALLET_KDF_ITERATIONS", 100000),
		KeygenWorkers:  getIntEnv("KEYGEN_WORKERS", 4),

		// Queue
		QueueBatchSize:    getIntEnv("QUEUE_BATCH_SIZE", 5),
		QueueMaxRetries:   getIntEnv("QUEUE_MAX_RETRIES", 3),
		QueueRetryBackoff: getDurationEnv("QUEUE_RETRY_BACKOFF", 500*time.Millisecond),
		QueueTimeout:      getDurationEnv("QUEUE_TIMEOUT", 60*time.Second),

		// Bundles
		Transport:           getEnv("BUNDLE_TRANSPORT", "hybrid"),
		JitoURL:             getEnv("JITO_URL", "https://mainnet.block-engine.jito.wtf/api/v1/transactions"),
		BloxrouteURL:        getEnv("BLOXROUTE_URL", "https://ny.solana.dex.blxrbdn.com/api/v2/submit"),
		BloxrouteAuth:       getEnv("BLOXROUTE_AUTH_HEADER", ""),
		TipLamports:         uint64(getIntEnv("BUNDLE_TIP_LAMPORTS", 0)),
		PriorityFeeMicro:    uint64(getIntEnv("PRIORITY_FEE_MICRO_LAMPORTS", 0)),
		CleanWindowDelay:    getDurationEnv("BUNDLE_CLEAN_WINDOW_DELAY", 5*time.Second),
		RiskSpikeMultiplier: getFloatEnv("RISK_SPIKE_MULTIPLIER", 2.0),
		RiskMaxPriceMove:    getFloatEnv("RISK_MAX_PRICE_MOVE", 0.10),

		// Prices
		PoolConfigPath: getEnv("POOL_CONFIG_PATH", ""),
		PriceSource:    getEnv("PRICE_SOURCE", "jupiter"),
		JupiterBaseURL: getEnv("JUPITER_BASE_URL", ""),
		JupiterAPIKey:  getEnv("JUPITER_API_KEY", ""),

		// Orders
		OrderInterval: getDurationEnv("ORDER_INTERVAL", time.Second),
		OrderMinTTL:   getDurationEnv("ORDER_MIN_TTL", 100*time.Millisecond),
		OrderMaxTTL:   getDurationEnv("ORDER_MAX_TTL", 7*24*time.Hour),

		BalancePollInterval: getDurationEnv("BALANCE_POLL_INTERVAL", 30*time.Second),

		// Redis
		RedisAddr: getEnv("REDIS_ADDR", ""),

		// ClickHouse
		ClickHouseAddr:     getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "solana"),
		ClickHouseUsername: getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),

		// API
		APIAddr:  getEnv("API_ADDR", ":8090"),
		APIKey:   getEnv("API_KEY", ""),
		DevMode:  getBoolEnv("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values. Secrets are never read from the file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	const op = "config.validate"

	if len(c.RPCEndpoints) == 0 {
		return errs.New(errs.Validation, op, "at least one RPC endpoint is required")
	}
	for _, raw := range c.RPCEndpoints {
		if err := ValidateURL(raw); err != nil {
			return errs.Wrap(errs.Validation, op, err, "rpc endpoint")
		}
	}
	if c.WalletPassword == "" {
		return errs.New(errs.Validation, op, "WALLET_STORE_PASSWORD is required")
	}
	if c.QueueBatchSize < 1 {
		return errs.New(errs.Validation, op, "queue batch size must be >= 1, got %d", c.QueueBatchSize)
	}
	if c.QueueMaxRetries < 1 {
		return errs.New(errs.Validation, op, "queue max retries must be >= 1, got %d", c.QueueMaxRetries)
	}
	if c.RateCapacity < 1 || c.RateRefillPerSec <= 0 {
		return errs.New(errs.Validation, op, "rate limiter needs capacity >= 1 and refill > 0")
	}
	switch c.Transport {
	case "hybrid", "jito", "bloxroute", "rpc":
	default:
		return errs.New(errs.Validation, op, "unknown transport %q", c.Transport)
	}
	switch c.PriceSource {
	case "jupiter", "static":
	default:
		return errs.New(errs.Validation, op, "unknown price source %q", c.PriceSource)
	}
	if c.OrderMinTTL <= 0 || c.OrderMaxTTL < c.OrderMinTTL {
		return errs.New(errs.Validation, op, "order ttl bounds are invalid")
	}
	return nil
}

// ValidateURL accepts absolute http(s) URLs only.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", raw)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getListEnv(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
