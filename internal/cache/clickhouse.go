package cache

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/aman-zulfiqar/solana-bundler/internal/models"
)

const executionsDDL = `
	CREATE TABLE IF NOT EXISTS executions (
		signature String,
		timestamp DateTime64(3),
		strategy  LowCardinality(String),
		stage     String,
		wallet    String,
		mint      String,
		side      LowCardinality(String),
		amount    UInt64,
		transport LowCardinality(String)
	) ENGINE = MergeTree ORDER BY (timestamp, signature)
`

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// ClickHouseStore is the durable execution history
type ClickHouseStore struct {
	conn driver.Conn
}

func NewClickHouseStore(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, executionsDDL); err != nil {
		return nil, fmt.Errorf("failed to create executions table: %w", err)
	}
	return &ClickHouseStore{conn: conn}, nil
}

func (c *ClickHouseStore) InsertExecution(ctx context.Context, ev *models.ExecutionEvent) error {
	query := `
		INSERT INTO executions (
			signature, timestamp, strategy, stage, wallet,
			mint, side, amount, transport
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := c.conn.Exec(ctx, query,
		ev.Signature,
		ev.Timestamp,
		ev.Strategy,
		ev.Stage,
		ev.Wallet,
		ev.Mint,
		ev.Side,
		ev.Amount,
		ev.Transport,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// CountByStrategy returns how many executions each strategy has recorded
func (c *ClickHouseStore) CountByStrategy(ctx context.Context) (map[string]uint64, error) {
	rows, err := c.conn.Query(ctx, `SELECT strategy, count() FROM executions GROUP BY strategy`)
	if err != nil {
		return nil, fmt.Errorf("count executions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var strategy string
		var n uint64
		if err := rows.Scan(&strategy, &n); err != nil {
			return nil, err
		}
		out[strategy] = n
	}
	return out, rows.Err()
}

func (c *ClickHouseStore) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseStore) Close() error {
	return c.conn.Close()
}
