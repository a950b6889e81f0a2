// Package target adapts a ClickHouse database as the replication sink.
package target

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/hpoveda/chreplica/internal/config"
	"github.com/hpoveda/chreplica/internal/dberr"
)

const (
	dialTimeout      = 30 * time.Second
	insertMaxRetries = 3
	insertRetryWait  = 2 * time.Second
	// keyBatchSize bounds the IN (...) lists of key lookup queries.
	keyBatchSize = 1000
)

// Conn is a connection to the target database. The named database is created
// on open when absent.
type Conn struct {
	ch     chdriver.Conn
	cfg    config.TargetConfig
	logger zerolog.Logger
}

// Open ensures the configured database exists and returns a connection bound
// to it. TLS is required when the port indicates a secure endpoint.
func Open(ctx context.Context, cfg config.TargetConfig, logger zerolog.Logger) (*Conn, error) {
	log := logger.With().Str("component", "target").Logger()

	boot, err := dial(cfg, "default")
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Addr(), err)
	}
	ddl := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", quoteIdent(cfg.Database))
	if err := boot.Exec(ctx, ddl); err != nil {
		boot.Close()
		return nil, fmt.Errorf("create database %s: %w", cfg.Database, err)
	}
	boot.Close()

	ch, err := dial(cfg, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to %s/%s: %w", cfg.Addr(), cfg.Database, err)
	}
	if err := ch.Ping(ctx); err != nil {
		ch.Close()
		return nil, fmt.Errorf("ping %s/%s: %w", cfg.Addr(), cfg.Database, err)
	}

	log.Info().Str("addr", cfg.Addr()).Str("database", cfg.Database).Msg("connected to target")
	return &Conn{ch: ch, cfg: cfg, logger: log}, nil
}

func dial(cfg config.TargetConfig, database string) (chdriver.Conn, error) {
	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: dialTimeout,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	}
	if cfg.Secure() {
		opts.TLS = &tls.Config{}
	}
	return clickhouse.Open(opts)
}

// Close releases the connection.
func (c *Conn) Close() error {
	return c.ch.Close()
}

// Ping verifies the connection is alive.
func (c *Conn) Ping(ctx context.Context) error {
	return c.ch.Ping(ctx)
}

// ServerVersion returns the server's version string.
func (c *Conn) ServerVersion(ctx context.Context) (string, error) {
	var v string
	if err := c.ch.QueryRow(ctx, "SELECT version()").Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}

// Database returns the bound database name.
func (c *Conn) Database() string { return c.cfg.Database }

func (c *Conn) fq(table string) string {
	return quoteIdent(c.cfg.Database) + "." + quoteIdent(table)
}

// ExistsTable reports whether the table exists in the bound database.
func (c *Conn) ExistsTable(ctx context.Context, table string) (bool, error) {
	var n uint64
	err := c.ch.QueryRow(ctx,
		"SELECT count() FROM system.tables WHERE database = ? AND name = ?",
		c.cfg.Database, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

// ListTables returns the tables of the bound database whose name starts with
// prefix (all tables when prefix is empty).
func (c *Conn) ListTables(ctx context.Context, prefix string) ([]string, error) {
	rows, err := c.ch.Query(ctx,
		"SELECT name FROM system.tables WHERE database = ? AND startsWith(name, ?) ORDER BY name",
		c.cfg.Database, prefix)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DropTable drops the table if it exists.
func (c *Conn) DropTable(ctx context.Context, table string) error {
	return c.ch.Exec(ctx, "DROP TABLE IF EXISTS "+c.fq(table))
}

// TruncateTable empties the table.
func (c *Conn) TruncateTable(ctx context.Context, table string) error {
	return c.ch.Exec(ctx, "TRUNCATE TABLE "+c.fq(table))
}

// OptimizeFinal forces a full merge pass, collapsing duplicate versions.
func (c *Conn) OptimizeFinal(ctx context.Context, table string) error {
	return c.ch.Exec(ctx, "OPTIMIZE TABLE "+c.fq(table)+" FINAL")
}

// Insert writes one batch of pre-converted rows. The batch is retried on
// transient failures; ClickHouse inserts are atomic per batch, so a retried
// batch either fully lands or fully fails.
func (c *Conn) Insert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s)", c.fq(table), strings.Join(quoted, ", "))

	op := func() error {
		batch, err := c.ch.PrepareBatch(ctx, stmt)
		if err != nil {
			if dberr.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		for _, row := range rows {
			if err := batch.Append(row...); err != nil {
				batch.Abort()
				return backoff.Permanent(err)
			}
		}
		if err := batch.Send(); err != nil {
			if dberr.IsTransient(err) {
				c.logger.Warn().Err(err).Str("table", table).Msg("insert interrupted, retrying batch")
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(insertRetryWait), insertMaxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("insert %d rows into %s: %w", len(rows), table, err)
	}
	return nil
}

// MaxInt64 returns the maximum of an integer column, or nil when the table is
// empty or the column is unusable.
func (c *Conn) MaxInt64(ctx context.Context, table, column string) (*int64, error) {
	var max *int64
	err := c.ch.QueryRow(ctx,
		fmt.Sprintf("SELECT maxOrNull(toInt64(%s)) FROM %s", quoteIdent(column), c.fq(table))).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("max %s.%s: %w", table, column, err)
	}
	return max, nil
}

// MaxUint64 returns the maximum of a UInt64 column (rowversion watermark).
func (c *Conn) MaxUint64(ctx context.Context, table, column string) (*uint64, error) {
	var max *uint64
	err := c.ch.QueryRow(ctx,
		fmt.Sprintf("SELECT maxOrNull(toUInt64(%s)) FROM %s", quoteIdent(column), c.fq(table))).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("max %s.%s: %w", table, column, err)
	}
	return max, nil
}

// MaxTime returns the maximum of a timestamp column.
func (c *Conn) MaxTime(ctx context.Context, table, column string) (*time.Time, error) {
	var max *time.Time
	err := c.ch.QueryRow(ctx,
		fmt.Sprintf("SELECT maxOrNull(%s) FROM %s", quoteIdent(column), c.fq(table))).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("max %s.%s: %w", table, column, err)
	}
	return max, nil
}

// HashesByKey returns the latest row_hash per row_key for the given keys,
// batching the lookup to keep the IN lists bounded.
func (c *Conn) HashesByKey(ctx context.Context, table string, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for start := 0; start < len(keys); start += keyBatchSize {
		end := start + keyBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		query := fmt.Sprintf(
			"SELECT row_key, argMax(row_hash, ingested_at) FROM %s WHERE row_key IN (?) GROUP BY row_key",
			c.fq(table))
		rows, err := c.ch.Query(ctx, query, keys[start:end])
		if err != nil {
			return nil, fmt.Errorf("lookup hashes in %s: %w", table, err)
		}
		for rows.Next() {
			var key, hash string
			if err := rows.Scan(&key, &hash); err != nil {
				rows.Close()
				return nil, err
			}
			out[key] = hash
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// ExistingKeys returns which of the candidate key values are already present
// in the table.
func (c *Conn) ExistingKeys(ctx context.Context, table, column string, candidates []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	for start := 0; start < len(candidates); start += keyBatchSize {
		end := start + keyBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		query := fmt.Sprintf(
			"SELECT DISTINCT toInt64(%s) FROM %s WHERE toInt64(%s) IN (?)",
			quoteIdent(column), c.fq(table), quoteIdent(column))
		rows, err := c.ch.Query(ctx, query, candidates[start:end])
		if err != nil {
			return nil, fmt.Errorf("lookup keys in %s: %w", table, err)
		}
		for rows.Next() {
			var v int64
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return nil, err
			}
			out[v] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// KeysWithinLookback returns the distinct key values ingested within the last
// given number of days.
func (c *Conn) KeysWithinLookback(ctx context.Context, table, column string, days int) ([]int64, error) {
	query := fmt.Sprintf(
		"SELECT DISTINCT toInt64(%s) FROM %s WHERE %s IS NOT NULL AND ingested_at >= now64(3) - INTERVAL %d DAY",
		quoteIdent(column), c.fq(table), quoteIdent(column), days)
	rows, err := c.ch.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("lookback keys in %s: %w", table, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// quoteIdent double-quotes an identifier for ClickHouse, preserving case.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
