// Package source adapts a SQL Server database as the replication origin. All
// access is read-only: catalog queries plus ordered, chunked scans.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/rs/zerolog"

	"github.com/hpoveda/chreplica/internal/config"
	"github.com/hpoveda/chreplica/internal/dberr"
	"github.com/hpoveda/chreplica/internal/schema"
)

const connTimeout = 30 * time.Second

// Conn is a pooled connection to the source database.
type Conn struct {
	db     *sql.DB
	cfg    config.SourceConfig
	logger zerolog.Logger
}

// Open selects a driver from the configured preference list, connects and
// verifies the connection with a bounded ping.
func Open(ctx context.Context, cfg config.SourceConfig, logger zerolog.Logger) (*Conn, error) {
	driverName, err := pickDriver(cfg.DriverPreference, sql.Drivers())
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open source %s/%s: %w", cfg.Host, cfg.Database, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, connTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping source %s/%s: %w", cfg.Host, cfg.Database, err)
	}

	return &Conn{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("component", "source").Logger(),
	}, nil
}

// pickDriver returns the first preferred driver that is registered with
// database/sql, failing fast when none matches.
func pickDriver(preference, registered []string) (string, error) {
	for _, want := range preference {
		for _, have := range registered {
			if want == have {
				return want, nil
			}
		}
	}
	return "", dberr.Config("source_driver_preference",
		fmt.Sprintf("none of %v is a registered driver (have %v)", preference, registered))
}

// Close releases the connection pool.
func (c *Conn) Close() error {
	return c.db.Close()
}

// Ping verifies the connection is alive.
func (c *Conn) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, connTimeout)
	defer cancel()
	return c.db.PingContext(pingCtx)
}

// ServerVersion returns the @@VERSION banner, first line only.
func (c *Conn) ServerVersion(ctx context.Context) (string, error) {
	var v string
	if err := c.db.QueryRowContext(ctx, "SELECT @@VERSION").Scan(&v); err != nil {
		return "", err
	}
	if i := strings.IndexAny(v, "\r\n"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v), nil
}

// ListTables returns all user base tables, excluding any whose name starts
// with one of the given prefixes.
func (c *Conn) ListTables(ctx context.Context, excludedPrefixes []string) ([]schema.TableID, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT s.name, t.name
		FROM sys.tables t
		INNER JOIN sys.schemas s ON t.schema_id = s.schema_id
		WHERE t.type = 'U' AND t.is_ms_shipped = 0
		ORDER BY s.name, t.name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []schema.TableID
	for rows.Next() {
		var id schema.TableID
		if err := rows.Scan(&id.Schema, &id.Name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if hasAnyPrefix(id.Name, excludedPrefixes) {
			continue
		}
		tables = append(tables, id)
	}
	return tables, rows.Err()
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(strings.ToUpper(name), strings.ToUpper(p)) {
			return true
		}
	}
	return false
}

// Describe returns the table's columns ordered by ordinal position. Character
// max lengths are reported in characters (-1 for MAX types).
func (c *Conn) Describe(ctx context.Context, id schema.TableID) (schema.TableSpec, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT c.name, ty.name,
			CASE
				WHEN ty.name IN ('nchar', 'nvarchar') AND c.max_length > 0 THEN c.max_length / 2
				ELSE c.max_length
			END,
			c.is_nullable
		FROM sys.columns c
		INNER JOIN sys.objects o ON c.object_id = o.object_id
		INNER JOIN sys.schemas s ON o.schema_id = s.schema_id
		INNER JOIN sys.types ty ON c.user_type_id = ty.user_type_id
		WHERE s.name = @p1 AND o.name = @p2
		ORDER BY c.column_id`, id.Schema, id.Name)
	if err != nil {
		return schema.TableSpec{}, fmt.Errorf("describe %s: %w", id, err)
	}
	defer rows.Close()

	spec := schema.TableSpec{ID: id}
	for rows.Next() {
		var col schema.Column
		var maxLen int64
		if err := rows.Scan(&col.Name, &col.SourceType, &maxLen, &col.Nullable); err != nil {
			return schema.TableSpec{}, fmt.Errorf("scan column of %s: %w", id, err)
		}
		col.SourceType = strings.ToLower(col.SourceType)
		col.MaxLength = int(maxLen)
		spec.Columns = append(spec.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return schema.TableSpec{}, err
	}
	if len(spec.Columns) == 0 {
		return schema.TableSpec{}, fmt.Errorf("describe %s: table not found or has no columns", id)
	}
	return spec, nil
}

// DetectIdentity returns the table's identity column name, or "" when the
// table has none.
func (c *Conn) DetectIdentity(ctx context.Context, id schema.TableID) (string, error) {
	var name string
	err := c.db.QueryRowContext(ctx, `
		SELECT ic.name
		FROM sys.identity_columns ic
		INNER JOIN sys.objects o ON ic.object_id = o.object_id
		INNER JOIN sys.schemas s ON o.schema_id = s.schema_id
		WHERE s.name = @p1 AND o.name = @p2`, id.Schema, id.Name).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("detect identity on %s: %w", id, err)
	}
	return name, nil
}

// DetectRowVersion returns the table's rowversion column name, or "".
func (c *Conn) DetectRowVersion(ctx context.Context, id schema.TableID) (string, error) {
	var name string
	err := c.db.QueryRowContext(ctx, `
		SELECT c.name
		FROM sys.columns c
		INNER JOIN sys.objects o ON c.object_id = o.object_id
		INNER JOIN sys.schemas s ON o.schema_id = s.schema_id
		INNER JOIN sys.types ty ON c.user_type_id = ty.user_type_id
		WHERE s.name = @p1 AND o.name = @p2 AND ty.name = 'timestamp'`, id.Schema, id.Name).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("detect rowversion on %s: %w", id, err)
	}
	return name, nil
}

// DetectPrimaryKey returns the primary-key column names in key order, or nil
// when the table has no primary key.
func (c *Conn) DetectPrimaryKey(ctx context.Context, id schema.TableID) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT col.name
		FROM sys.key_constraints kc
		INNER JOIN sys.objects o ON kc.parent_object_id = o.object_id
		INNER JOIN sys.schemas s ON o.schema_id = s.schema_id
		INNER JOIN sys.index_columns ic
			ON ic.object_id = kc.parent_object_id AND ic.index_id = kc.unique_index_id
		INNER JOIN sys.columns col
			ON col.object_id = ic.object_id AND col.column_id = ic.column_id
		WHERE s.name = @p1 AND o.name = @p2 AND kc.type = 'PK'
		ORDER BY ic.key_ordinal`, id.Schema, id.Name)
	if err != nil {
		return nil, fmt.Errorf("detect primary key on %s: %w", id, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// DetectTimestampColumn looks for a dependable modification timestamp: first
// a case-insensitive match against the candidate names, then the first column
// of a date-time type in ordinal order.
func (c *Conn) DetectTimestampColumn(spec schema.TableSpec, candidates []string) string {
	for _, want := range candidates {
		for _, col := range spec.Columns {
			if strings.EqualFold(col.Name, want) && schema.IsDateTimeType(col.SourceType) {
				return col.Name
			}
		}
	}
	for _, col := range spec.Columns {
		if schema.IsDateTimeType(col.SourceType) {
			return col.Name
		}
	}
	return ""
}
