// Package testutil provides helpers for integration tests that need a live
// SQL Server and ClickHouse. Tests skip when either database is unreachable.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/hpoveda/chreplica/internal/config"
)

// Defaults match docker-compose.test.yml.
const (
	DefaultSourceHost     = "localhost"
	DefaultSourceUser     = "sa"
	DefaultSourcePassword = "ChRepl1ca!"
	DefaultTargetHost     = "localhost"
	DefaultTargetPort     = 9000
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TestConfig builds a run configuration against the test databases.
func TestConfig(sourceDB, targetDB string) config.Config {
	cfg := config.Defaults()
	cfg.Source.Host = envOr("CHREPLICA_TEST_SQL_HOST", DefaultSourceHost)
	cfg.Source.User = envOr("CHREPLICA_TEST_SQL_USER", DefaultSourceUser)
	cfg.Source.Password = envOr("CHREPLICA_TEST_SQL_PASSWORD", DefaultSourcePassword)
	cfg.Source.Database = sourceDB
	cfg.Target.Host = envOr("CHREPLICA_TEST_CH_HOST", DefaultTargetHost)
	if v := os.Getenv("CHREPLICA_TEST_CH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Target.Port = n
		}
	} else {
		cfg.Target.Port = DefaultTargetPort
	}
	cfg.Target.Database = targetDB
	return cfg
}

// MustConnectSource connects to the test SQL Server, skipping the test when
// it is unreachable.
func MustConnectSource(t *testing.T, database string) *sql.DB {
	t.Helper()
	cfg := TestConfig(database, "unused")
	db, err := sql.Open("sqlserver", cfg.Source.DSN())
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("SQL Server not reachable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// MustConnectTarget connects to the test ClickHouse, skipping the test when
// it is unreachable.
func MustConnectTarget(t *testing.T, database string) chdriver.Conn {
	t.Helper()
	cfg := TestConfig("unused", database)
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Target.Addr()},
		Auth: clickhouse.Auth{Database: "default", Username: cfg.Target.User, Password: cfg.Target.Password},
	})
	if err != nil {
		t.Fatalf("open target: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		t.Skipf("ClickHouse not reachable: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// CreateIdentityTable creates dbo.<table> with an identity key and seeds it
// with rowCount rows.
func CreateIdentityTable(t *testing.T, db *sql.DB, table string, rowCount int) {
	t.Helper()
	ctx := context.Background()

	DropSourceTable(t, db, table)

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE dbo.[%s] (
			OrderId INT IDENTITY(1,1) PRIMARY KEY,
			Cliente NVARCHAR(120) NOT NULL,
			Total DECIMAL(18,2) NOT NULL,
			Fecha DATETIME2 NOT NULL DEFAULT SYSDATETIME()
		)`, table))
	if err != nil {
		t.Fatalf("create table %s: %v", table, err)
	}

	for i := 1; i <= rowCount; i++ {
		_, err := db.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO dbo.[%s] (Cliente, Total) VALUES (@p1, @p2)", table),
			fmt.Sprintf("cliente-%d", i), float64(i)*10)
		if err != nil {
			t.Fatalf("insert row %d into %s: %v", i, table, err)
		}
	}
}

// CreateKeyedTable creates dbo.<table> with a natural primary key and no
// identity or timestamp column, forcing the hash strategy.
func CreateKeyedTable(t *testing.T, db *sql.DB, table string, rowCount int) {
	t.Helper()
	ctx := context.Background()

	DropSourceTable(t, db, table)

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE dbo.[%s] (
			ClientCode NVARCHAR(40) NOT NULL PRIMARY KEY,
			Nombre NVARCHAR(120) NOT NULL,
			Status NVARCHAR(20) NOT NULL
		)`, table))
	if err != nil {
		t.Fatalf("create table %s: %v", table, err)
	}

	for i := 1; i <= rowCount; i++ {
		_, err := db.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO dbo.[%s] (ClientCode, Nombre, Status) VALUES (@p1, @p2, @p3)", table),
			fmt.Sprintf("C-%04d", i), fmt.Sprintf("cliente-%d", i), "active")
		if err != nil {
			t.Fatalf("insert row %d into %s: %v", i, table, err)
		}
	}
}

// DropSourceTable drops dbo.<table> if it exists.
func DropSourceTable(t *testing.T, db *sql.DB, table string) {
	t.Helper()
	_, _ = db.ExecContext(context.Background(),
		fmt.Sprintf("IF OBJECT_ID('dbo.[%s]', 'U') IS NOT NULL DROP TABLE dbo.[%s]", table, table))
}

// DropTargetTable drops database.table on ClickHouse if it exists.
func DropTargetTable(t *testing.T, conn chdriver.Conn, database, table string) {
	t.Helper()
	_ = conn.Exec(context.Background(),
		fmt.Sprintf(`DROP TABLE IF EXISTS "%s"."%s"`, database, table))
}

// TargetRowCount counts rows in database.table, with FINAL so merge-pending
// duplicates collapse.
func TargetRowCount(t *testing.T, conn chdriver.Conn, database, table string) int64 {
	t.Helper()
	var n uint64
	err := conn.QueryRow(context.Background(),
		fmt.Sprintf(`SELECT count() FROM "%s"."%s" FINAL`, database, table)).Scan(&n)
	if err != nil {
		t.Fatalf("count rows in %s.%s: %v", database, table, err)
	}
	return int64(n)
}
