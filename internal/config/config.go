// Package config holds the immutable run configuration for the replicator.
// Values come from a TOML file, the environment (including a .env file loaded
// by the CLI) and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// SourceConfig holds connection parameters for the SQL Server source.
type SourceConfig struct {
	Host     string `toml:"host"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	// AuthMode is "sql" or "windows" (integrated authentication).
	AuthMode string `toml:"auth_mode"`
	// DriverPreference is probed against the registered database/sql drivers.
	DriverPreference []string `toml:"driver_preference"`
}

// DSN returns an ADO-style connection string for go-mssqldb.
func (s SourceConfig) DSN() string {
	parts := []string{
		"server=" + s.Host,
		"database=" + s.Database,
		"app name=chreplica",
		"dial timeout=30",
		"TrustServerCertificate=true",
	}
	if s.AuthMode == "windows" {
		parts = append(parts, "trusted_connection=yes")
	} else {
		parts = append(parts, "user id="+s.User, "password="+s.Password)
	}
	return strings.Join(parts, ";")
}

// TargetConfig holds connection parameters for the ClickHouse target.
type TargetConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	// Timezone is attached to every DateTime64 column on the target.
	Timezone string `toml:"timezone"`
}

// Addr returns host:port.
func (t TargetConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// Secure reports whether the port implies TLS.
func (t TargetConfig) Secure() bool {
	return t.Port == 8443 || t.Port == 9440
}

// ReplicationConfig tunes the per-table replication behavior.
type ReplicationConfig struct {
	ChunkSize               int      `toml:"chunk_size"`
	TargetTablePrefix       string   `toml:"target_table_prefix"`
	Incremental             bool     `toml:"incremental"`
	PreferredIdentityColumn string   `toml:"preferred_identity_column"`
	LookbackDays            int      `toml:"lookback_days"`
	UseReplacingEngine      bool     `toml:"use_replacing_engine"`
	ExcludedTablePrefixes   []string `toml:"excluded_table_prefixes"`
	Tables                  []string `toml:"tables"`
	MaxRowsPerTable         int64    `toml:"max_rows_per_table"`
}

// LoggingConfig holds settings for structured logging.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Config is the top-level configuration for chreplica.
type Config struct {
	Source      SourceConfig      `toml:"source"`
	Target      TargetConfig      `toml:"target"`
	Replication ReplicationConfig `toml:"replication"`
	Logging     LoggingConfig     `toml:"logging"`
}

// Defaults returns the configuration with every documented default applied.
func Defaults() Config {
	return Config{
		Source: SourceConfig{
			Host:     "localhost",
			AuthMode: "sql",
			DriverPreference: []string{
				"sqlserver",
				"mssql",
			},
		},
		Target: TargetConfig{
			Host:     "localhost",
			Port:     9000,
			User:     "default",
			Timezone: "UTC",
		},
		Replication: ReplicationConfig{
			ChunkSize:               10000,
			Incremental:             true,
			PreferredIdentityColumn: "Id",
			LookbackDays:            7,
			UseReplacingEngine:      true,
			ExcludedTablePrefixes:   []string{"TMP_"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the configuration file at path (or the first well-known location
// when path is empty) over the defaults, then overlays the environment.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func findConfigFile() string {
	candidates := []string{"chreplica.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".chreplica", "config.toml"))
	}
	candidates = append(candidates, "/etc/chreplica/config.toml")

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// applyEnv overlays environment variables onto cfg. The SQL_* and CH_* names
// match what the legacy scripts read from .env.
func applyEnv(cfg *Config) {
	setString(&cfg.Source.Host, "SQL_SERVER")
	setString(&cfg.Source.User, "SQL_USER")
	setString(&cfg.Source.Password, "SQL_PASSWORD")
	setString(&cfg.Source.AuthMode, "SQL_AUTH_MODE")
	if v := os.Getenv("SQL_DRIVER"); v != "" {
		cfg.Source.DriverPreference = splitList(v)
	}

	setString(&cfg.Target.Host, "CH_HOST")
	setInt(&cfg.Target.Port, "CH_PORT")
	setString(&cfg.Target.User, "CH_USER")
	setString(&cfg.Target.Password, "CH_PASSWORD")
	setString(&cfg.Target.Timezone, "CH_TIMEZONE")

	setInt(&cfg.Replication.ChunkSize, "CHREPLICA_CHUNK_SIZE")
	setInt(&cfg.Replication.LookbackDays, "CHREPLICA_LOOKBACK_DAYS")
	setString(&cfg.Logging.Level, "CHREPLICA_LOG_LEVEL")
	setString(&cfg.Logging.Format, "CHREPLICA_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that required fields are present and values are sane,
// naming every offending option.
func (c *Config) Validate() error {
	var errs []error

	if c.Source.Host == "" {
		errs = append(errs, errors.New("source host is required"))
	}
	if c.Source.Database == "" {
		errs = append(errs, errors.New("source database is required"))
	}
	switch c.Source.AuthMode {
	case "sql":
		if c.Source.User == "" {
			errs = append(errs, errors.New("source user is required for sql authentication"))
		}
		if c.Source.Password == "" {
			errs = append(errs, errors.New("source password is required for sql authentication"))
		}
	case "windows":
	default:
		errs = append(errs, fmt.Errorf("unknown source auth_mode %q (expected sql or windows)", c.Source.AuthMode))
	}
	if len(c.Source.DriverPreference) == 0 {
		errs = append(errs, errors.New("source driver_preference must not be empty"))
	}

	if c.Target.Host == "" {
		errs = append(errs, errors.New("target host is required"))
	}
	if c.Target.Port <= 0 || c.Target.Port > 65535 {
		errs = append(errs, fmt.Errorf("target port %d out of range", c.Target.Port))
	}
	if c.Target.Database == "" {
		errs = append(errs, errors.New("target database is required"))
	}

	if c.Replication.ChunkSize < 1 {
		c.Replication.ChunkSize = 10000
	}
	if c.Replication.LookbackDays < 0 {
		errs = append(errs, fmt.Errorf("lookback_days %d must not be negative", c.Replication.LookbackDays))
	}
	if c.Replication.MaxRowsPerTable < 0 {
		errs = append(errs, fmt.Errorf("max_rows_per_table %d must not be negative", c.Replication.MaxRowsPerTable))
	}

	return errors.Join(errs...)
}

// RedactedTargetURL renders the target endpoint for logs without credentials.
func (c *Config) RedactedTargetURL() string {
	u := url.URL{Scheme: "clickhouse", Host: c.Target.Addr(), Path: c.Target.Database}
	return u.String()
}
