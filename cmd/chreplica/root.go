package main

import (
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hpoveda/chreplica/internal/config"
)

var (
	cfg       config.Config
	cfgFile   string
	logger    zerolog.Logger
	logOutput io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "chreplica",
	Short: "SQL Server to ClickHouse incremental replicator",
	Long: `chreplica streams tables from a SQL Server database into ClickHouse
without touching the source: no triggers, no CDC, only SELECT queries.
Per table it picks a rowversion, identity, timestamp or content-hash
strategy, scans in bounded chunks and lets a ReplacingMergeTree engine
converge the target across repeated runs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env first so the config loader sees it, matching the legacy
		// scripts' dotenv behavior. A missing file is not an error.
		_ = godotenv.Load()

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		overlayFlags(cmd, &loaded)
		cfg = loaded

		switch cfg.Logging.Format {
		case "json":
			logOutput = os.Stdout
		default:
			logOutput = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
		logger = zerolog.New(logOutput).With().Timestamp().Logger()

		level, err := zerolog.ParseLevel(cfg.Logging.Level)
		if err != nil {
			level = zerolog.InfoLevel
		}
		logger = logger.Level(level)
		return nil
	},
}

var flagCfg config.Config

func init() {
	f := rootCmd.PersistentFlags()

	f.StringVar(&cfgFile, "config", "", "Path to a TOML config file")

	// Source flags.
	f.StringVar(&flagCfg.Source.Host, "source-host", "", "SQL Server host (HOST, HOST\\INSTANCE or HOST,PORT)")
	f.StringVar(&flagCfg.Source.User, "source-user", "", "SQL Server user")
	f.StringVar(&flagCfg.Source.Password, "source-password", "", "SQL Server password")
	f.StringVar(&flagCfg.Source.AuthMode, "source-auth", "", "Authentication mode (sql, windows)")

	// Target flags.
	f.StringVar(&flagCfg.Target.Host, "target-host", "", "ClickHouse host")
	f.IntVar(&flagCfg.Target.Port, "target-port", 0, "ClickHouse native port (9440/8443 enable TLS)")
	f.StringVar(&flagCfg.Target.User, "target-user", "", "ClickHouse user")
	f.StringVar(&flagCfg.Target.Password, "target-password", "", "ClickHouse password")
	f.StringVar(&flagCfg.Target.Timezone, "target-timezone", "", "Timezone for target timestamps")

	// Logging flags.
	f.StringVar(&flagCfg.Logging.Level, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&flagCfg.Logging.Format, "log-format", "", "Log format (console, json)")
}

// overlayFlags applies explicitly set flags over the loaded configuration.
func overlayFlags(cmd *cobra.Command, dst *config.Config) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("source-host", func() { dst.Source.Host = flagCfg.Source.Host })
	set("source-user", func() { dst.Source.User = flagCfg.Source.User })
	set("source-password", func() { dst.Source.Password = flagCfg.Source.Password })
	set("source-auth", func() { dst.Source.AuthMode = flagCfg.Source.AuthMode })
	set("target-host", func() { dst.Target.Host = flagCfg.Target.Host })
	set("target-port", func() { dst.Target.Port = flagCfg.Target.Port })
	set("target-user", func() { dst.Target.User = flagCfg.Target.User })
	set("target-password", func() { dst.Target.Password = flagCfg.Target.Password })
	set("target-timezone", func() { dst.Target.Timezone = flagCfg.Target.Timezone })
	set("log-level", func() { dst.Logging.Level = flagCfg.Logging.Level })
	set("log-format", func() { dst.Logging.Format = flagCfg.Logging.Format })
}
