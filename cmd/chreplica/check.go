package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hpoveda/chreplica/internal/source"
	"github.com/hpoveda/chreplica/internal/target"
)

var checkCmd = &cobra.Command{
	Use:   "check SOURCE_DB TARGET_DB",
	Short: "Verify connectivity to both endpoints",
	Long: `Check opens both connections, runs a trivial query on each side and
reports the driver, server version and latency. Exit code is non-zero when
either endpoint is unreachable.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Source.Database = args[0]
		cfg.Target.Database = args[1]
		ctx := cmd.Context()

		var failed bool

		start := time.Now()
		src, err := source.Open(ctx, cfg.Source, logger)
		if err != nil {
			fmt.Printf("source   ERROR %v\n", err)
			failed = true
		} else {
			version, verr := src.ServerVersion(ctx)
			if verr != nil {
				version = "(version unavailable)"
			}
			fmt.Printf("source   OK %s (%s, %s)\n", cfg.Source.Host, version, time.Since(start).Round(time.Millisecond))
			src.Close()
		}

		start = time.Now()
		tgt, err := target.Open(ctx, cfg.Target, logger)
		if err != nil {
			fmt.Printf("target   ERROR %v\n", err)
			failed = true
		} else {
			version, verr := tgt.ServerVersion(ctx)
			if verr != nil {
				version = "(version unavailable)"
			}
			fmt.Printf("target   OK %s (ClickHouse %s, %s)\n", cfg.Target.Addr(), version, time.Since(start).Round(time.Millisecond))
			tgt.Close()
		}

		if failed {
			return errors.New("connectivity check failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
