package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hpoveda/chreplica/internal/target"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize TARGET_DB [tables]",
	Short: "Force a merge pass so duplicate row versions collapse",
	Long: `Optimize runs OPTIMIZE TABLE ... FINAL over the given tables (or every
table in the database), forcing the ReplacingMergeTree merge that collapses
superseded row versions. Useful after large incremental loads when queries
without FINAL must see deduplicated data.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Target.Database = args[0]
		ctx := cmd.Context()

		tgt, err := target.Open(ctx, cfg.Target, logger)
		if err != nil {
			return err
		}
		defer tgt.Close()

		var tables []string
		if len(args) == 2 {
			tables = splitCommaList(args[1])
		} else {
			tables, err = tgt.ListTables(ctx, "")
			if err != nil {
				return err
			}
		}

		for _, table := range tables {
			if err := tgt.OptimizeFinal(ctx, table); err != nil {
				return fmt.Errorf("optimize %s: %w", table, err)
			}
			fmt.Printf("optimized %s.%s\n", cfg.Target.Database, table)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(optimizeCmd)
}
