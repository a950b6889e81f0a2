package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hpoveda/chreplica/internal/target"
)

var (
	dropPrefix string
	dropDryRun bool
)

var dropCmd = &cobra.Command{
	Use:   "drop TARGET_DB [tables]",
	Short: "Drop replicated tables on the target",
	Long: `Drop removes tables from the target database, either a comma-separated
list or every table matching --prefix. With --dry-run the tables are listed
but nothing is dropped.`,
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
			tables, err = tgt.ListTables(ctx, dropPrefix)
			if err != nil {
				return err
			}
		}
		if len(tables) == 0 {
			fmt.Println("nothing to drop")
			return nil
		}

		for _, table := range tables {
			if dropDryRun {
				fmt.Printf("would drop %s.%s\n", cfg.Target.Database, table)
				continue
			}
			if err := tgt.DropTable(ctx, table); err != nil {
				return fmt.Errorf("drop %s: %w", table, err)
			}
			fmt.Printf("dropped %s.%s\n", cfg.Target.Database, table)
		}
		return nil
	},
}

func init() {
	dropCmd.Flags().StringVar(&dropPrefix, "prefix", "", "Drop every table with this name prefix")
	dropCmd.Flags().BoolVar(&dropDryRun, "dry-run", false, "List what would be dropped without dropping")
	rootCmd.AddCommand(dropCmd)
}
