package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hpoveda/chreplica/internal/config"
	"github.com/hpoveda/chreplica/internal/replicator"
)

var (
	repChunkSize   int
	repMaxRows     int64
	repPrefix      string
	repIncremental bool
	repIdentityCol string
	repLookback    int
	repReplacing   bool
	repExcluded    []string
	repTables      []string
)

var replicateCmd = &cobra.Command{
	Use:   "replicate SOURCE_DB TARGET_DB [tables] [max_rows|prefix] [prefix] [incremental] [identity_column]",
	Short: "Replicate tables from SQL Server into ClickHouse",
	Long: `Replicate discovers tables in the source database, picks an incremental
strategy per table and streams rows in chunks into the target database.

Positional arguments after the two database names are optional and mirror the
legacy surface: a comma-separated table list, a per-table row cap or a target
table prefix, the prefix when a cap was given, an incremental boolean and a
preferred identity column. Flags override positionals.`,
	Args: cobra.RangeArgs(2, 7),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Source.Database = args[0]
		cfg.Target.Database = args[1]
		if err := applyPositionals(args[2:], &cfg.Replication); err != nil {
			return err
		}
		overlayReplicateFlags(cmd, &cfg.Replication)

		driver := replicator.New(cfg, logger)
		summary, err := driver.Run(cmd.Context())
		if err != nil {
			return err
		}

		printSummary(summary)
		return nil
	},
}

func init() {
	f := replicateCmd.Flags()
	f.IntVar(&repChunkSize, "chunk-size", 10000, "Rows per fetch/insert batch")
	f.Int64Var(&repMaxRows, "max-rows", 0, "Per-table row cap (0 = unlimited)")
	f.StringVar(&repPrefix, "table-prefix", "", "Prefix prepended to every target table name")
	f.BoolVar(&repIncremental, "incremental", true, "Incremental strategies; false forces a full replace")
	f.StringVar(&repIdentityCol, "identity-column", "Id", "Preferred identity column hint")
	f.IntVar(&repLookback, "lookback-days", 7, "Lookback window for the identity strategy")
	f.BoolVar(&repReplacing, "replacing-engine", true, "Create tables with ReplacingMergeTree dedup")
	f.StringSliceVar(&repExcluded, "exclude-prefix", []string{"TMP_"}, "Source table name prefixes to skip")
	f.StringSliceVar(&repTables, "tables", nil, "Restrict the run to these tables")
	rootCmd.AddCommand(replicateCmd)
}

// applyPositionals consumes the optional positional arguments:
// [tables] [max_rows_or_prefix] [prefix_if_prior_was_number]
// [incremental_bool] [identity_column]. A bare "-" skips a position.
func applyPositionals(opt []string, rep *config.ReplicationConfig) error {
	i := 0

	if i < len(opt) {
		if opt[i] != "" && opt[i] != "-" {
			rep.Tables = splitCommaList(opt[i])
		}
		i++
	}

	if i < len(opt) && !looksBool(opt[i]) {
		if n, err := strconv.ParseInt(opt[i], 10, 64); err == nil {
			rep.MaxRowsPerTable = n
			i++
			if i < len(opt) && !looksBool(opt[i]) {
				rep.TargetTablePrefix = opt[i]
				i++
			}
		} else {
			rep.TargetTablePrefix = opt[i]
			i++
		}
	}

	if i < len(opt) {
		b, err := parseBool(opt[i])
		if err != nil {
			return err
		}
		rep.Incremental = b
		i++
	}

	if i < len(opt) {
		rep.PreferredIdentityColumn = opt[i]
		i++
	}

	if i < len(opt) {
		return fmt.Errorf("unexpected argument %q", opt[i])
	}
	return nil
}

func looksBool(s string) bool {
	_, err := parseBool(s)
	return err == nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "t", "yes":
		return true, nil
	case "false", "f", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected incremental boolean, got %q", s)
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func overlayReplicateFlags(cmd *cobra.Command, rep *config.ReplicationConfig) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("chunk-size", func() { rep.ChunkSize = repChunkSize })
	set("max-rows", func() { rep.MaxRowsPerTable = repMaxRows })
	set("table-prefix", func() { rep.TargetTablePrefix = repPrefix })
	set("incremental", func() { rep.Incremental = repIncremental })
	set("identity-column", func() { rep.PreferredIdentityColumn = repIdentityCol })
	set("lookback-days", func() { rep.LookbackDays = repLookback })
	set("replacing-engine", func() { rep.UseReplacingEngine = repReplacing })
	set("exclude-prefix", func() { rep.ExcludedTablePrefixes = repExcluded })
	set("tables", func() { rep.Tables = repTables })
}

// printSummary emits the per-table status lines and the final totals on
// stdout, independent of the log stream.
func printSummary(s *replicator.Summary) {
	for _, r := range s.Results {
		if r.Err != nil {
			fmt.Printf("%-40s ERROR %v\n", r.Source, r.Err)
			continue
		}
		fmt.Printf("%-40s OK %d rows %d cols (%s, %s)\n",
			r.Source, r.Inserted+r.Updated, r.Columns, r.Strategy.Kind, r.Elapsed.Round(timeUnit(r.Elapsed)))
	}
	fmt.Printf("\ntables_ok=%d tables_failed=%d rows_total=%d duration=%s\n",
		s.TablesOK, s.TablesFailed, s.RowsTotal, s.Duration.Round(timeUnit(s.Duration)))
}

func timeUnit(d time.Duration) time.Duration {
	if d >= time.Second {
		return 10 * time.Millisecond
	}
	return time.Millisecond
}
