package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ledgerexec/ledgerexec/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded executions",
		Long: `Inspect the execution history database. The database path comes from the
history section of the config unless --db is given.`,
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "history database path")

	cmd.AddCommand(newHistoryListCommand(&dbPath))
	cmd.AddCommand(newHistoryShowCommand(&dbPath))
	cmd.AddCommand(newHistoryPruneCommand(&dbPath))
	return cmd
}

func openHistory(ctx context.Context, dbPath string) (*stores.SQLiteStore, error) {
	if dbPath == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if !cfg.History.Enabled {
			return nil, fmt.Errorf("history is disabled in %s, pass --db", resolveConfigPath())
		}
		dbPath = cfg.History.Path
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func newHistoryListCommand(dbPath *string) *cobra.Command {
	var filter stores.ListFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		Example: `  ledgerexec history list
  ledgerexec history list --kind transaction --outcome fatal --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			execs, err := store.ListExecutions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), execs, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKIND\tMETHOD\tOUTCOME\tSTATUS\tATTEMPTS\tSTARTED")
				for _, e := range execs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
						e.ID, e.Kind, e.Method, e.Outcome, e.Status, e.AttemptCount,
						e.StartedAt.Local().Format(time.DateTime))
				}
				_ = tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&filter.Kind, "kind", "", "filter by kind (query, cost, transaction)")
	cmd.Flags().StringVar(&filter.Outcome, "outcome", "", "filter by outcome")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum rows (default 50)")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "rows to skip")
	return cmd
}

func newHistoryShowCommand(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one execution and its attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			e, err := store.GetExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), e, func(w io.Writer) {
				fmt.Fprintf(w, "Execution:    %s\n", e.ID)
				fmt.Fprintf(w, "Kind:         %s %s\n", e.Kind, e.Method)
				if e.TransactionID != "" {
					fmt.Fprintf(w, "Transaction:  %s\n", e.TransactionID)
				}
				fmt.Fprintf(w, "Outcome:      %s (%s)\n", e.Outcome, e.Status)
				fmt.Fprintf(w, "Cost:         %d\n", e.Cost)
				fmt.Fprintf(w, "Duration:     %s\n", e.Duration())
				if e.Error != nil {
					fmt.Fprintf(w, "Error:        %s\n", *e.Error)
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "\n#\tKIND\tNODE\tOUTCOME\tSTATUS\tDURATION")
				for _, a := range e.Attempts {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", a.Number, a.Kind, a.Node, a.Outcome, a.Status, a.Duration)
				}
				_ = tw.Flush()
			})
		},
	}
}

func newHistoryPruneCommand(dbPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete old executions",
		Example: `  ledgerexec history prune --older-than 720h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive, got: %s", olderThan)
			}
			store, err := openHistory(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.DeleteExecutionsBefore(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", n).Dur("older_than", olderThan).Msg("Pruned execution history")
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete executions started before this age")
	return cmd
}
