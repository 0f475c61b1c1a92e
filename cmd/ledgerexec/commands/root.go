package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerexec/ledgerexec/pkg/client"
	"github.com/ledgerexec/ledgerexec/pkg/config"
	"github.com/ledgerexec/ledgerexec/pkg/entity"
)

const defaultConfigPath = "ledgerexec.yaml"

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ledgerexec",
		Short: "ledgerexec - paid queries and transactions against a ledger node network",
		Long: `ledgerexec executes signed queries and transactions against a replicated
ledger node network.

Features:
  - Automatic cost probing and per-node query payments
  - Retries across nodes with exponential backoff
  - Precheck status classification
  - Execution history in SQLite
  - A simulated node network for local testing`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default $LEDGEREXEC_CONFIG or ./ledgerexec.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newBalanceCommand())
	rootCmd.AddCommand(newInfoCommand())
	rootCmd.AddCommand(newCostCommand())
	rootCmd.AddCommand(newTransferCommand())
	rootCmd.AddCommand(newIDCommand())
	rootCmd.AddCommand(newKeysCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newNodeCommand())

	return rootCmd
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("LEDGEREXEC_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	return cfg, nil
}

func newClient(ctx context.Context) (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return client.New(ctx, cfg)
}

func parseAccount(text string) (entity.ID, error) {
	id, err := entity.Parse(entity.KindAccount, text)
	if err != nil {
		return entity.ID{}, fmt.Errorf("invalid account %q: %w", text, err)
	}
	return id, nil
}

// render prints v as JSON with --json, otherwise calls text.
func render(w io.Writer, v any, text func(io.Writer)) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
