package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerexec/ledgerexec/pkg/config"
	"github.com/ledgerexec/ledgerexec/pkg/engine"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
	"github.com/ledgerexec/ledgerexec/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect spending policies",
		Long: `Inspect the spending guard configured under policy: in the config file.
The guard approves every paid query and transaction before it is signed.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyCheckCommand())
	return cmd
}

// loadGuard builds the guard the client would build, without connecting to
// any node.
func loadGuard(ctx context.Context) (*config.Config, *policy.Guard, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	limits, err := cfg.PolicyLimits()
	if err != nil {
		return nil, nil, err
	}
	g, err := policy.NewGuard(ctx, limits)
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := g.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, nil, err
		}
	}
	return cfg, g, nil
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in and loaded policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, g, err := loadGuard(cmd.Context())
			if err != nil {
				return err
			}
			policies := g.ListPolicies()

			out := make([]map[string]any, len(policies))
			for i, p := range policies {
				out[i] = map[string]any{
					"name":        p.Name,
					"description": p.Description,
					"severity":    string(p.Severity),
					"enabled":     p.Enabled,
					"builtin":     p.Builtin,
					"source":      p.Source,
				}
			}
			return render(cmd.OutOrStdout(), out, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSEVERITY\tSOURCE\tDESCRIPTION")
				for _, p := range policies {
					source := p.Source
					if p.Builtin {
						source = "builtin"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Severity, source, p.Description)
				}
				_ = tw.Flush()
			})
		},
	}
}

func newPolicyCheckCommand() *cobra.Command {
	var (
		memo   string
		maxFee uint64
	)

	cmd := &cobra.Command{
		Use:   "check <recipient> <amount> [<recipient> <amount>...]",
		Short: "Evaluate a transfer against the policies without sending it",
		Long: `Evaluate a transfer from the operator against the configured policies.
Nothing is signed or sent. The command fails when a blocking policy denies
the transfer.`,
		Example: `  ledgerexec policy check 0.0.1002 1000
  ledgerexec policy check 0.0.1002 10 0.0.1003 20 --max-fee 500000000`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payments, err := parsePayments(args, memo)
			if err != nil {
				return err
			}
			cfg, g, err := loadGuard(cmd.Context())
			if err != nil {
				return err
			}
			operator, _, err := cfg.OperatorKey()
			if err != nil {
				return err
			}
			if maxFee == 0 {
				maxFee = cfg.EngineConfig().MaxTransactionFee
			}

			in := policy.Input{
				Kind:      "transaction",
				Method:    hapi.MethodCryptoTransfer,
				Payer:     operator.String(),
				MaxFee:    maxFee,
				Memo:      memo,
				Timestamp: time.Now().UTC(),
			}
			var total int64
			for _, p := range payments {
				total += p.Amount
				in.Transfers = append(in.Transfers, policy.Transfer{Account: p.Recipient.String(), Amount: p.Amount})
			}
			in.Transfers = append(in.Transfers, policy.Transfer{Account: operator.String(), Amount: -total})

			decision, err := g.Evaluate(cmd.Context(), in)
			if err != nil {
				return err
			}
			var blocking int
			for _, v := range decision.Violations {
				if v.Severity.Blocks() {
					blocking++
				}
			}
			if err := render(cmd.OutOrStdout(), decision, func(w io.Writer) {
				if len(decision.Violations) == 0 {
					fmt.Fprintf(w, "allowed (%d policies evaluated)\n", len(decision.Evaluated))
					return
				}
				for _, v := range decision.Violations {
					fmt.Fprintf(w, "%s\t%s\t%s\n", v.Severity, v.Policy, v.Message)
				}
			}); err != nil {
				return err
			}
			if blocking > 0 {
				return fmt.Errorf("%w: %d blocking violations", engine.ErrNotAuthorized, blocking)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&memo, "memo", "", "transaction memo")
	cmd.Flags().Uint64Var(&maxFee, "max-fee", 0, "maximum transaction fee in tinybar (0 uses the configured fee)")
	return cmd
}
