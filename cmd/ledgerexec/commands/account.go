package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ledgerexec/ledgerexec/pkg/client"
	"github.com/ledgerexec/ledgerexec/pkg/engine"
	"github.com/ledgerexec/ledgerexec/pkg/entity"
)

func newBalanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Show an account balance",
		Long: `Show the balance of an account. The balance query is free and needs no
operator.`,
		Example: `  ledgerexec balance 0.0.1001`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := parseAccount(args[0])
			if err != nil {
				return err
			}
			c, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			bal, err := c.GetAccountBalance(cmd.Context(), account)
			if err != nil {
				return fmt.Errorf("balance query failed: %w", err)
			}
			out := map[string]any{"account": bal.Account.String(), "balance": bal.Balance}
			return render(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "%s\t%d tinybar\n", bal.Account, bal.Balance)
			})
		},
	}
}

func newInfoCommand() *cobra.Command {
	var maxPayment uint64

	cmd := &cobra.Command{
		Use:   "info <account>",
		Short: "Show account details (paid query)",
		Long: `Show account details. The info query is paid: its cost is probed first
and the operator pays the answering node.`,
		Example: `  # Pay whatever the network asks
  ledgerexec info 0.0.1001

  # Refuse to pay more than 200000 tinybar
  ledgerexec info 0.0.1001 --max-payment 200000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := parseAccount(args[0])
			if err != nil {
				return err
			}
			c, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			info, resp, err := c.GetAccountInfo(cmd.Context(), account, maxPayment)
			if err != nil {
				return fmt.Errorf("info query failed: %w", err)
			}
			log.Debug().
				Str("execution_id", resp.ExecutionID).
				Str("node", resp.NodeID.String()).
				Int("attempts", resp.Attempts).
				Msg("Info query answered")

			out := map[string]any{
				"account": info.Account.String(),
				"balance": info.Balance,
				"memo":    info.Memo,
				"deleted": info.Deleted,
				"cost":    resp.Cost,
				"node":    resp.NodeID.String(),
			}
			return render(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "Account:  %s\n", info.Account)
				fmt.Fprintf(w, "Balance:  %d tinybar\n", info.Balance)
				fmt.Fprintf(w, "Memo:     %s\n", info.Memo)
				fmt.Fprintf(w, "Deleted:  %t\n", info.Deleted)
				fmt.Fprintf(w, "Paid:     %d tinybar to %s\n", resp.Cost, resp.NodeID)
			})
		},
	}

	cmd.Flags().Uint64Var(&maxPayment, "max-payment", 0, "maximum query payment in tinybar (0 uses the configured limit)")
	return cmd
}

func newCostCommand() *cobra.Command {
	var node string

	cmd := &cobra.Command{
		Use:   "cost <account>",
		Short: "Show what an info query would cost",
		Long: `Probe the cost of the account info query without paying for it. With
--node the probe is one round trip to that node; otherwise it retries across
the network like any other request.`,
		Example: `  ledgerexec cost 0.0.1001
  ledgerexec cost 0.0.1001 --node 0.0.3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := parseAccount(args[0])
			if err != nil {
				return err
			}
			var target *entity.ID
			if node != "" {
				id, err := parseAccount(node)
				if err != nil {
					return err
				}
				target = &id
			}

			c, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			cost, err := c.AccountInfoCost(cmd.Context(), account, target)
			if err != nil {
				return fmt.Errorf("cost probe failed: %w", err)
			}
			return render(cmd.OutOrStdout(), map[string]any{"cost": cost}, func(w io.Writer) {
				fmt.Fprintf(w, "%d tinybar\n", cost)
			})
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "probe a single node account")
	return cmd
}

func parsePayments(args []string, memo string) ([]client.Payment, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("expected recipient and amount pairs, got %d arguments", len(args))
	}
	payments := make([]client.Payment, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		recipient, err := parseAccount(args[i])
		if err != nil {
			return nil, err
		}
		amount, err := strconv.ParseInt(args[i+1], 10, 64)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("amount must be a positive integer, got: %s", args[i+1])
		}
		payments = append(payments, client.Payment{Recipient: recipient, Amount: amount, Memo: memo})
	}
	return payments, nil
}

func newTransferCommand() *cobra.Command {
	var (
		memo     string
		parallel int
		failFast bool
	)

	cmd := &cobra.Command{
		Use:   "transfer <recipient> <amount> [<recipient> <amount>...]",
		Short: "Transfer tinybar from the operator",
		Long: `Transfer tinybar from the operator account to one or more recipients. Each
recipient gets its own transaction, signed once per candidate node and retried
across nodes until one accepts it. Several transfers run concurrently.`,
		Example: `  ledgerexec transfer 0.0.1002 1000 --memo "lunch"

  # Pay three accounts, two at a time
  ledgerexec transfer 0.0.1002 10 0.0.1003 20 0.0.1004 30 --parallel 2`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payments, err := parsePayments(args, memo)
			if err != nil {
				return err
			}

			c, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			results, err := c.TransferBatch(cmd.Context(), payments, engine.BatchOptions{
				MaxParallel: parallel,
				FailFast:    failFast,
			})
			if err != nil {
				return fmt.Errorf("transfer failed: %w", err)
			}

			out := make([]map[string]any, len(results))
			var failed int
			for i, r := range results {
				row := map[string]any{"recipient": payments[i].Recipient.String(), "amount": payments[i].Amount}
				if r.Err != nil {
					failed++
					row["error"] = r.Err.Error()
					log.Error().Err(r.Err).Str("recipient", payments[i].Recipient.String()).Msg("Transfer failed")
				} else {
					row["transaction_id"] = r.Response.TransactionID.String()
					row["node"] = r.Response.NodeID.String()
					row["hash"] = fmt.Sprintf("%x", r.Response.Hash)
					row["attempts"] = r.Response.Attempts
				}
				out[i] = row
			}

			var v any = out
			if len(out) == 1 {
				v = out[0]
			}
			if err := render(cmd.OutOrStdout(), v, func(w io.Writer) {
				for i, r := range results {
					if r.Err != nil {
						fmt.Fprintf(w, "%s\t%d\tFAILED\t%v\n", payments[i].Recipient, payments[i].Amount, r.Err)
						continue
					}
					fmt.Fprintf(w, "%s\t%d\t%s\tnode %s\n", payments[i].Recipient, payments[i].Amount, r.Response.TransactionID, r.Response.NodeID)
				}
			}); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d transfers failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&memo, "memo", "", "transaction memo (at most 100 bytes)")
	cmd.Flags().IntVar(&parallel, "parallel", engine.DefaultMaxParallel, "maximum concurrent transfers")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop after the first failed transfer")
	return cmd
}
