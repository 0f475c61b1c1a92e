package commands

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/keys"
	"github.com/ledgerexec/ledgerexec/pkg/simnode"
	"github.com/ledgerexec/ledgerexec/pkg/telemetry"
)

func newNodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Simulated ledger nodes",
	}

	cmd.AddCommand(newNodeServeCommand())
	return cmd
}

// parseFunding decodes account:balance[:public-key].
func parseFunding(s string) (simnode.Account, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return simnode.Account{}, fmt.Errorf("funding must be account:balance[:public-key], got: %s", s)
	}
	id, err := parseAccount(parts[0])
	if err != nil {
		return simnode.Account{}, err
	}
	balance, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return simnode.Account{}, fmt.Errorf("invalid balance in %q: %w", s, err)
	}
	acct := simnode.Account{ID: id, Balance: balance}
	if len(parts) == 3 {
		acct.Key, err = keys.ParsePublicKey(parts[2])
		if err != nil {
			return simnode.Account{}, fmt.Errorf("invalid public key in %q: %w", s, err)
		}
	}
	return acct, nil
}

// nodeAddresses returns count listen addresses starting at base, one port apart.
func nodeAddresses(base string, count int) ([]string, error) {
	host, portText, err := net.SplitHostPort(base)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q: %w", base, err)
	}
	if port+count-1 > 65535 {
		return nil, fmt.Errorf("port range %d-%d exceeds 65535", port, port+count-1)
	}
	addrs := make([]string, count)
	for i := range addrs {
		addrs[i] = net.JoinHostPort(host, strconv.Itoa(port+i))
	}
	return addrs, nil
}

func newNodeServeCommand() *cobra.Command {
	var (
		listen         string
		count          int
		firstNode      string
		funding        []string
		queryFee       uint64
		transactionFee uint64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a simulated node network",
		Long: `Serve count simulated nodes sharing one in-memory ledger. Node accounts
are numbered from --first-node and listen on consecutive ports. The node list
for a config file is printed on startup.`,
		Example: `  # Three nodes on ports 50211-50213 with a funded operator
  ledgerexec node serve --count 3 \
    --fund 0.0.1001:100000000000:302a300506032b6570032100...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1, got: %d", count)
			}
			first, err := parseAccount(firstNode)
			if err != nil {
				return err
			}
			addrs, err := nodeAddresses(listen, count)
			if err != nil {
				return err
			}

			ledger := simnode.NewLedger()
			for _, f := range funding {
				acct, err := parseFunding(f)
				if err != nil {
					return err
				}
				if err := ledger.CreateAccount(acct); err != nil {
					return fmt.Errorf("account %s: %w", acct.ID, err)
				}
			}

			tcfg := telemetry.DefaultConfig()
			tcfg.ServiceName = "ledgerexec-node"
			if verbose {
				tcfg.Logging.Level = "debug"
			}
			tel, err := telemetry.NewTelemetry(tcfg)
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			listeners := make([]net.Listener, 0, count)
			defer func() {
				for _, l := range listeners {
					_ = l.Close()
				}
			}()
			nodes := make([]*simnode.Node, count)
			for i := range nodes {
				id := entity.Account(first.Shard, first.Realm, first.Num+uint64(i))
				ncfg := simnode.DefaultConfig(id)
				ncfg.QueryFee = queryFee
				ncfg.TransactionFee = transactionFee
				if nodes[i], err = simnode.New(ncfg, ledger, simnode.WithTelemetry(tel)); err != nil {
					return err
				}
				lis, err := net.Listen("tcp", addrs[i])
				if err != nil {
					return err
				}
				listeners = append(listeners, lis)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "nodes:")
			for i, n := range nodes {
				fmt.Fprintf(out, "  - account_id: %s\n    address: %s\n", n.AccountID(), listeners[i].Addr())
			}

			log.Info().Int("nodes", count).Str("first", first.String()).Msg("Serving simulated network")

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var wg sync.WaitGroup
			errCh := make(chan error, count)
			for i, n := range nodes {
				wg.Add(1)
				go func(n *simnode.Node, lis net.Listener) {
					defer wg.Done()
					if err := n.Serve(ctx, lis); err != nil {
						errCh <- fmt.Errorf("node %s: %w", n.AccountID(), err)
						cancel()
					}
				}(n, listeners[i])
			}
			wg.Wait()
			close(errCh)
			return <-errCh
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:50211", "address of the first node")
	cmd.Flags().IntVar(&count, "count", 3, "number of nodes")
	cmd.Flags().StringVar(&firstNode, "first-node", "0.0.3", "account id of the first node")
	cmd.Flags().StringSliceVar(&funding, "fund", nil, "create an account (account:balance[:public-key]); repeatable")
	cmd.Flags().Uint64Var(&queryFee, "query-fee", 100_000, "cost of a paid query in tinybar")
	cmd.Flags().Uint64Var(&transactionFee, "transaction-fee", 500_000, "fee charged per transaction in tinybar")
	return cmd
}
