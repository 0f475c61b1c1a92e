package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
)

func newIDCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Entity id utilities",
	}

	cmd.AddCommand(newIDParseCommand())
	cmd.AddCommand(newIDChecksumCommand())
	return cmd
}

func idFlags(cmd *cobra.Command, kind, ledger *string) {
	cmd.Flags().StringVar(kind, "kind", "account", "entity kind (account, file, contract, token, topic, schedule, nft)")
	cmd.Flags().StringVar(ledger, "ledger", "mainnet", "ledger for checksums (mainnet, testnet, previewnet or hex)")
}

func parseIDArgs(kindName, ledgerName, text string) (entity.Kind, entity.LedgerID, entity.Address, error) {
	kind, err := entity.ParseKind(kindName)
	if err != nil {
		return 0, entity.LedgerID{}, entity.Address{}, err
	}
	ledger, err := entity.ParseLedgerID(ledgerName)
	if err != nil {
		return 0, entity.LedgerID{}, entity.Address{}, err
	}
	addr, err := entity.ParseAddress(kind, text)
	if err != nil {
		return 0, entity.LedgerID{}, entity.Address{}, err
	}
	return kind, ledger, addr, nil
}

func newIDParseCommand() *cobra.Command {
	var kind, ledger string

	cmd := &cobra.Command{
		Use:   "parse <id>",
		Short: "Parse an entity id and show its forms",
		Example: `  ledgerexec id parse 0.0.1001
  ledgerexec id parse 0.0.5005@12 --kind nft`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, l, addr, err := parseIDArgs(kind, ledger, args[0])
			if err != nil {
				return err
			}
			id := addr.ID
			out := map[string]any{
				"kind":     k.String(),
				"id":       id.String(),
				"checksum": id.StringWithChecksum(l),
				"bytes":    fmt.Sprintf("%x", id.Bytes()),
			}
			if addr.Checksum != "" {
				out["checksum_valid"] = addr.ValidateChecksum(l) == nil
			}
			return render(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "Kind:      %s\n", k)
				fmt.Fprintf(w, "ID:        %s\n", id)
				fmt.Fprintf(w, "Checksum:  %s (%s)\n", id.StringWithChecksum(l), l)
				fmt.Fprintf(w, "Bytes:     %x\n", id.Bytes())
				if addr.Checksum != "" {
					if err := addr.ValidateChecksum(l); err != nil {
						fmt.Fprintf(w, "Supplied:  %s (%v)\n", addr.Checksum, err)
					} else {
						fmt.Fprintf(w, "Supplied:  %s (valid)\n", addr.Checksum)
					}
				}
			})
		},
	}

	idFlags(cmd, &kind, &ledger)
	return cmd
}

func newIDChecksumCommand() *cobra.Command {
	var kind, ledger string

	cmd := &cobra.Command{
		Use:   "checksum <id>",
		Short: "Print or verify the checksum of an id",
		Long: `Print the checksummed form of an id. If the id already carries a checksum
it is verified and the command fails on a mismatch.`,
		Example: `  ledgerexec id checksum 0.0.1001 --ledger testnet
  ledgerexec id checksum 0.0.1001-abcde --ledger testnet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, l, addr, err := parseIDArgs(kind, ledger, args[0])
			if err != nil {
				return err
			}
			if addr.Checksum != "" {
				if err := addr.ValidateChecksum(l); err != nil {
					return err
				}
			}
			s := addr.ID.StringWithChecksum(l)
			return render(cmd.OutOrStdout(), map[string]any{"id": s}, func(w io.Writer) {
				fmt.Fprintln(w, s)
			})
		},
	}

	idFlags(cmd, &kind, &ledger)
	return cmd
}
