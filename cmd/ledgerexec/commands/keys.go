package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ledgerexec/ledgerexec/pkg/keys"
)

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Key management",
	}

	cmd.AddCommand(newKeysGenerateCommand())
	cmd.AddCommand(newKeysRecoverCommand())
	return cmd
}

type keyOutput struct {
	Algorithm  string `json:"algorithm"`
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
	Mnemonic   string `json:"mnemonic,omitempty"`
	Index      uint32 `json:"index,omitempty"`
}

func printKey(w io.Writer, out keyOutput) error {
	return render(w, out, func(w io.Writer) {
		if out.Mnemonic != "" {
			fmt.Fprintf(w, "Mnemonic:     %s\n", out.Mnemonic)
			fmt.Fprintf(w, "Index:        %d\n", out.Index)
		}
		fmt.Fprintf(w, "Algorithm:    %s\n", out.Algorithm)
		fmt.Fprintf(w, "Private key:  %s\n", out.PrivateKey)
		fmt.Fprintf(w, "Public key:   %s\n", out.PublicKey)
	})
}

func newKeysGenerateCommand() *cobra.Command {
	var (
		algorithm string
		mnemonic  bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new signing key",
		Long: `Generate a new private key. With --mnemonic a 24-word phrase is generated
and the ed25519 key at index 0 is derived from it.`,
		Example: `  ledgerexec keys generate
  ledgerexec keys generate --algorithm ecdsa
  ledgerexec keys generate --mnemonic`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mnemonic {
				phrase, err := keys.NewMnemonic()
				if err != nil {
					return err
				}
				key, err := keys.FromMnemonic(phrase, "", 0)
				if err != nil {
					return err
				}
				return printKey(cmd.OutOrStdout(), keyOutput{
					Algorithm:  key.Algorithm().String(),
					PrivateKey: key.String(),
					PublicKey:  key.PublicKey().String(),
					Mnemonic:   phrase,
				})
			}

			alg, err := keys.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			key, err := keys.Generate(alg)
			if err != nil {
				return err
			}
			return printKey(cmd.OutOrStdout(), keyOutput{
				Algorithm:  alg.String(),
				PrivateKey: key.String(),
				PublicKey:  key.PublicKey().String(),
			})
		},
	}

	cmd.Flags().StringVar(&algorithm, "algorithm", "ed25519", "key algorithm (ed25519 or ecdsa)")
	cmd.Flags().BoolVar(&mnemonic, "mnemonic", false, "derive the key from a new mnemonic phrase")
	return cmd
}

func newKeysRecoverCommand() *cobra.Command {
	var (
		passphrase string
		index      uint32
	)

	cmd := &cobra.Command{
		Use:   "recover <word>...",
		Short: "Derive a key from a mnemonic phrase",
		Example: `  ledgerexec keys recover abandon abandon ... art --index 1`,
		Args:    cobra.MinimumNArgs(12),
		RunE: func(cmd *cobra.Command, args []string) error {
			phrase := strings.Join(args, " ")
			key, err := keys.FromMnemonic(phrase, passphrase, index)
			if err != nil {
				return err
			}
			return printKey(cmd.OutOrStdout(), keyOutput{
				Algorithm:  key.Algorithm().String(),
				PrivateKey: key.String(),
				PublicKey:  key.PublicKey().String(),
				Index:      index,
			})
		},
	}

	cmd.Flags().StringVar(&passphrase, "passphrase", "", "mnemonic passphrase")
	cmd.Flags().Uint32Var(&index, "index", 0, "derivation index")
	return cmd
}
