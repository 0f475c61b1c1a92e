package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/keys"
	"github.com/ledgerexec/ledgerexec/pkg/simnode"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func decodeJSON(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	return m
}

func TestIDParse(t *testing.T) {
	id := entity.Account(0, 0, 1001)
	out, err := runCommand(t, "id", "parse", "0.0.1001", "--ledger", "testnet", "--json")
	if err != nil {
		t.Fatalf("id parse: %v", err)
	}
	want := map[string]any{
		"kind":     "account",
		"id":       "0.0.1001",
		"checksum": id.StringWithChecksum(entity.Testnet),
		"bytes":    fmt.Sprintf("%x", id.Bytes()),
	}
	if diff := cmp.Diff(want, decodeJSON(t, out)); diff != "" {
		t.Errorf("id parse mismatch (-want +got):\n%s", diff)
	}
}

func TestIDParseNft(t *testing.T) {
	out, err := runCommand(t, "id", "parse", "0.0.5005@12", "--kind", "nft", "--json")
	if err != nil {
		t.Fatalf("id parse: %v", err)
	}
	if got := decodeJSON(t, out)["id"]; got != "0.0.5005/12" {
		t.Errorf("id = %v, want 0.0.5005/12", got)
	}
}

func TestIDChecksum(t *testing.T) {
	id := entity.Account(0, 0, 1001)
	good := id.StringWithChecksum(entity.Mainnet)

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr error
	}{
		{name: "compute", args: []string{"0.0.1001"}, want: good},
		{name: "verify", args: []string{good}, want: good},
		{name: "wrong ledger", args: []string{good, "--ledger", "previewnet"}, wantErr: &entity.ChecksumMismatchError{}},
		{name: "malformed", args: []string{"0.0"}, wantErr: &entity.ParseError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCommand(t, append([]string{"id", "checksum"}, tt.args...)...)
			if tt.wantErr != nil {
				if err == nil {
					t.Fatalf("expected error, got output %q", out)
				}
				switch tt.wantErr.(type) {
				case *entity.ChecksumMismatchError:
					var target *entity.ChecksumMismatchError
					if !errors.As(err, &target) {
						t.Errorf("err = %v, want checksum mismatch", err)
					}
				case *entity.ParseError:
					var target *entity.ParseError
					if !errors.As(err, &target) {
						t.Errorf("err = %v, want parse error", err)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := strings.TrimSpace(out); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeysGenerate(t *testing.T) {
	for _, alg := range []string{"ed25519", "ecdsa"} {
		t.Run(alg, func(t *testing.T) {
			out, err := runCommand(t, "keys", "generate", "--algorithm", alg, "--json")
			if err != nil {
				t.Fatalf("keys generate: %v", err)
			}
			m := decodeJSON(t, out)
			key, err := keys.ParsePrivateKey(m["private_key"].(string))
			if err != nil {
				t.Fatalf("ParsePrivateKey: %v", err)
			}
			if got := key.PublicKey().String(); got != m["public_key"] {
				t.Errorf("public key = %v, want %s", m["public_key"], got)
			}
		})
	}
}

func TestKeysMnemonicRoundTrip(t *testing.T) {
	out, err := runCommand(t, "keys", "generate", "--mnemonic", "--json")
	if err != nil {
		t.Fatalf("keys generate: %v", err)
	}
	generated := decodeJSON(t, out)
	words := strings.Fields(generated["mnemonic"].(string))
	if len(words) != 24 {
		t.Fatalf("mnemonic has %d words, want 24", len(words))
	}

	out, err = runCommand(t, append([]string{"keys", "recover", "--json"}, words...)...)
	if err != nil {
		t.Fatalf("keys recover: %v", err)
	}
	if got := decodeJSON(t, out)["private_key"]; got != generated["private_key"] {
		t.Errorf("recovered %v, generated %v", got, generated["private_key"])
	}
}

func TestParseFunding(t *testing.T) {
	key, err := keys.GenerateEd25519()
	if err != nil {
		t.Fatal(err)
	}

	acct, err := parseFunding("0.0.1001:500:" + key.PublicKey().String())
	if err != nil {
		t.Fatalf("parseFunding: %v", err)
	}
	if acct.ID != entity.Account(0, 0, 1001) || acct.Balance != 500 || !acct.Key.Equal(key.PublicKey()) {
		t.Errorf("parseFunding = %+v", acct)
	}

	for _, bad := range []string{"0.0.1001", "x:5", "0.0.1001:-1", "0.0.1001:5:zz"} {
		if _, err := parseFunding(bad); err == nil {
			t.Errorf("parseFunding(%q) succeeded", bad)
		}
	}
}

func TestNodeAddresses(t *testing.T) {
	got, err := nodeAddresses("127.0.0.1:50211", 3)
	if err != nil {
		t.Fatalf("nodeAddresses: %v", err)
	}
	want := []string{"127.0.0.1:50211", "127.0.0.1:50212", "127.0.0.1:50213"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("nodeAddresses mismatch (-want +got):\n%s", diff)
	}
	if _, err := nodeAddresses("127.0.0.1:65535", 2); err == nil {
		t.Error("expected error for port overflow")
	}
}

// startNetwork serves one simulated node over TCP and writes a config for it.
func startNetwork(t *testing.T) (cfgPath, dbPath string, ledger *simnode.Ledger) {
	t.Helper()

	key, err := keys.GenerateEd25519()
	if err != nil {
		t.Fatal(err)
	}
	operator := entity.Account(0, 0, 1001)
	ledger = simnode.NewLedger()
	if err := ledger.CreateAccount(simnode.Account{ID: operator, Balance: 1_000_000_000, Key: key.PublicKey()}); err != nil {
		t.Fatal(err)
	}
	if err := ledger.CreateAccount(simnode.Account{ID: entity.Account(0, 0, 1002)}); err != nil {
		t.Fatal(err)
	}

	node, err := simnode.New(simnode.DefaultConfig(entity.Account(0, 0, 3)), ledger)
	if err != nil {
		t.Fatal(err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = node.Serve(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	dir := t.TempDir()
	dbPath = filepath.Join(dir, "history.db")
	cfgPath = filepath.Join(dir, "ledgerexec.yaml")
	cfg := fmt.Sprintf(`network: testnet
nodes:
  - account_id: "0.0.3"
    address: %q
operator:
  account_id: "0.0.1001"
  private_key: %q
execution:
  min_backoff: 1ms
  max_backoff: 5ms
history:
  enabled: true
  path: %q
telemetry:
  log_level: error
`, lis.Addr().String(), key.String(), dbPath)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfgPath, dbPath, ledger
}

func TestAccountCommands(t *testing.T) {
	cfgPath, dbPath, ledger := startNetwork(t)

	out, err := runCommand(t, "--config", cfgPath, "--json", "balance", "0.0.1001")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got := decodeJSON(t, out)["balance"]; got != float64(1_000_000_000) {
		t.Errorf("balance = %v", got)
	}

	fees := simnode.DefaultConfig(entity.Account(0, 0, 3))
	out, err = runCommand(t, "--config", cfgPath, "--json", "cost", "0.0.1002", "--node", "0.0.3")
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	if got := decodeJSON(t, out)["cost"]; got != float64(fees.QueryFee) {
		t.Errorf("cost = %v, want %d", got, fees.QueryFee)
	}

	if _, err := runCommand(t, "--config", cfgPath, "info", "0.0.1002", "--max-payment", "1"); err == nil {
		t.Error("info with a too small --max-payment succeeded")
	}

	out, err = runCommand(t, "--config", cfgPath, "--json", "transfer", "0.0.1002", "750", "--memo", "test")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := ledger.Balance(entity.Account(0, 0, 1002)); got != 750 {
		t.Errorf("recipient balance = %d, want 750", got)
	}
	txID := decodeJSON(t, out)["transaction_id"]

	out, err = runCommand(t, "history", "--db", dbPath, "list", "--kind", "transaction", "--json")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	var execs []map[string]any
	if err := json.Unmarshal([]byte(out), &execs); err != nil {
		t.Fatalf("history output: %v\n%s", err, out)
	}
	if len(execs) != 1 || execs[0]["transaction_id"] != txID {
		t.Fatalf("history = %v, want the transfer %v", execs, txID)
	}

	out, err = runCommand(t, "history", "--db", dbPath, "show", execs[0]["id"].(string))
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	if !strings.Contains(out, "success") {
		t.Errorf("history show output missing outcome:\n%s", out)
	}
}

func TestTransferRejectsBadAmount(t *testing.T) {
	for _, amount := range []string{"0", "ten", "1.5"} {
		if _, err := runCommand(t, "--config", "/nonexistent.yaml", "transfer", "0.0.1002", amount); err == nil ||
			!strings.Contains(err.Error(), "amount") {
			t.Errorf("transfer %s: err = %v, want amount error", amount, err)
		}
	}
}

func TestParsePayments(t *testing.T) {
	got, err := parsePayments([]string{"0.0.1002", "10", "0.0.1003", "20"}, "memo")
	if err != nil {
		t.Fatalf("parsePayments: %v", err)
	}
	if len(got) != 2 || got[1].Recipient != entity.Account(0, 0, 1003) || got[1].Amount != 20 || got[0].Memo != "memo" {
		t.Errorf("parsePayments = %+v", got)
	}
	if _, err := parsePayments([]string{"0.0.1002", "10", "0.0.1003"}, ""); err == nil {
		t.Error("expected error for an odd argument count")
	}
}

func writePolicyConfig(t *testing.T) string {
	t.Helper()
	key, err := keys.GenerateEd25519()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	rego := `# Memos are required.
# severity: warning
package ledgerexec.policies.memo

import rego.v1

deny contains "missing memo" if input.memo == ""
`
	if err := os.WriteFile(filepath.Join(dir, "memo.rego"), []byte(rego), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := fmt.Sprintf(`network: testnet
nodes:
  - account_id: "0.0.3"
    address: 127.0.0.1:1
operator:
  account_id: "0.0.1001"
  private_key: %q
policy:
  enabled: true
  paths: [%q]
  limits:
    max_transfer: 1000
    blocked_accounts: ["0.0.666"]
telemetry:
  log_level: error
`, key.String(), dir)
	path := filepath.Join(dir, "ledgerexec.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPolicyList(t *testing.T) {
	cfgPath := writePolicyConfig(t)

	out, err := runCommand(t, "--config", cfgPath, "--json", "policy", "list")
	if err != nil {
		t.Fatalf("policy list: %v", err)
	}
	var policies []map[string]any
	if err := json.Unmarshal([]byte(out), &policies); err != nil {
		t.Fatalf("policy list output: %v\n%s", err, out)
	}
	var names []string
	for _, p := range policies {
		names = append(names, p["name"].(string))
	}
	want := []string{"blocked-accounts", "fee-limit", "memo", "query-payment-limit", "transfer-limit"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("policies mismatch (-want +got):\n%s", diff)
	}
}

func TestPolicyCheck(t *testing.T) {
	cfgPath := writePolicyConfig(t)

	tests := []struct {
		name       string
		args       []string
		wantErr    bool
		violations int
	}{
		{name: "allowed", args: []string{"0.0.1002", "10", "--memo", "tip"}},
		{name: "warning only", args: []string{"0.0.1002", "10"}, violations: 1},
		{name: "over limit", args: []string{"0.0.1002", "5000", "--memo", "big"}, wantErr: true, violations: 1},
		{name: "blocked", args: []string{"0.0.666", "1", "--memo", "x"}, wantErr: true, violations: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", cfgPath, "--json", "policy", "check"}, tt.args...)
			out, err := runCommand(t, args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			got := decodeJSON(t, out)
			violations, _ := got["violations"].([]any)
			if len(violations) != tt.violations {
				t.Errorf("violations = %v, want %d", violations, tt.violations)
			}
			if got["allowed"] != !tt.wantErr {
				t.Errorf("allowed = %v, want %v", got["allowed"], !tt.wantErr)
			}
		})
	}
}
