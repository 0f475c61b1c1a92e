package client

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ledgerexec/ledgerexec/pkg/config"
	"github.com/ledgerexec/ledgerexec/pkg/engine"
	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/keys"
	"github.com/ledgerexec/ledgerexec/pkg/policy"
	"github.com/ledgerexec/ledgerexec/pkg/simnode"
	"github.com/ledgerexec/ledgerexec/pkg/stores"
	"github.com/ledgerexec/ledgerexec/pkg/telemetry"
)

const funded = 50 * engine.DefaultMaxTransactionFee

var (
	operatorID = entity.Account(0, 0, 1001)
	aliceID    = entity.Account(0, 0, 1002)
)

type testEnv struct {
	ledger   *simnode.Ledger
	cfg      *config.Config
	dialOpts []grpc.DialOption
}

// newTestEnv serves size simulated nodes over bufconn and returns a config
// pointing at them with a funded operator.
func newTestEnv(t *testing.T, size int) *testEnv {
	t.Helper()

	key, err := keys.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	ledger := simnode.NewLedger()
	if err := ledger.CreateAccount(simnode.Account{ID: operatorID, Balance: funded, Key: key.PublicKey()}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := ledger.CreateAccount(simnode.Account{ID: aliceID}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	cfg := config.Default()
	cfg.Execution.MinBackoff = time.Millisecond
	cfg.Execution.MaxBackoff = 5 * time.Millisecond
	cfg.Operator = config.OperatorConfig{AccountID: operatorID.String(), PrivateKey: key.String()}

	listeners := make(map[string]*bufconn.Listener)
	for i := range size {
		id := entity.Account(0, 0, uint64(i+3))
		node, err := simnode.New(simnode.DefaultConfig(id), ledger)
		if err != nil {
			t.Fatalf("simnode.New: %v", err)
		}
		lis := bufconn.Listen(1 << 20)
		srv := grpc.NewServer()
		node.Register(srv)
		go func() { _ = srv.Serve(lis) }()
		t.Cleanup(srv.Stop)

		name := "node-" + id.String()
		listeners[name] = lis
		cfg.Nodes = append(cfg.Nodes, config.NodeConfig{AccountID: id.String(), Address: "passthrough:///" + name})
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	dialer := func(ctx context.Context, addr string) (net.Conn, error) {
		lis, ok := listeners[strings.TrimPrefix(addr, "passthrough:///")]
		if !ok {
			return nil, errors.New("unknown address " + addr)
		}
		return lis.DialContext(ctx)
	}
	return &testEnv{
		ledger:   ledger,
		cfg:      cfg,
		dialOpts: []grpc.DialOption{grpc.WithContextDialer(dialer)},
	}
}

func (e *testEnv) newClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithDialOptions(e.dialOpts...), WithTelemetry(telemetry.NewNopTelemetry())}, opts...)
	c, err := New(context.Background(), e.cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientAccountOperations(t *testing.T) {
	env := newTestEnv(t, 3)
	c := env.newClient(t)
	ctx := testCtx(t)

	bal, err := c.GetAccountBalance(ctx, operatorID)
	if err != nil {
		t.Fatalf("GetAccountBalance: %v", err)
	}
	if bal.Balance != funded {
		t.Errorf("balance = %d, want %d", bal.Balance, funded)
	}

	fees := simnode.DefaultConfig(entity.Account(0, 0, 3))
	cost, err := c.AccountInfoCost(ctx, operatorID, nil)
	if err != nil {
		t.Fatalf("AccountInfoCost: %v", err)
	}
	if cost != fees.QueryFee {
		t.Errorf("cost = %d, want %d", cost, fees.QueryFee)
	}
	node := entity.Account(0, 0, 4)
	if cost, err := c.AccountInfoCost(ctx, operatorID, &node); err != nil || cost != fees.QueryFee {
		t.Errorf("single node cost = %d, %v", cost, err)
	}

	info, resp, err := c.GetAccountInfo(ctx, aliceID, 0)
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info.Account != aliceID || resp.Cost != fees.QueryFee {
		t.Errorf("info = %+v, cost %d", info, resp.Cost)
	}

	txResp, err := c.Transfer(ctx, aliceID, 2_500, "rent")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if !env.ledger.Applied(txResp.TransactionID) {
		t.Error("transfer not applied")
	}
	if got := env.ledger.Balance(aliceID); got != 2_500 {
		t.Errorf("alice balance = %d, want 2500", got)
	}
}

func TestClientMaxPaymentRejectsCost(t *testing.T) {
	env := newTestEnv(t, 1)
	c := env.newClient(t)

	_, _, err := c.GetAccountInfo(testCtx(t), operatorID, 1)
	if !errors.Is(err, engine.ErrCostExceedsMax) {
		t.Fatalf("err = %v, want ErrCostExceedsMax", err)
	}
	if got := env.ledger.Balance(operatorID); got != funded {
		t.Errorf("operator charged %d for a rejected query", funded-got)
	}
}

func TestClientReadOnly(t *testing.T) {
	env := newTestEnv(t, 1)
	env.cfg.Operator = config.OperatorConfig{}
	c := env.newClient(t)
	ctx := testCtx(t)

	if _, err := c.GetAccountBalance(ctx, operatorID); err != nil {
		t.Errorf("free query failed without operator: %v", err)
	}
	if _, _, err := c.GetAccountInfo(ctx, operatorID, 0); !errors.Is(err, ErrReadOnly) {
		t.Errorf("GetAccountInfo err = %v, want ErrReadOnly", err)
	}
	if _, err := c.Transfer(ctx, aliceID, 1, ""); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Transfer err = %v, want ErrReadOnly", err)
	}
}

func TestClientRecordsHistory(t *testing.T) {
	env := newTestEnv(t, 2)
	env.cfg.History = config.HistoryConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "history.db")}
	c := env.newClient(t)
	ctx := testCtx(t)

	if _, _, err := c.GetAccountInfo(ctx, operatorID, 0); err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if _, err := c.Transfer(ctx, aliceID, 5, ""); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	execs, err := c.History().ListExecutions(ctx, stores.ListFilter{})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("recorded %d executions, want 2", len(execs))
	}
	kinds := map[string]bool{}
	for _, e := range execs {
		kinds[e.Kind] = true
		if e.Outcome != "success" {
			t.Errorf("%s outcome = %s", e.ID, e.Outcome)
		}
	}
	if !kinds["query"] || !kinds["transaction"] {
		t.Errorf("kinds = %v, want query and transaction", kinds)
	}
}

func TestClientApplyConfig(t *testing.T) {
	env := newTestEnv(t, 3)
	c := env.newClient(t)

	next := *env.cfg
	next.Nodes = env.cfg.Nodes[:1]
	if err := c.ApplyConfig(&next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if c.Network().Len() != 1 {
		t.Errorf("Len() = %d after ApplyConfig, want 1", c.Network().Len())
	}
	if _, err := c.GetAccountBalance(testCtx(t), operatorID); err != nil {
		t.Errorf("GetAccountBalance after ApplyConfig: %v", err)
	}

	next.Nodes = nil
	if err := c.ApplyConfig(&next); err == nil {
		t.Error("expected error for empty node list")
	}
	if c.Network().Len() != 1 {
		t.Error("failed ApplyConfig changed the node list")
	}
}

func TestClientTransferBatch(t *testing.T) {
	env := newTestEnv(t, 3)
	c := env.newClient(t)

	payments := []Payment{
		{Recipient: aliceID, Amount: 10},
		{Recipient: aliceID, Amount: 20, Memo: "second"},
		{Recipient: aliceID, Amount: 30},
	}
	results, err := c.TransferBatch(testCtx(t), payments, engine.BatchOptions{MaxParallel: 2})
	if err != nil {
		t.Fatalf("TransferBatch: %v", err)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("payment %d: %v", r.Index, r.Err)
		}
		if !env.ledger.Applied(r.Response.TransactionID) {
			t.Errorf("payment %d not applied", r.Index)
		}
	}
	if got := env.ledger.Balance(aliceID); got != 60 {
		t.Errorf("alice balance = %d, want 60", got)
	}
}

func TestClientPolicyGuard(t *testing.T) {
	env := newTestEnv(t, 2)
	env.cfg.Policy = config.PolicyConfig{
		Enabled: true,
		Limits:  config.PolicyLimits{MaxTransfer: 100},
	}
	c := env.newClient(t)
	ctx := testCtx(t)

	if c.Policy() == nil {
		t.Fatal("Policy() = nil with policy enabled")
	}
	if _, err := c.Transfer(ctx, aliceID, 50, ""); err != nil {
		t.Fatalf("Transfer under limit: %v", err)
	}

	_, err := c.Transfer(ctx, aliceID, 500, "")
	if !errors.Is(err, engine.ErrNotAuthorized) || !errors.Is(err, policy.ErrDenied) {
		t.Fatalf("err = %v, want ErrNotAuthorized wrapping ErrDenied", err)
	}
	if got := env.ledger.Balance(aliceID); got != 50 {
		t.Errorf("alice balance = %d, want 50", got)
	}

	next := *env.cfg
	next.Policy.Limits.MaxTransfer = 1000
	if err := c.ApplyConfig(&next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if _, err := c.Transfer(ctx, aliceID, 500, ""); err != nil {
		t.Errorf("Transfer after raising limit: %v", err)
	}
}

func TestClientLoadsPolicyFiles(t *testing.T) {
	dir := t.TempDir()
	rego := `# Paid queries are not allowed.
package ledgerexec.policies.noqueries

import rego.v1

deny contains "paid queries disabled" if input.kind == "query"
`
	if err := os.WriteFile(filepath.Join(dir, "noqueries.rego"), []byte(rego), 0o600); err != nil {
		t.Fatal(err)
	}

	env := newTestEnv(t, 1)
	env.cfg.Policy = config.PolicyConfig{Enabled: true, Paths: []string{dir}}
	c := env.newClient(t)
	ctx := testCtx(t)

	if _, err := c.GetAccountBalance(ctx, operatorID); err != nil {
		t.Errorf("free query blocked: %v", err)
	}
	if _, _, err := c.GetAccountInfo(ctx, operatorID, 0); !errors.Is(err, policy.ErrDenied) {
		t.Errorf("GetAccountInfo err = %v, want ErrDenied", err)
	}
	if got := env.ledger.Balance(operatorID); got != funded {
		t.Errorf("operator charged %d for a denied query", funded-got)
	}
}
