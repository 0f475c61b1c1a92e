package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
)

func freezeTransfers(t *testing.T, n int) []*Transaction {
	t.Helper()
	txs := make([]*Transaction, n)
	for i := range txs {
		tx, err := NewTransaction(testTxMethod).
			AddTransfer(testOperatorID, -int64(i+1)).
			AddTransfer(entity.Account(0, 0, 2000), int64(i+1)).
			Freeze()
		if err != nil {
			t.Fatalf("Freeze: %v", err)
		}
		txs[i] = tx
	}
	return txs
}

func TestExecuteTransactionsBoundsParallelism(t *testing.T) {
	var inFlight, peak atomic.Int32
	tr := &scriptedTransport{handle: func(context.Context, int, entity.ID, []byte) ([]byte, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return txResponse(hapi.StatusOK), nil
	}}
	e := newTestEngine(t, testConfig(), 3, tr, withTestOperator(newTestSigner(t)))

	txs := freezeTransfers(t, 8)
	results := e.ExecuteTransactions(context.Background(), txs, BatchOptions{MaxParallel: 3})

	if len(results) != len(txs) {
		t.Fatalf("got %d results, want %d", len(results), len(txs))
	}
	for i, r := range results {
		if r.Index != i || r.Err != nil {
			t.Errorf("result %d = {Index: %d, Err: %v}", i, r.Index, r.Err)
			continue
		}
		if !r.Response.TransactionID.Equal(txs[i].TransactionID()) {
			t.Errorf("result %d carries %s, want %s", i, r.Response.TransactionID, txs[i].TransactionID())
		}
	}
	if p := peak.Load(); p > 3 {
		t.Errorf("peak parallelism = %d, want <= 3", p)
	}
}

func TestExecuteTransactionsFailFast(t *testing.T) {
	tr := &scriptedTransport{handle: func(context.Context, int, entity.ID, []byte) ([]byte, error) {
		return txResponse(hapi.StatusInvalidSignature), nil
	}}
	e := newTestEngine(t, testConfig(), 3, tr, withTestOperator(newTestSigner(t)))

	txs := freezeTransfers(t, 5)
	results := e.ExecuteTransactions(context.Background(), txs, BatchOptions{MaxParallel: 1, FailFast: true})

	var fatal *ExecutionError
	if !errors.As(results[0].Err, &fatal) || fatal.Class != ErrorClassFatal {
		t.Fatalf("first result err = %v, want fatal", results[0].Err)
	}
	for _, r := range results[1:] {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("result %d err = %v, want context.Canceled", r.Index, r.Err)
		}
	}
	if n := len(tr.calls()); n != 1 {
		t.Errorf("sent %d requests, want 1", n)
	}
}

func TestExecuteQueriesKeepsGoingWithoutFailFast(t *testing.T) {
	tr := &scriptedTransport{handle: func(_ context.Context, _ int, _ entity.ID, req []byte) ([]byte, error) {
		q, _, err := hapi.UnmarshalQuery(req)
		if err != nil {
			return nil, err
		}
		if string(q.Payload) == "bad" {
			return queryResponse(hapi.StatusInvalidAccountID, 0, nil), nil
		}
		return queryResponse(hapi.StatusOK, 0, q.Payload), nil
	}}
	e := newTestEngine(t, testConfig(), 2, tr)

	var qs []*Query
	for _, p := range []string{"a", "bad", "c"} {
		qs = append(qs, freezeQuery(t, NewQuery(testQueryMethod, []byte(p))))
	}
	results := e.ExecuteQueries(context.Background(), qs, BatchOptions{})

	if results[1].Err == nil {
		t.Error("expected error for the bad query")
	}
	for _, i := range []int{0, 2} {
		if results[i].Err != nil {
			t.Errorf("query %d: %v", i, results[i].Err)
		}
	}
	if got := string(results[2].Response.Payload); got != "c" {
		t.Errorf("query 2 payload = %q, want c", got)
	}
}

func TestExecuteBatchEmpty(t *testing.T) {
	e := newTestEngine(t, testConfig(), 1, &scriptedTransport{})
	if got := e.ExecuteTransactions(context.Background(), nil, BatchOptions{}); len(got) != 0 {
		t.Errorf("got %d results for an empty batch", len(got))
	}
}
