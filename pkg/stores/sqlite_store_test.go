package stores

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ledgerexec/ledgerexec/pkg/engine"
	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRecord(id string, kind, outcome string, started time.Time) *engine.ExecutionRecord {
	rec := &engine.ExecutionRecord{
		ID:          id,
		Kind:        kind,
		Method:      "getAccountInfo",
		Outcome:     outcome,
		Status:      hapi.StatusOK,
		StartedAt:   started,
		CompletedAt: started.Add(150 * time.Millisecond),
		Attempts: []engine.AttemptRecord{
			{
				Number:   1,
				Kind:     "cost",
				Node:     entity.Account(0, 0, 3),
				Outcome:  engine.OutcomeRetryableBusiness,
				Status:   hapi.StatusBusy,
				Error:    "node 0.0.3 returned BUSY",
				Duration: 20 * time.Millisecond,
			},
			{
				Number:   2,
				Kind:     "cost",
				Node:     entity.Account(0, 0, 4),
				Outcome:  engine.OutcomeSuccess,
				Status:   hapi.StatusOK,
				Duration: 10 * time.Millisecond,
			},
		},
	}
	if outcome != "success" {
		rec.Error = "execution failed"
		rec.Status = hapi.StatusInvalidSignature
	}
	return rec
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate should be a no-op: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestRecordAndGetExecution(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord("exec-1", "query", "success", baseTime)
	rec.TransactionID = "0.0.1001@1772366400.000000000"
	rec.Cost = 100_000
	if err := store.RecordExecution(ctx, rec); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}

	busyErr := "node 0.0.3 returned BUSY"
	want := &Execution{
		ID:            "exec-1",
		Kind:          "query",
		Method:        "getAccountInfo",
		TransactionID: "0.0.1001@1772366400.000000000",
		Cost:          100_000,
		Outcome:       "success",
		Status:        hapi.StatusOK,
		AttemptCount:  2,
		StartedAt:     baseTime,
		CompletedAt:   baseTime.Add(150 * time.Millisecond),
		Attempts: []Attempt{
			{Number: 1, Kind: "cost", Node: "0.0.3", Outcome: "retryable_business", Status: hapi.StatusBusy, Error: &busyErr, Duration: 20 * time.Millisecond},
			{Number: 2, Kind: "cost", Node: "0.0.4", Outcome: "success", Status: hapi.StatusOK, Duration: 10 * time.Millisecond},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetExecution mismatch (-want +got):\n%s", diff)
	}
	if got.Duration() != 150*time.Millisecond {
		t.Errorf("Duration() = %s, want 150ms", got.Duration())
	}

	if err := store.RecordExecution(ctx, rec); err == nil {
		t.Error("expected error recording the same execution twice")
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetExecution(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListExecutions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	records := []*engine.ExecutionRecord{
		testRecord("a", "query", "success", baseTime),
		testRecord("b", "transaction", "fatal", baseTime.Add(time.Minute)),
		testRecord("c", "transaction", "success", baseTime.Add(2*time.Minute)),
		testRecord("d", "cost", "node", baseTime.Add(3*time.Minute)),
	}
	for _, rec := range records {
		if err := store.RecordExecution(ctx, rec); err != nil {
			t.Fatalf("RecordExecution(%s): %v", rec.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{"all newest first", ListFilter{}, []string{"d", "c", "b", "a"}},
		{"by kind", ListFilter{Kind: "transaction"}, []string{"c", "b"}},
		{"by outcome", ListFilter{Outcome: "success"}, []string{"c", "a"}},
		{"kind and outcome", ListFilter{Kind: "transaction", Outcome: "fatal"}, []string{"b"}},
		{"paged", ListFilter{Limit: 2, Offset: 1}, []string{"c", "b"}},
		{"no match", ListFilter{Kind: "nothing"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListExecutions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListExecutions: %v", err)
			}
			ids := []string{}
			for _, e := range got {
				ids = append(ids, e.ID)
				if e.Attempts != nil {
					t.Errorf("%s: attempts loaded by list", e.ID)
				}
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFindByTransactionID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		rec := testRecord(fmt.Sprintf("exec-%d", i), "transaction", "success", baseTime.Add(time.Duration(i)*time.Second))
		rec.TransactionID = "0.0.1001@1.000000000"
		if i == 2 {
			rec.TransactionID = "0.0.1001@2.000000000"
		}
		if err := store.RecordExecution(ctx, rec); err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}

	got, err := store.FindByTransactionID(ctx, "0.0.1001@1.000000000")
	if err != nil {
		t.Fatalf("FindByTransactionID: %v", err)
	}
	if len(got) != 2 || got[0].ID != "exec-0" || got[1].ID != "exec-1" {
		t.Errorf("FindByTransactionID returned %d executions", len(got))
	}
}

func TestDeleteExecutionsBefore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"old", "new"} {
		if err := store.RecordExecution(ctx, testRecord(id, "query", "success", baseTime.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}

	n, err := store.DeleteExecutionsBefore(ctx, baseTime.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("DeleteExecutionsBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d executions, want 1", n)
	}
	if _, err := store.GetExecution(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old execution still present: %v", err)
	}

	var orphans int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE execution_id = 'old'`).Scan(&orphans); err != nil {
		t.Fatalf("count attempts: %v", err)
	}
	if orphans != 0 {
		t.Errorf("%d attempts left for deleted execution", orphans)
	}
}
