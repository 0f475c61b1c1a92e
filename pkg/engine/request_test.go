package engine

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
)

func TestQueryFreezeAfterMutation(t *testing.T) {
	b := NewQuery(testQueryMethod, []byte("x")).RequirePayment()
	q, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	b.SetMaxQueryPayment(5)
	if _, err := b.Freeze(); !errors.Is(err, ErrAlreadyFrozen) {
		t.Errorf("Freeze after mutation err = %v, want ErrAlreadyFrozen", err)
	}
	if q.MaxQueryPayment() != 0 {
		t.Error("mutation after Freeze leaked into the frozen query")
	}
}

func TestQueryFreezeTwiceWithoutMutation(t *testing.T) {
	b := NewQuery(testQueryMethod, nil)
	if _, err := b.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if _, err := b.Freeze(); err != nil {
		t.Errorf("second Freeze: %v", err)
	}
}

func TestQueryPayloadIsCopied(t *testing.T) {
	payload := []byte("abc")
	q, err := NewQuery(testQueryMethod, payload).Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	payload[0] = 'z'
	got := q.Payload()
	got[1] = 'z'
	if diff := cmp.Diff([]byte("abc"), q.Payload()); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestTransactionFreezeAfterMutation(t *testing.T) {
	b := NewTransaction(testTxMethod).SetMemo("a")
	if _, err := b.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	b.AddTransfer(testOperatorID, -1)
	if _, err := b.Freeze(); !errors.Is(err, ErrAlreadyFrozen) {
		t.Errorf("Freeze after mutation err = %v, want ErrAlreadyFrozen", err)
	}
}

func TestFreezeValidation(t *testing.T) {
	tests := []struct {
		name  string
		build func() error
	}{
		{"query without method", func() error {
			_, err := NewQuery(Method{}, nil).Freeze()
			return err
		}},
		{"query negative attempts", func() error {
			_, err := NewQuery(testQueryMethod, nil).SetMaxAttempts(-1).Freeze()
			return err
		}},
		{"query pinned file id", func() error {
			_, err := NewQuery(testQueryMethod, nil).SetNodeIDs(entity.File(0, 0, 3)).Freeze()
			return err
		}},
		{"query duplicate node", func() error {
			n := entity.Account(0, 0, 3)
			_, err := NewQuery(testQueryMethod, nil).SetNodeIDs(n, n).Freeze()
			return err
		}},
		{"transaction memo too long", func() error {
			_, err := NewTransaction(testTxMethod).SetMemo(strings.Repeat("m", maxMemoBytes+1)).Freeze()
			return err
		}},
		{"transaction negative duration", func() error {
			_, err := NewTransaction(testTxMethod).SetValidDuration(-1).Freeze()
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.build(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestQueryPaymentMustFitTransfer(t *testing.T) {
	q, err := NewQuery(testQueryMethod, nil).RequirePayment().SetQueryPayment(math.MaxInt64).Freeze()
	if err != nil {
		t.Fatalf("Freeze at MaxInt64: %v", err)
	}
	if amount, ok := q.ExplicitPayment(); !ok || amount != math.MaxInt64 {
		t.Errorf("ExplicitPayment() = %d, %v", amount, ok)
	}

	_, err = NewQuery(testQueryMethod, nil).RequirePayment().SetQueryPayment(math.MaxInt64 + 1).Freeze()
	if !errors.Is(err, ErrPaymentTooLarge) {
		t.Errorf("Freeze above MaxInt64 err = %v, want ErrPaymentTooLarge", err)
	}
}

func TestNodeSelectorAdvanceWraps(t *testing.T) {
	a, b, c := entity.Account(0, 0, 3), entity.Account(0, 0, 4), entity.Account(0, 0, 5)
	sel := NewNodeSelector(nil)

	st := &execState{pinned: []entity.ID{c, a}}
	var got []entity.ID
	for range 3 {
		got = append(got, sel.Next(st))
		sel.Advance(st)
	}
	if diff := cmp.Diff([]entity.ID{c, a, c}, got); diff != "" {
		t.Errorf("pinned order mismatch (-want +got):\n%s", diff)
	}

	st.slots = []slot{{node: b}, {node: a}}
	got = got[:0]
	for range 5 {
		got = append(got, sel.Next(st))
		sel.Advance(st)
	}
	if diff := cmp.Diff([]entity.ID{b, a, b, a, b}, got); diff != "" {
		t.Errorf("slot order mismatch (-want +got):\n%s", diff)
	}
}
