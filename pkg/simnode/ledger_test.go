package simnode

import (
	"errors"
	"testing"
	"time"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
)

func TestLedgerApply(t *testing.T) {
	payer := entity.Account(0, 0, 1001)
	other := entity.Account(0, 0, 1002)
	node := entity.Account(0, 0, 3)
	gone := entity.Account(0, 0, 1003)

	newLedger := func(t *testing.T) *Ledger {
		t.Helper()
		l := NewLedger()
		for _, a := range []Account{
			{ID: payer, Balance: 1_000},
			{ID: other, Balance: 50},
			{ID: node},
			{ID: gone, Deleted: true},
		} {
			if err := l.CreateAccount(a); err != nil {
				t.Fatalf("CreateAccount: %v", err)
			}
		}
		return l
	}
	txID := func(acct entity.ID) hapi.TransactionID {
		return hapi.NewTransactionID(acct, time.Unix(1_700_000_000, 0))
	}

	tests := []struct {
		name string
		id   hapi.TransactionID
		fee  uint64
		legs []hapi.AccountAmount
		want hapi.Status
	}{
		{"fee only", txID(payer), 100, nil, hapi.StatusOK},
		{"transfer", txID(payer), 10, []hapi.AccountAmount{{Account: payer, Amount: -20}, {Account: other, Amount: 20}}, hapi.StatusOK},
		{"unknown payer", txID(entity.Account(0, 0, 9)), 1, nil, hapi.StatusPayerAccountNotFound},
		{"unknown leg", txID(payer), 1, []hapi.AccountAmount{{Account: entity.Account(0, 0, 9), Amount: 1}, {Account: payer, Amount: -1}}, hapi.StatusInvalidAccountID},
		{"deleted leg", txID(payer), 1, []hapi.AccountAmount{{Account: gone, Amount: 1}, {Account: payer, Amount: -1}}, hapi.StatusAccountDeleted},
		{"payer short", txID(payer), 1_001, nil, hapi.StatusInsufficientPayerBalance},
		{"account short", txID(payer), 1, []hapi.AccountAmount{{Account: other, Amount: -51}, {Account: payer, Amount: 51}}, hapi.StatusInsufficientAccountBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(t)
			before := l.Balance(payer) + l.Balance(other) + l.Balance(node)

			if got := l.apply(tt.id, node, tt.fee, tt.legs); got != tt.want {
				t.Fatalf("apply = %s, want %s", got, tt.want)
			}
			if after := l.Balance(payer) + l.Balance(other) + l.Balance(node); after != before {
				t.Errorf("total supply changed from %d to %d", before, after)
			}
			if l.Applied(tt.id) != (tt.want == hapi.StatusOK) {
				t.Errorf("Applied = %v", l.Applied(tt.id))
			}
			if tt.want == hapi.StatusOK {
				if got := l.Balance(node); got != tt.fee {
					t.Errorf("node balance = %d, want %d", got, tt.fee)
				}
				if got := l.apply(tt.id, node, tt.fee, tt.legs); got != hapi.StatusDuplicateTransaction {
					t.Errorf("second apply = %s, want DUPLICATE_TRANSACTION", got)
				}
			}
		})
	}
}

func TestLedgerCreateAccountTwice(t *testing.T) {
	l := NewLedger()
	id := entity.Account(0, 0, 7)
	if err := l.CreateAccount(Account{ID: id}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := l.CreateAccount(Account{ID: id}); !errors.Is(err, ErrAccountExists) {
		t.Errorf("err = %v, want ErrAccountExists", err)
	}
}
