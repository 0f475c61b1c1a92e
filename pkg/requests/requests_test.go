package requests

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ledgerexec/ledgerexec/pkg/engine"
	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
)

func TestAccountQueries(t *testing.T) {
	acct := entity.Account(0, 0, 1234)

	balance, err := AccountBalanceQuery(acct).Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if balance.PaymentRequired() {
		t.Error("balance query must be free")
	}
	if balance.Method() != MethodAccountBalance {
		t.Errorf("Method() = %v", balance.Method())
	}

	info, err := AccountInfoQuery(acct).Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if !info.PaymentRequired() {
		t.Error("info query must be paid")
	}
	got, err := hapi.UnmarshalAccountQuery(info.Payload())
	if err != nil {
		t.Fatalf("UnmarshalAccountQuery: %v", err)
	}
	if got.Account != acct {
		t.Errorf("payload account = %s, want %s", got.Account, acct)
	}
}

func TestParseAccountInfo(t *testing.T) {
	want := hapi.AccountInfo{
		Account:   entity.Account(0, 0, 98),
		Balance:   5000,
		Memo:      "treasury",
		Key:       []byte{1, 2, 3},
		KeyScheme: hapi.SchemeEd25519,
	}
	resp := &engine.QueryResponse{Payload: want.Marshal()}
	got, err := ParseAccountInfo(resp)
	if err != nil {
		t.Fatalf("ParseAccountInfo: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("info mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseAccountBalance(&engine.QueryResponse{Payload: []byte{0x0a, 0x05}}); !errors.Is(err, hapi.ErrBadEncoding) {
		t.Errorf("err = %v, want ErrBadEncoding", err)
	}
}

func TestTransferBuild(t *testing.T) {
	a, b, c := entity.Account(0, 0, 2), entity.Account(0, 0, 3), entity.Account(0, 0, 4)

	builder, err := NewTransferTransaction().
		AddTransfer(a, -30).
		AddTransfer(b, 10).
		AddTransfer(c, 0).
		AddTransfer(b, 20).
		SetMemo("split").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tx, err := builder.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	want := []hapi.AccountAmount{{Account: a, Amount: -30}, {Account: b, Amount: 30}}
	if diff := cmp.Diff(want, tx.Transfers()); diff != "" {
		t.Errorf("transfers mismatch (-want +got):\n%s", diff)
	}
	if tx.Memo() != "split" {
		t.Errorf("Memo() = %q", tx.Memo())
	}
}

func TestTransferValidation(t *testing.T) {
	a, b := entity.Account(0, 0, 2), entity.Account(0, 0, 3)
	tests := []struct {
		name  string
		build func() (*engine.TransactionBuilder, error)
	}{
		{"unbalanced", func() (*engine.TransactionBuilder, error) {
			return NewTransferTransaction().AddTransfer(a, -5).AddTransfer(b, 4).Build()
		}},
		{"empty", func() (*engine.TransactionBuilder, error) {
			return NewTransferTransaction().Build()
		}},
		{"nets to zero", func() (*engine.TransactionBuilder, error) {
			return NewTransferTransaction().AddTransfer(a, 5).AddTransfer(a, -5).Build()
		}},
		{"non-positive amount", func() (*engine.TransactionBuilder, error) {
			return Transfer(a, b, 0)
		}},
		{"self transfer", func() (*engine.TransactionBuilder, error) {
			return Transfer(a, a, 1)
		}},
		{"token leg", func() (*engine.TransactionBuilder, error) {
			return NewTransferTransaction().AddTransfer(entity.Token(0, 0, 9), -1).AddTransfer(b, 1).Build()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.build(); !errors.Is(err, ErrInvalidTransfer) {
				t.Errorf("err = %v, want ErrInvalidTransfer", err)
			}
		})
	}
}
