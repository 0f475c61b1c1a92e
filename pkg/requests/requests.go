// Package requests builds the crypto service requests understood by nodes
// and decodes their answers.
package requests

import (
	"errors"
	"fmt"

	"github.com/ledgerexec/ledgerexec/pkg/engine"
	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
)

var (
	MethodAccountBalance = engine.Method{Service: hapi.CryptoService, Name: hapi.MethodGetAccountBalance}
	MethodAccountInfo    = engine.Method{Service: hapi.CryptoService, Name: hapi.MethodGetAccountInfo}
	MethodCryptoTransfer = engine.Method{Service: hapi.CryptoService, Name: hapi.MethodCryptoTransfer}
)

// ErrInvalidTransfer is returned when a transfer list cannot balance.
var ErrInvalidTransfer = errors.New("invalid transfer")

// AccountBalanceQuery returns a builder for the free balance query.
func AccountBalanceQuery(account entity.ID) *engine.QueryBuilder {
	q := hapi.AccountQuery{Account: account}
	return engine.NewQuery(MethodAccountBalance, q.Marshal())
}

// AccountInfoQuery returns a builder for the paid account info query.
func AccountInfoQuery(account entity.ID) *engine.QueryBuilder {
	q := hapi.AccountQuery{Account: account}
	return engine.NewQuery(MethodAccountInfo, q.Marshal()).RequirePayment()
}

// ParseAccountBalance decodes the payload of a balance query response.
func ParseAccountBalance(resp *engine.QueryResponse) (hapi.AccountBalance, error) {
	b, err := hapi.UnmarshalAccountBalance(resp.Payload)
	if err != nil {
		return hapi.AccountBalance{}, fmt.Errorf("decode balance from %s: %w", resp.NodeID, err)
	}
	return b, nil
}

// ParseAccountInfo decodes the payload of an info query response.
func ParseAccountInfo(resp *engine.QueryResponse) (hapi.AccountInfo, error) {
	info, err := hapi.UnmarshalAccountInfo(resp.Payload)
	if err != nil {
		return hapi.AccountInfo{}, fmt.Errorf("decode account info from %s: %w", resp.NodeID, err)
	}
	return info, nil
}

// TransferTransaction collects the legs of a crypto transfer.
type TransferTransaction struct {
	legs   map[entity.ID]int64
	order  []entity.ID
	memo   string
	maxFee uint64
}

// NewTransferTransaction starts an empty transfer.
func NewTransferTransaction() *TransferTransaction {
	return &TransferTransaction{legs: make(map[entity.ID]int64)}
}

// AddTransfer adds amount to account's leg. Legs for the same account are
// merged. Negative amounts debit.
func (t *TransferTransaction) AddTransfer(account entity.ID, amount int64) *TransferTransaction {
	if _, ok := t.legs[account]; !ok {
		t.order = append(t.order, account)
	}
	t.legs[account] += amount
	return t
}

func (t *TransferTransaction) SetMemo(memo string) *TransferTransaction {
	t.memo = memo
	return t
}

func (t *TransferTransaction) SetMaxTransactionFee(fee uint64) *TransferTransaction {
	t.maxFee = fee
	return t
}

// Build checks that the legs balance and returns the transaction builder.
// Legs that net to zero are dropped.
func (t *TransferTransaction) Build() (*engine.TransactionBuilder, error) {
	b := engine.NewTransaction(MethodCryptoTransfer).SetMemo(t.memo)
	if t.maxFee > 0 {
		b.SetMaxTransactionFee(t.maxFee)
	}

	var sum int64
	legs := 0
	for _, account := range t.order {
		amount := t.legs[account]
		if amount == 0 {
			continue
		}
		if account.Kind != entity.KindAccount {
			return nil, fmt.Errorf("%w: %s is not an account", ErrInvalidTransfer, account)
		}
		sum += amount
		legs++
		b.AddTransfer(account, amount)
	}
	if legs == 0 {
		return nil, fmt.Errorf("%w: no transfers", ErrInvalidTransfer)
	}
	if sum != 0 {
		return nil, fmt.Errorf("%w: transfers sum to %d", ErrInvalidTransfer, sum)
	}
	return b, nil
}

// Transfer is the common two-leg case: move amount from one account to
// another.
func Transfer(from, to entity.ID, amount int64) (*engine.TransactionBuilder, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidTransfer, amount)
	}
	if from == to {
		return nil, fmt.Errorf("%w: sender and receiver are both %s", ErrInvalidTransfer, from)
	}
	return NewTransferTransaction().
		AddTransfer(from, -amount).
		AddTransfer(to, amount).
		Build()
}
