// Package simnode is an in-memory ledger node speaking the crypto service
// protocol. Several nodes share one Ledger the way real nodes share
// consensus state.
package simnode

import (
	"errors"
	"sync"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
	"github.com/ledgerexec/ledgerexec/pkg/keys"
)

var ErrAccountExists = errors.New("simnode: account already exists")

// Account is one ledger account.
type Account struct {
	ID      entity.ID
	Balance uint64
	Key     keys.PublicKey
	Memo    string
	Deleted bool
}

// Ledger holds balances and the set of applied transaction ids.
type Ledger struct {
	mu       sync.Mutex
	accounts map[entity.ID]*Account
	applied  map[string]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[entity.ID]*Account),
		applied:  make(map[string]struct{}),
	}
}

// CreateAccount adds an account. Node accounts need no key.
func (l *Ledger) CreateAccount(acct Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[acct.ID]; ok {
		return ErrAccountExists
	}
	a := acct
	l.accounts[acct.ID] = &a
	return nil
}

// Account returns a copy of the account.
func (l *Ledger) Account(id entity.ID) (Account, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// Balance returns the account balance, zero for unknown accounts.
func (l *Ledger) Balance(id entity.ID) uint64 {
	a, _ := l.Account(id)
	return a.Balance
}

// Applied reports whether a transaction id has been applied.
func (l *Ledger) Applied(id hapi.TransactionID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.applied[id.String()]
	return ok
}

// apply moves funds for one transaction: the transfer legs plus fee from
// payer to node. It checks duplicates and balances atomically.
func (l *Ledger) apply(id hapi.TransactionID, node entity.ID, fee uint64, legs []hapi.AccountAmount) hapi.Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := id.String()
	if _, dup := l.applied[key]; dup {
		return hapi.StatusDuplicateTransaction
	}
	payer, ok := l.accounts[id.Account]
	if !ok || payer.Deleted {
		return hapi.StatusPayerAccountNotFound
	}

	delta := make(map[entity.ID]int64, len(legs)+2)
	for _, leg := range legs {
		acct, ok := l.accounts[leg.Account]
		if !ok {
			return hapi.StatusInvalidAccountID
		}
		if acct.Deleted {
			return hapi.StatusAccountDeleted
		}
		delta[leg.Account] += leg.Amount
	}
	delta[id.Account] -= int64(fee)
	delta[node] += int64(fee)

	for acct, d := range delta {
		if d >= 0 {
			continue
		}
		if l.accounts[acct].Balance < uint64(-d) {
			if acct == id.Account {
				return hapi.StatusInsufficientPayerBalance
			}
			return hapi.StatusInsufficientAccountBalance
		}
	}

	for acct, d := range delta {
		a, ok := l.accounts[acct]
		if !ok {
			a = &Account{ID: acct}
			l.accounts[acct] = a
		}
		if d < 0 {
			a.Balance -= uint64(-d)
		} else {
			a.Balance += uint64(d)
		}
	}
	l.applied[key] = struct{}{}
	return hapi.StatusOK
}
