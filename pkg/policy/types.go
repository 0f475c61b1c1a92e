package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block the request.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the request.
	SeverityError Severity = "error"

	// SeverityCritical blocks the request.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity rejects a request.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a named Rego module.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	Description string `json:"description"`

	// Rego contains the module source. It must define a deny set.
	Rego string `json:"rego"`

	// Severity applies to violations that do not name their own.
	Severity Severity `json:"severity"`

	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the guard. They survive reloads.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation is one deny result.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Decision is the result of evaluating all enabled policies.
type Decision struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
	Evaluated  []string    `json:"evaluated"`
}

// Transfer is one leg of a transaction as policies see it.
type Transfer struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// Input is the document policies evaluate.
type Input struct {
	Kind      string     `json:"kind"`
	Method    string     `json:"method"`
	Payer     string     `json:"payer"`
	Amount    uint64     `json:"amount"`
	MaxFee    uint64     `json:"max_fee"`
	Memo      string     `json:"memo"`
	Transfers []Transfer `json:"transfers"`
	Timestamp time.Time  `json:"timestamp"`
}

// Limits parameterize the built-in policies. Zero disables a limit.
type Limits struct {
	// MaxTransfer caps the amount credited to any single account.
	MaxTransfer int64 `json:"max_transfer"`

	// MaxQueryPayment caps a single query payment.
	MaxQueryPayment uint64 `json:"max_query_payment"`

	// MaxFee caps the transaction fee ceiling.
	MaxFee uint64 `json:"max_fee"`

	// BlockedAccounts may not appear in any transfer.
	BlockedAccounts []string `json:"blocked_accounts"`
}

// ErrDenied is matched by every *DeniedError.
var ErrDenied = errors.New("denied by policy")

// DeniedError lists the blocking violations that rejected a request.
type DeniedError struct {
	Violations []Violation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = fmt.Sprintf("%s: %s", v.Policy, v.Message)
	}
	return fmt.Sprintf("%v: %s", ErrDenied, strings.Join(msgs, "; "))
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}
