package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
)

// ErrorClass represents the classification of an execution failure.
type ErrorClass string

const (
	// ErrorClassNode indicates the last attempt never got a status from a node:
	// connection refused, timeout, stream reset or an undecodable response.
	ErrorClassNode ErrorClass = "node"

	// ErrorClassBusiness indicates a node answered with a transient precheck
	// status such as BUSY.
	ErrorClassBusiness ErrorClass = "business"

	// ErrorClassFatal indicates a node answered with a precheck status that no
	// retry can fix.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassConfig indicates the request could not be sent at all:
	// missing operator, signing failure, cost above the limit.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassCancelled indicates the caller's context ended the execution.
	ErrorClassCancelled ErrorClass = "cancelled"
)

var (
	// ErrNoOperator is returned when a request needs a payer and none is configured.
	ErrNoOperator = errors.New("no operator configured")

	// ErrMissingPaymentAmount is returned when a paid query has neither an
	// explicit payment nor a probed cost.
	ErrMissingPaymentAmount = errors.New("missing payment amount")

	// ErrSigning wraps any error returned by a Signer.
	ErrSigning = errors.New("signing failed")

	// ErrMaxAttemptsExceeded is returned once the attempt budget is spent.
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")

	// ErrAlreadyFrozen is returned by Freeze when a builder was modified after
	// it had already been frozen.
	ErrAlreadyFrozen = errors.New("request already frozen")

	// ErrCostExceedsMax is returned when the probed cost is above the query's
	// maximum payment.
	ErrCostExceedsMax = errors.New("cost exceeds max query payment")

	// ErrExecutionInProgress is returned when the same request is executed
	// concurrently.
	ErrExecutionInProgress = errors.New("execution already in progress")

	// ErrPaymentTooLarge is returned for a payment amount that does not fit
	// a signed transfer.
	ErrPaymentTooLarge = errors.New("payment amount exceeds transfer range")

	// ErrNotAuthorized wraps the error of an Authorizer that rejected a request.
	ErrNotAuthorized = errors.New("request not authorized")
)

// ExecutionError is the terminal error of an execute call. It always carries
// the attempt count and the last node contacted.
type ExecutionError struct {
	// Class is the error classification.
	Class ErrorClass

	// Kind is "query", "cost" or "transaction".
	Kind string

	// Method is the RPC method being executed.
	Method string

	// Attempts is the number of round trips made, cost probe included.
	Attempts int

	// LastNode is the node contacted by the last attempt, zero if none.
	LastNode entity.ID

	// Status is the last precheck status received, meaningful for the
	// business and fatal classes.
	Status hapi.Status

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s failed after %d attempt(s)", e.Class, e.Kind, e.Method, e.Attempts)
	if !e.LastNode.IsZero() {
		fmt.Fprintf(&b, " (last_node=%s", e.LastNode)
		if e.Class == ErrorClassBusiness || e.Class == ErrorClassFatal {
			fmt.Fprintf(&b, ", status=%s", e.Status)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// PrecheckError is the cause carried by business and fatal failures.
type PrecheckError struct {
	Status hapi.Status
	Node   entity.ID
}

func (e *PrecheckError) Error() string {
	return fmt.Sprintf("node %s returned precheck status %s", e.Node, e.Status)
}

// IsRetryable reports whether err is a failure the engine would have retried
// had the budget allowed it.
func IsRetryable(err error) bool {
	var e *ExecutionError
	if errors.As(err, &e) {
		return e.Class == ErrorClassNode || e.Class == ErrorClassBusiness
	}
	return false
}

// ClassOf returns the class of an *ExecutionError anywhere in err's chain.
func ClassOf(err error) (ErrorClass, bool) {
	var e *ExecutionError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// StatusOf returns the precheck status that ended an execution, if one was
// received.
func StatusOf(err error) (hapi.Status, bool) {
	var p *PrecheckError
	if errors.As(err, &p) {
		return p.Status, true
	}
	return 0, false
}
