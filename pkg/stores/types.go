package stores

import (
	"context"
	"time"

	"github.com/ledgerexec/ledgerexec/pkg/engine"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
)

// Execution is the stored summary of one execute call.
type Execution struct {
	ID            string      `json:"id"`
	Kind          string      `json:"kind"` // query, cost, transaction
	Method        string      `json:"method"`
	TransactionID string      `json:"transaction_id,omitempty"`
	Cost          uint64      `json:"cost"`
	Outcome       string      `json:"outcome"` // success or an error class
	Status        hapi.Status `json:"status"`
	Error         *string     `json:"error,omitempty"`
	AttemptCount  int         `json:"attempt_count"`
	StartedAt     time.Time   `json:"started_at"`
	CompletedAt   time.Time   `json:"completed_at"`
	Attempts      []Attempt   `json:"attempts,omitempty"`
}

// Duration returns how long the execute call ran.
func (e *Execution) Duration() time.Duration {
	return e.CompletedAt.Sub(e.StartedAt)
}

// Attempt is one stored round trip.
type Attempt struct {
	Number   int           `json:"number"`
	Kind     string        `json:"kind"`
	Node     string        `json:"node"`
	Outcome  string        `json:"outcome"`
	Status   hapi.Status   `json:"status"`
	Error    *string       `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ListFilter narrows ListExecutions. Empty fields match everything.
type ListFilter struct {
	Kind    string
	Outcome string
	Limit   int
	Offset  int
}

// Store defines the interface for execution history persistence.
type Store interface {
	engine.Recorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, filter ListFilter) ([]*Execution, error)
	FindByTransactionID(ctx context.Context, txID string) ([]*Execution, error)
	DeleteExecutionsBefore(ctx context.Context, before time.Time) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
