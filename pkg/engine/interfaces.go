package engine

import (
	"context"
	"time"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
	"github.com/ledgerexec/ledgerexec/pkg/keys"
)

// Method names one RPC on a node service.
type Method struct {
	Service string
	Name    string
}

// FullName returns the gRPC form, "/service/method".
func (m Method) FullName() string {
	return "/" + m.Service + "/" + m.Name
}

func (m Method) String() string {
	return m.Name
}

// Transport delivers encoded requests to nodes.
type Transport interface {
	// Send delivers request to node and returns the encoded response. The
	// per-attempt timeout is carried by ctx. Any error means no response was
	// received.
	Send(ctx context.Context, node entity.ID, method Method, request []byte) ([]byte, error)
}

// Signer signs payment instruments and transaction bodies.
type Signer interface {
	// PublicKey identifies the key in the signature map.
	PublicKey() keys.PublicKey

	// Sign returns the signature over message.
	Sign(message []byte) ([]byte, error)
}

// Operator is the account that pays for requests and the key that signs for it.
type Operator struct {
	AccountID entity.ID
	Signer    Signer
}

// NodeSource is the client's node list as seen by the engine.
type NodeSource interface {
	// NextNodeID returns the next node in the shared round-robin order.
	NextNodeID() entity.ID

	// NextNodeIDs returns count consecutive distinct nodes from the same order.
	NextNodeIDs(count int) []entity.ID

	// SuperMajority returns N, the number of nodes a paid request is planned for.
	SuperMajority() int
}

// Authorization describes a paid request before anything is signed for it.
type Authorization struct {
	// Kind is "query" or "transaction".
	Kind   string
	Method string

	// Payer is the account charged.
	Payer entity.ID

	// Amount is the query payment. Zero for transactions.
	Amount uint64

	// MaxFee is the transaction fee ceiling. Zero for queries.
	MaxFee    uint64
	Memo      string
	Transfers []hapi.AccountAmount
}

// Authorizer approves or rejects paid requests. It runs once per request,
// before the first execution plans its payments.
type Authorizer interface {
	Authorize(ctx context.Context, req Authorization) error
}

// Recorder persists a summary of every execute call.
type Recorder interface {
	RecordExecution(ctx context.Context, rec *ExecutionRecord) error
}

// ExecutionRecord summarizes one execute call.
type ExecutionRecord struct {
	// ID is unique per execute call.
	ID string

	// Kind is "query", "cost" or "transaction".
	Kind string

	// Method is the RPC method name.
	Method string

	// TransactionID is set for transactions and paid queries.
	TransactionID string

	// Cost is the payment amount for paid queries.
	Cost uint64

	// Outcome is "success" or the ErrorClass of the terminal error.
	Outcome string

	// Status is the last precheck status received.
	Status hapi.Status

	// Error is the terminal error message, empty on success.
	Error string

	StartedAt   time.Time
	CompletedAt time.Time

	// Attempts lists every round trip in order, cost probe included.
	Attempts []AttemptRecord
}

// AttemptRecord describes a single round trip.
type AttemptRecord struct {
	Number   int
	Kind     string
	Node     entity.ID
	Outcome  Outcome
	Status   hapi.Status
	Error    string
	Duration time.Duration
}
