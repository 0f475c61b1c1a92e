package engine

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
)

// maxMemoBytes is the longest memo a node accepts.
const maxMemoBytes = 100

// slot pairs a node with the signed instrument prepared for it: a query
// payment or a per-node transaction body.
type slot struct {
	node       entity.ID
	instrument []byte
}

// execState is the engine-managed part of a frozen request. It is only
// touched by the goroutine that holds running.
type execState struct {
	running atomic.Bool

	// pinned holds caller-chosen nodes; pinnedCursor rotates through them
	// while no slots exist.
	pinned       []entity.ID
	pinnedCursor int

	// slots and cursor are parallel by construction: once slots is
	// non-empty, cursor is always a valid index into it.
	slots  []slot
	cursor int

	txID   hapi.TransactionID
	amount uint64
}

func (s *execState) acquire() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrExecutionInProgress
	}
	return nil
}

func (s *execState) release() {
	s.running.Store(false)
}

func (s *execState) currentInstrument() []byte {
	if len(s.slots) == 0 {
		return nil
	}
	return s.slots[s.cursor].instrument
}

func (s *execState) slotNodes() []entity.ID {
	out := make([]entity.ID, len(s.slots))
	for i, sl := range s.slots {
		out[i] = sl.node
	}
	return out
}

func validateNodeIDs(ids []entity.ID) error {
	seen := make(map[entity.ID]struct{}, len(ids))
	for _, id := range ids {
		if id.Kind != entity.KindAccount {
			return fmt.Errorf("node id %s must be an account id", id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate node id %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// QueryBuilder collects the parameters of a query until Freeze.
type QueryBuilder struct {
	method          Method
	payload         []byte
	paymentRequired bool
	payment         uint64
	hasPayment      bool
	maxPayment      uint64
	nodeIDs         []entity.ID
	maxAttempts     int

	frozen bool
	err    error
}

// NewQuery starts a free query. Call RequirePayment for paid ones.
func NewQuery(method Method, payload []byte) *QueryBuilder {
	return &QueryBuilder{method: method, payload: slices.Clone(payload)}
}

func (b *QueryBuilder) mutate(fn func()) *QueryBuilder {
	if b.frozen {
		b.err = ErrAlreadyFrozen
		return b
	}
	fn()
	return b
}

// RequirePayment marks the query as paid.
func (b *QueryBuilder) RequirePayment() *QueryBuilder {
	return b.mutate(func() { b.paymentRequired = true })
}

// SetQueryPayment fixes the payment amount and skips the cost probe.
// Amounts above math.MaxInt64 make Freeze fail with ErrPaymentTooLarge.
func (b *QueryBuilder) SetQueryPayment(amount uint64) *QueryBuilder {
	return b.mutate(func() {
		b.payment = amount
		b.hasPayment = true
	})
}

// SetMaxQueryPayment rejects probed costs above amount.
func (b *QueryBuilder) SetMaxQueryPayment(amount uint64) *QueryBuilder {
	return b.mutate(func() { b.maxPayment = amount })
}

// SetNodeIDs pins the nodes the query is sent to and paid for.
func (b *QueryBuilder) SetNodeIDs(ids ...entity.ID) *QueryBuilder {
	return b.mutate(func() { b.nodeIDs = slices.Clone(ids) })
}

// SetMaxAttempts overrides the engine default for this query.
func (b *QueryBuilder) SetMaxAttempts(n int) *QueryBuilder {
	return b.mutate(func() { b.maxAttempts = n })
}

// Freeze validates the builder and returns the immutable query. Any setter
// called after Freeze makes the next Freeze fail with ErrAlreadyFrozen.
func (b *QueryBuilder) Freeze() (*Query, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.method.Name == "" {
		return nil, errors.New("query method is required")
	}
	if b.maxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must not be negative, got: %d", b.maxAttempts)
	}
	if b.hasPayment && b.payment > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d", ErrPaymentTooLarge, b.payment)
	}
	if err := validateNodeIDs(b.nodeIDs); err != nil {
		return nil, err
	}
	b.frozen = true

	q := &Query{
		method:          b.method,
		payload:         slices.Clone(b.payload),
		paymentRequired: b.paymentRequired,
		payment:         b.payment,
		hasPayment:      b.hasPayment,
		maxPayment:      b.maxPayment,
		maxAttempts:     b.maxAttempts,
	}
	q.st.pinned = slices.Clone(b.nodeIDs)
	return q, nil
}

// Query is a frozen query. Its business fields never change; the engine
// owns its payment state.
type Query struct {
	method          Method
	payload         []byte
	paymentRequired bool
	payment         uint64
	hasPayment      bool
	maxPayment      uint64
	maxAttempts     int

	st execState
}

// Method returns the service method the query calls.
func (q *Query) Method() Method { return q.method }

// Payload returns a copy of the method-specific request body.
func (q *Query) Payload() []byte { return slices.Clone(q.payload) }

// PaymentRequired reports whether the query carries a payment.
func (q *Query) PaymentRequired() bool { return q.paymentRequired }

// MaxQueryPayment returns the per-query cost limit, zero when unset.
func (q *Query) MaxQueryPayment() uint64 {
	return q.maxPayment
}

// ExplicitPayment returns the amount set with SetQueryPayment.
func (q *Query) ExplicitPayment() (uint64, bool) {
	return q.payment, q.hasPayment
}

// NodeIDs returns the pinned nodes, or nil when the query uses round-robin.
func (q *Query) NodeIDs() []entity.ID {
	return slices.Clone(q.st.pinned)
}

// PaymentNodeIDs returns the nodes payment instruments were built for, in
// cursor order. Empty until the first paid execution.
func (q *Query) PaymentNodeIDs() []entity.ID {
	return q.st.slotNodes()
}

// PaymentTransactionID is shared by every payment instrument of the query.
func (q *Query) PaymentTransactionID() hapi.TransactionID {
	return q.st.txID
}

// ResetPayment discards built payment instruments so the next execution
// plans and signs them again.
func (q *Query) ResetPayment() error {
	if err := q.st.acquire(); err != nil {
		return err
	}
	defer q.st.release()
	q.st.slots = nil
	q.st.cursor = 0
	q.st.txID = hapi.TransactionID{}
	q.st.amount = 0
	return nil
}

// TransactionBuilder collects the parameters of a transaction until Freeze.
type TransactionBuilder struct {
	method        Method
	txID          hapi.TransactionID
	nodeIDs       []entity.ID
	maxFee        uint64
	validDuration time.Duration
	memo          string
	transfers     []hapi.AccountAmount
	maxAttempts   int

	frozen bool
	err    error
}

// NewTransaction starts a transaction for the given method.
func NewTransaction(method Method) *TransactionBuilder {
	return &TransactionBuilder{method: method}
}

func (b *TransactionBuilder) mutate(fn func()) *TransactionBuilder {
	if b.frozen {
		b.err = ErrAlreadyFrozen
		return b
	}
	fn()
	return b
}

// SetTransactionID uses id instead of one generated from the operator.
func (b *TransactionBuilder) SetTransactionID(id hapi.TransactionID) *TransactionBuilder {
	return b.mutate(func() { b.txID = id })
}

// SetNodeIDs pins the nodes the transaction is prepared for.
func (b *TransactionBuilder) SetNodeIDs(ids ...entity.ID) *TransactionBuilder {
	return b.mutate(func() { b.nodeIDs = slices.Clone(ids) })
}

// SetMaxTransactionFee caps the fee the operator pays for the transaction.
func (b *TransactionBuilder) SetMaxTransactionFee(fee uint64) *TransactionBuilder {
	return b.mutate(func() { b.maxFee = fee })
}

// SetValidDuration sets how long after its start the transaction may be
// accepted.
func (b *TransactionBuilder) SetValidDuration(d time.Duration) *TransactionBuilder {
	return b.mutate(func() { b.validDuration = d })
}

// SetMemo attaches a memo of at most 100 bytes.
func (b *TransactionBuilder) SetMemo(memo string) *TransactionBuilder {
	return b.mutate(func() { b.memo = memo })
}

// AddTransfer appends one leg to the transfer list. Negative amounts debit.
func (b *TransactionBuilder) AddTransfer(account entity.ID, amount int64) *TransactionBuilder {
	return b.mutate(func() {
		b.transfers = append(b.transfers, hapi.AccountAmount{Account: account, Amount: amount})
	})
}

// SetMaxAttempts overrides the engine default for this transaction.
func (b *TransactionBuilder) SetMaxAttempts(n int) *TransactionBuilder {
	return b.mutate(func() { b.maxAttempts = n })
}

// Freeze validates the builder and returns the immutable transaction.
func (b *TransactionBuilder) Freeze() (*Transaction, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.method.Name == "" {
		return nil, errors.New("transaction method is required")
	}
	if len(b.memo) > maxMemoBytes {
		return nil, fmt.Errorf("memo is %d bytes, limit is %d", len(b.memo), maxMemoBytes)
	}
	if b.validDuration < 0 {
		return nil, fmt.Errorf("valid duration must not be negative, got: %s", b.validDuration)
	}
	if b.maxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must not be negative, got: %d", b.maxAttempts)
	}
	if err := validateNodeIDs(b.nodeIDs); err != nil {
		return nil, err
	}
	b.frozen = true

	tx := &Transaction{
		method:        b.method,
		txID:          b.txID,
		maxFee:        b.maxFee,
		validDuration: b.validDuration,
		memo:          b.memo,
		transfers:     slices.Clone(b.transfers),
		maxAttempts:   b.maxAttempts,
	}
	tx.st.pinned = slices.Clone(b.nodeIDs)
	return tx, nil
}

// Transaction is a frozen transaction. The engine builds one signed body
// per node on first execution; all of them share one TransactionID.
type Transaction struct {
	method        Method
	txID          hapi.TransactionID
	maxFee        uint64
	validDuration time.Duration
	memo          string
	transfers     []hapi.AccountAmount
	maxAttempts   int

	signers []Signer
	st      execState
}

// Method returns the service method the transaction calls.
func (tx *Transaction) Method() Method { return tx.method }

// Memo returns the memo set on the builder.
func (tx *Transaction) Memo() string { return tx.memo }

// Transfers returns a copy of the transfer list.
func (tx *Transaction) Transfers() []hapi.AccountAmount {
	return slices.Clone(tx.transfers)
}

// TransactionID returns the id the bodies were signed with, or the id set
// on the builder before the first execution.
func (tx *Transaction) TransactionID() hapi.TransactionID {
	if !tx.st.txID.IsZero() {
		return tx.st.txID
	}
	return tx.txID
}

// NodeIDs returns the nodes bodies were built for, or the pinned nodes
// before the first execution.
func (tx *Transaction) NodeIDs() []entity.ID {
	if len(tx.st.slots) > 0 {
		return tx.st.slotNodes()
	}
	return slices.Clone(tx.st.pinned)
}

// Sign adds a signature from signer to every per-node body. Bodies built
// later are signed as well.
func (tx *Transaction) Sign(signer Signer) error {
	if err := tx.st.acquire(); err != nil {
		return err
	}
	defer tx.st.release()

	signed := make([]slot, len(tx.st.slots))
	for i, sl := range tx.st.slots {
		st, err := hapi.UnmarshalSignedTransaction(sl.instrument)
		if err != nil {
			return err
		}
		pair, err := signaturePair(signer, st.BodyBytes)
		if err != nil {
			return err
		}
		st.Signatures = append(st.Signatures, pair)
		signed[i] = slot{node: sl.node, instrument: st.Marshal()}
	}
	if len(signed) > 0 {
		tx.st.slots = signed
	}
	tx.signers = append(tx.signers, signer)
	return nil
}

// body returns the business template for node.
func (tx *Transaction) body(id hapi.TransactionID, node entity.ID, cfg Config) hapi.TransactionBody {
	fee := tx.maxFee
	if fee == 0 {
		fee = cfg.MaxTransactionFee
	}
	d := tx.validDuration
	if d == 0 {
		d = cfg.ValidDuration
	}
	return hapi.TransactionBody{
		TransactionID: id,
		NodeAccountID: node,
		MaxFee:        fee,
		ValidDuration: d,
		Memo:          tx.memo,
		Transfers:     slices.Clone(tx.transfers),
	}
}
