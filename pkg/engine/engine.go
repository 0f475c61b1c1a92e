package engine

import (
	"context"
	"crypto/sha512"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
	"github.com/ledgerexec/ledgerexec/pkg/telemetry"
)

const (
	kindQuery       = "query"
	kindCost        = "cost"
	kindTransaction = "transaction"
)

// QueryResponse is the successful result of ExecuteQuery.
type QueryResponse struct {
	ExecutionID string

	// NodeID answered the query.
	NodeID entity.ID

	// Payload is the method-specific answer.
	Payload []byte

	// Cost is the amount paid, zero for free queries.
	Cost uint64

	// Attempts counts round trips, cost probe included.
	Attempts int
}

// TransactionResponse is the successful result of ExecuteTransaction. Only
// the precheck was accepted; consensus is reported separately.
type TransactionResponse struct {
	ExecutionID   string
	TransactionID hapi.TransactionID

	// NodeID accepted the transaction.
	NodeID entity.ID

	// Hash is the SHA-384 of the signed transaction the node accepted.
	Hash []byte

	Attempts int
}

// attemptSpec tells the attempt loop how to talk to a node for one phase of
// an execution.
type attemptSpec struct {
	kind   string
	method Method
	st     *execState
	build  func(node entity.ID) []byte
	parse  func(raw []byte) (attemptResult, error)
}

// Engine executes queries and transactions against the node network.
// An Engine is safe for concurrent use; a single Query or Transaction is not
// executed by two goroutines at once.
type Engine struct {
	cfg       Config
	nodes     NodeSource
	transport Transport
	operator  *Operator
	recorder  Recorder
	authz     Authorizer
	now       func() time.Time

	selector NodeSelector
	probe    CostProbe
	planner  *PaymentPlanner

	tel    *telemetry.Telemetry
	logger *telemetry.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithOperator sets the account that pays for and signs requests.
func WithOperator(op Operator) Option {
	return func(e *Engine) {
		e.operator = &op
	}
}

// WithTelemetry routes logs, spans and metrics through tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(e *Engine) {
		if tel != nil {
			e.tel = tel
		}
	}
}

// WithRecorder persists a summary of every execute call. Recorder failures
// are logged and never fail the execution.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithAuthorizer requires a to approve every paid request before it is signed.
func WithAuthorizer(a Authorizer) Option {
	return func(e *Engine) {
		e.authz = a
	}
}

// WithClock overrides the clock used for transaction ids and records.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine sending through transport to nodes drawn from nodes.
func New(cfg Config, nodes NodeSource, transport Transport, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if nodes == nil {
		return nil, errors.New("node source is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}

	e := &Engine{
		cfg:       cfg,
		nodes:     nodes,
		transport: transport,
		now:       time.Now,
		tel:       telemetry.NewNopTelemetry(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.tel.Logger.NewComponentLogger("engine")
	e.selector = NewNodeSelector(nodes)
	e.probe = NewCostProbe(transport)
	e.planner = NewPaymentPlanner(nodes, e.operator, cfg, e.now)
	return e, nil
}

// Config returns the engine's execution defaults.
func (e *Engine) Config() Config {
	return e.cfg
}

// Operator returns the configured operator, if any.
func (e *Engine) Operator() (Operator, bool) {
	if e.operator == nil {
		return Operator{}, false
	}
	return *e.operator, true
}

// canPay reports whether an operator able to sign payments is configured.
func (e *Engine) canPay() bool {
	return e.operator != nil && e.operator.Signer != nil && !e.operator.AccountID.IsZero()
}

// ExecuteQuery runs q until a node answers it, the attempt budget is spent,
// a fatal status is returned or ctx ends.
//
// A paid query without an explicit payment is probed for its cost first.
// Payment instruments are built once and reused by later executions of q.
func (e *Engine) ExecuteQuery(ctx context.Context, q *Query) (*QueryResponse, error) {
	if err := q.st.acquire(); err != nil {
		return nil, err
	}
	defer q.st.release()

	ctx, x := e.begin(ctx, kindQuery, q.method, q.maxAttempts)
	resp, err := e.executeQuery(ctx, x, q)
	e.finish(ctx, x, err)
	return resp, err
}

func (e *Engine) executeQuery(ctx context.Context, x *execution, q *Query) (*QueryResponse, error) {
	if q.paymentRequired && len(q.st.slots) == 0 {
		if !e.canPay() {
			return nil, x.fail(ErrorClassConfig, ErrNoOperator)
		}
		amount, err := e.resolvePayment(ctx, x, q)
		if err != nil {
			return nil, err
		}
		if err := e.authorize(ctx, x, Authorization{
			Kind:   kindQuery,
			Method: q.method.Name,
			Payer:  e.payer(hapi.TransactionID{}),
			Amount: amount,
		}); err != nil {
			return nil, err
		}
		if err := e.planner.EnsurePayments(q, amount); err != nil {
			return nil, x.fail(ErrorClassConfig, err)
		}
		e.tel.Metrics.RecordPaymentPlan(kindQuery, len(q.st.slots))
		x.logger.WithFields(map[string]interface{}{
			"cost":           amount,
			"nodes":          len(q.st.slots),
			"transaction_id": q.st.txID.String(),
		}).Debug("payment planned")
	}
	if q.paymentRequired {
		x.record.TransactionID = q.st.txID.String()
		x.record.Cost = q.st.amount
	}

	res, err := e.run(ctx, x, attemptSpec{
		kind:   kindQuery,
		method: q.method,
		st:     &q.st,
		build: func(entity.ID) []byte {
			return encodeQuery(q, queryMode{
				responseType: hapi.AnswerOnly,
				payment:      q.st.currentInstrument(),
			})
		},
		parse: parseQueryResponse,
	})
	if err != nil {
		return nil, err
	}

	resp := &QueryResponse{
		ExecutionID: x.id,
		NodeID:      x.lastNode,
		Payload:     res.payload,
		Attempts:    x.attempts,
	}
	if q.paymentRequired {
		resp.Cost = q.st.amount
	}
	return resp, nil
}

// resolvePayment returns the explicit payment, or the probed cost checked
// against the maximum payment. Either must fit a signed transfer.
func (e *Engine) resolvePayment(ctx context.Context, x *execution, q *Query) (uint64, error) {
	if amount, ok := q.ExplicitPayment(); ok {
		if amount > math.MaxInt64 {
			return 0, x.fail(ErrorClassConfig, fmt.Errorf("%w: %d", ErrPaymentTooLarge, amount))
		}
		return amount, nil
	}
	if e.cfg.SkipCostProbe {
		return 0, x.fail(ErrorClassConfig, ErrMissingPaymentAmount)
	}

	cost, err := e.probeCost(ctx, x, q)
	if err != nil {
		return 0, err
	}
	if cost > math.MaxInt64 {
		return 0, x.fail(ErrorClassConfig, fmt.Errorf("%w: cost %d", ErrPaymentTooLarge, cost))
	}

	limit := q.maxPayment
	if limit == 0 {
		limit = e.cfg.MaxQueryPayment
	}
	if limit > 0 && cost > limit {
		return 0, x.fail(ErrorClassConfig, fmt.Errorf("%w: cost %d, max %d", ErrCostExceedsMax, cost, limit))
	}
	return cost, nil
}

func (e *Engine) probeCost(ctx context.Context, x *execution, q *Query) (uint64, error) {
	res, err := e.run(ctx, x, e.probe.spec(q))
	if err != nil {
		e.tel.Metrics.RecordCostProbe("error")
		return 0, err
	}
	e.tel.Metrics.RecordCostProbe("ok")
	x.logger.WithNode(x.lastNode.String()).WithField("cost", res.cost).Debug("cost probed")
	return res.cost, nil
}

// GetCost asks the network what q would cost. Free queries cost zero and
// make no round trip.
func (e *Engine) GetCost(ctx context.Context, q *Query) (uint64, error) {
	if !q.paymentRequired {
		return 0, nil
	}
	if err := q.st.acquire(); err != nil {
		return 0, err
	}
	defer q.st.release()

	ctx, x := e.begin(ctx, kindCost, q.method, q.maxAttempts)
	cost, err := e.probeCost(ctx, x, q)
	x.record.Cost = cost
	e.finish(ctx, x, err)
	return cost, err
}

// ExecuteTransaction submits tx until a node accepts it, the attempt budget
// is spent, a fatal status is returned or ctx ends. The same signed bodies
// are reused by later executions of tx.
func (e *Engine) ExecuteTransaction(ctx context.Context, tx *Transaction) (*TransactionResponse, error) {
	if err := tx.st.acquire(); err != nil {
		return nil, err
	}
	defer tx.st.release()

	ctx, x := e.begin(ctx, kindTransaction, tx.method, tx.maxAttempts)
	resp, err := e.executeTransaction(ctx, x, tx)
	e.finish(ctx, x, err)
	return resp, err
}

func (e *Engine) executeTransaction(ctx context.Context, x *execution, tx *Transaction) (*TransactionResponse, error) {
	if len(tx.st.slots) == 0 {
		if !e.canPay() {
			return nil, x.fail(ErrorClassConfig, ErrNoOperator)
		}
		if err := e.authorize(ctx, x, Authorization{
			Kind:      kindTransaction,
			Method:    tx.method.Name,
			Payer:     e.payer(tx.txID),
			MaxFee:    tx.body(hapi.TransactionID{}, entity.ID{}, e.cfg).MaxFee,
			Memo:      tx.memo,
			Transfers: slices.Clone(tx.transfers),
		}); err != nil {
			return nil, err
		}
		if err := e.planner.EnsureBodies(tx); err != nil {
			return nil, x.fail(ErrorClassConfig, err)
		}
		e.tel.Metrics.RecordPaymentPlan(kindTransaction, len(tx.st.slots))
	}
	x.record.TransactionID = tx.st.txID.String()

	var sent []byte
	_, err := e.run(ctx, x, attemptSpec{
		kind:   kindTransaction,
		method: tx.method,
		st:     &tx.st,
		build: func(entity.ID) []byte {
			sent = tx.st.currentInstrument()
			return sent
		},
		parse: parseTransactionResponse,
	})
	if err != nil {
		return nil, err
	}

	hash := sha512.Sum384(sent)
	return &TransactionResponse{
		ExecutionID:   x.id,
		TransactionID: tx.st.txID,
		NodeID:        x.lastNode,
		Hash:          hash[:],
		Attempts:      x.attempts,
	}, nil
}

func (e *Engine) authorize(ctx context.Context, x *execution, req Authorization) error {
	if e.authz == nil {
		return nil
	}
	if err := e.authz.Authorize(ctx, req); err != nil {
		return x.fail(ErrorClassConfig, fmt.Errorf("%w: %w", ErrNotAuthorized, err))
	}
	return nil
}

// payer is the account an explicit transaction id names, else the operator.
func (e *Engine) payer(id hapi.TransactionID) entity.ID {
	if !id.IsZero() {
		return id.Account
	}
	if e.operator != nil {
		return e.operator.AccountID
	}
	return entity.ID{}
}

// execution is the per-call state shared by the probe and the main phase.
// attempts counts round trips across both; each phase run gets maxAttempts
// of its own.
type execution struct {
	id          string
	kind        string
	method      Method
	maxAttempts int

	attempts   int
	lastNode   entity.ID
	lastStatus hapi.Status
	lastErr    error
	lastClass  ErrorClass

	backoff *backoff.ExponentialBackOff
	logger  *telemetry.Logger
	span    trace.Span
	timer   *telemetry.Timer
	record  ExecutionRecord
}

func (e *Engine) begin(ctx context.Context, kind string, method Method, maxAttempts int) (context.Context, *execution) {
	if maxAttempts == 0 {
		maxAttempts = e.cfg.MaxAttempts
	}
	id := uuid.New().String()
	ctx, span := e.tel.Tracer.StartExecutionSpan(ctx, kind, method.Name, id)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.MinBackoff
	b.MaxInterval = e.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	x := &execution{
		id:          id,
		kind:        kind,
		method:      method,
		maxAttempts: maxAttempts,
		lastClass:   ErrorClassNode,
		backoff:     b,
		logger:      e.logger.WithExecutionID(id).WithMethod(method.Name).WithField("kind", kind),
		span:        span,
		timer:       telemetry.NewTimer(),
		record: ExecutionRecord{
			ID:        id,
			Kind:      kind,
			Method:    method.Name,
			StartedAt: e.now(),
		},
	}
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		x.logger = x.logger.WithField("trace_id", traceID)
	}
	e.tel.Metrics.RecordExecutionStarted(kind)
	x.logger.Debug("execution started")
	return ctx, x
}

func (x *execution) fail(class ErrorClass, err error) *ExecutionError {
	ee := &ExecutionError{
		Class:    class,
		Kind:     x.kind,
		Method:   x.method.Name,
		Attempts: x.attempts,
		LastNode: x.lastNode,
		Err:      err,
	}
	if status, ok := StatusOf(err); ok {
		ee.Status = status
	}
	return ee
}

func (x *execution) exhausted() *ExecutionError {
	if x.lastErr == nil {
		// Nothing was sent, so retrying cannot help.
		return x.fail(ErrorClassConfig, ErrMaxAttemptsExceeded)
	}
	return x.fail(x.lastClass, fmt.Errorf("%w: %w", ErrMaxAttemptsExceeded, x.lastErr))
}

// run is the attempt loop of one phase. Every iteration checks ctx, picks a
// node, makes one round trip, advances the cursor and then acts on the
// outcome. The phase stops after maxAttempts round trips of its own.
func (e *Engine) run(ctx context.Context, x *execution, spec attemptSpec) (attemptResult, error) {
	x.lastErr = nil
	x.lastClass = ErrorClassNode
	x.backoff.Reset()

	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return attemptResult{}, x.fail(ErrorClassCancelled, err)
		}
		if sent >= x.maxAttempts {
			return attemptResult{}, x.exhausted()
		}

		node := e.selector.Next(spec.st)
		sent++
		x.attempts++
		x.lastNode = node
		res, outcome, err := e.attempt(ctx, x, spec, node)
		e.selector.Advance(spec.st)

		// A response racing the caller's cancellation is discarded.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attemptResult{}, x.fail(ErrorClassCancelled, ctxErr)
		}

		switch outcome {
		case OutcomeSuccess:
			return res, nil
		case OutcomeFatal:
			return attemptResult{}, x.fail(ErrorClassFatal, err)
		}

		x.lastErr = err
		x.lastClass = outcome.errorClass()
		if sent >= x.maxAttempts {
			return attemptResult{}, x.exhausted()
		}

		delay := x.backoff.NextBackOff()
		e.tel.Metrics.RecordRetry(spec.kind, string(x.lastClass))
		x.logger.WithNode(node.String()).
			WithAttempt(sent, x.maxAttempts).
			WithError(err).
			WithField("delay", delay.String()).
			Warn("attempt failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return attemptResult{}, x.fail(ErrorClassCancelled, ctx.Err())
		}
	}
}

// attempt makes one round trip under the per-attempt timeout. The returned
// error is nil only on success.
func (e *Engine) attempt(ctx context.Context, x *execution, spec attemptSpec, node entity.ID) (attemptResult, Outcome, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()
	attemptCtx, span := e.tel.Tracer.StartAttemptSpan(attemptCtx, x.attempts, node.String())
	defer span.End()

	start := time.Now()
	var res attemptResult
	raw, err := e.transport.Send(attemptCtx, node, spec.method, spec.build(node))
	if err != nil {
		err = fmt.Errorf("send to %s: %w", node, err)
	} else if res, err = spec.parse(raw); err != nil {
		err = fmt.Errorf("decode response from %s: %w", node, err)
	}

	outcome := Classify(res.status, err)
	rec := AttemptRecord{
		Number:  x.attempts,
		Kind:    spec.kind,
		Node:    node,
		Outcome: outcome,
	}
	if err == nil {
		x.lastStatus = res.status
		rec.Status = res.status
		e.tel.Metrics.RecordPrecheck(res.status.String())
		span.SetAttributes(telemetry.AttrPrecheck.String(res.status.String()))
		if outcome != OutcomeSuccess {
			err = &PrecheckError{Status: res.status, Node: node}
		}
	}
	rec.Duration = time.Since(start)
	if err != nil {
		rec.Error = err.Error()
		telemetry.RecordError(span, err)
	}
	span.SetAttributes(telemetry.AttrOutcome.String(outcome.String()))
	x.record.Attempts = append(x.record.Attempts, rec)
	e.tel.Metrics.RecordAttempt(spec.kind, outcome.String(), rec.Duration)

	x.logger.WithNode(node.String()).
		WithAttempt(x.attempts, x.maxAttempts).
		WithField("outcome", outcome.String()).
		Debug("attempt completed")
	return res, outcome, err
}

func (e *Engine) finish(ctx context.Context, x *execution, err error) {
	x.record.CompletedAt = e.now()
	x.record.Status = x.lastStatus

	outcome := "success"
	if err != nil {
		class, ok := ClassOf(err)
		if !ok {
			class = ErrorClassConfig
		}
		outcome = string(class)
		x.record.Error = err.Error()
		e.tel.Metrics.RecordError(outcome)
		telemetry.RecordError(x.span, err)

		logger := x.logger.WithError(err).WithField("attempts", x.attempts)
		if class == ErrorClassCancelled {
			logger.Info("execution cancelled")
		} else {
			logger.Error("execution failed")
		}
	} else {
		telemetry.RecordSuccess(x.span)
		x.logger.WithNode(x.lastNode.String()).WithField("attempts", x.attempts).Debug("execution completed")
	}
	x.record.Outcome = outcome
	x.span.SetAttributes(telemetry.AttrOutcome.String(outcome))
	x.span.End()
	e.tel.Metrics.RecordExecutionCompleted(x.kind, outcome, x.timer.Duration())

	if e.recorder == nil {
		return
	}
	if rerr := e.recorder.RecordExecution(context.WithoutCancel(ctx), &x.record); rerr != nil {
		x.logger.WithError(rerr).Warn("failed to record execution")
	}
}
