package simnode

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
	"github.com/ledgerexec/ledgerexec/pkg/keys"
	"github.com/ledgerexec/ledgerexec/pkg/telemetry"
	"github.com/ledgerexec/ledgerexec/pkg/transports/grpcnode"
)

// Methods lists the crypto service methods a node serves.
var Methods = []string{
	hapi.MethodGetAccountBalance,
	hapi.MethodGetAccountInfo,
	hapi.MethodCryptoTransfer,
}

// Config holds the fee schedule and identity of one node.
type Config struct {
	// AccountID receives query payments and transaction fees.
	AccountID entity.ID

	// QueryFee is the cost of a paid query.
	QueryFee uint64

	// TransactionFee is charged to the payer of every applied transaction.
	TransactionFee uint64

	// Now is the node's clock.
	Now func() time.Time
}

// DefaultConfig returns fees in tinybars for the node account id.
func DefaultConfig(id entity.ID) Config {
	return Config{
		AccountID:      id,
		QueryFee:       100_000,
		TransactionFee: 500_000,
		Now:            time.Now,
	}
}

// Fault replaces the normal answer to one request.
type Fault struct {
	// Delay is slept before answering, honoring the request context.
	Delay time.Duration

	// Err fails the RPC itself; clients see a transport error.
	Err error

	// Status is returned as the precheck when Err is nil.
	Status hapi.Status
}

// Busy is the fault of an overloaded node.
var Busy = Fault{Status: hapi.StatusBusy}

// Node serves the crypto service against a shared Ledger.
type Node struct {
	cfg     Config
	ledger  *Ledger
	metrics *telemetry.Metrics
	logger  *telemetry.Logger

	mu     sync.Mutex
	faults []Fault

	requests atomic.Int64
}

var _ grpcnode.Handler = (*Node)(nil)

// Option configures a Node.
type Option func(*Node)

// WithTelemetry counts requests in tel's metrics and logs through its logger.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(n *Node) {
		if tel == nil {
			return
		}
		n.metrics = tel.Metrics
		n.logger = tel.Logger
	}
}

// New creates a node. Its account is added to the ledger if missing.
func New(cfg Config, ledger *Ledger, opts ...Option) (*Node, error) {
	if cfg.AccountID.Kind != entity.KindAccount || cfg.AccountID.IsZero() {
		return nil, fmt.Errorf("simnode: node account id required, got %s", cfg.AccountID)
	}
	if ledger == nil {
		return nil, fmt.Errorf("simnode: ledger is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	n := &Node{cfg: cfg, ledger: ledger, logger: telemetry.NewNopLogger()}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.NewComponentLogger("simnode").WithNode(cfg.AccountID.String())

	if err := ledger.CreateAccount(Account{ID: cfg.AccountID}); err != nil && err != ErrAccountExists {
		return nil, err
	}
	return n, nil
}

// AccountID returns the node's account.
func (n *Node) AccountID() entity.ID {
	return n.cfg.AccountID
}

// Inject queues faults answered, in order, before normal processing resumes.
func (n *Node) Inject(faults ...Fault) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faults = append(n.faults, faults...)
}

// Requests returns the number of requests received.
func (n *Node) Requests() int {
	return int(n.requests.Load())
}

// Register serves the node on s.
func (n *Node) Register(s grpc.ServiceRegistrar) {
	grpcnode.Register(s, hapi.CryptoService, Methods, n)
}

// Serve runs a gRPC server for the node on lis until ctx ends.
func (n *Node) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	n.Register(srv)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	n.logger.WithField("address", lis.Addr().String()).Info("node serving")

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

func (n *Node) nextFault() (Fault, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.faults) == 0 {
		return Fault{}, false
	}
	f := n.faults[0]
	n.faults = n.faults[1:]
	return f, true
}

// Handle implements grpcnode.Handler.
func (n *Node) Handle(ctx context.Context, method string, request []byte) ([]byte, error) {
	n.requests.Add(1)

	if f, ok := n.nextFault(); ok {
		if f.Delay > 0 {
			select {
			case <-time.After(f.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if f.Err != nil {
			n.metrics.RecordNodeRequest(method, "transport_error")
			return nil, f.Err
		}
		if f.Status != hapi.StatusOK {
			n.metrics.RecordNodeRequest(method, f.Status.String())
			return n.reject(method, f.Status), nil
		}
	}

	var (
		resp   []byte
		status hapi.Status
	)
	switch method {
	case hapi.MethodGetAccountBalance:
		resp, status = n.getBalance(request)
	case hapi.MethodGetAccountInfo:
		resp, status = n.getInfo(request)
	case hapi.MethodCryptoTransfer:
		resp, status = n.transfer(request)
	default:
		status = hapi.StatusNotSupported
		resp = n.reject(method, status)
	}

	n.metrics.RecordNodeRequest(method, status.String())
	n.logger.WithMethod(method).WithField("status", status.String()).Debug("request handled")
	return resp, nil
}

// reject answers with status in the envelope the method uses.
func (n *Node) reject(method string, status hapi.Status) []byte {
	if method == hapi.MethodCryptoTransfer {
		r := hapi.TransactionResponse{Precheck: status}
		return r.Marshal()
	}
	r := hapi.Response{Header: hapi.ResponseHeader{Precheck: status}}
	return r.Marshal()
}

func queryAnswer(status hapi.Status, rt hapi.ResponseType, cost uint64, payload []byte) ([]byte, hapi.Status) {
	r := hapi.Response{
		Header:  hapi.ResponseHeader{Precheck: status, ResponseType: rt, Cost: cost},
		Payload: payload,
	}
	return r.Marshal(), status
}

// decodeQuery returns the query and the account it targets, or a non-OK
// status.
func decodeQuery(request []byte) (hapi.Query, hapi.AccountQuery, hapi.Status) {
	q, ok, err := hapi.UnmarshalQuery(request)
	if err != nil {
		return q, hapi.AccountQuery{}, hapi.StatusBadEncoding
	}
	if !ok {
		return q, hapi.AccountQuery{}, hapi.StatusMissingQueryHeader
	}
	switch q.Header.ResponseType {
	case hapi.AnswerOnly, hapi.CostAnswer:
	default:
		return q, hapi.AccountQuery{}, hapi.StatusInvalidQueryHeader
	}
	aq, err := hapi.UnmarshalAccountQuery(q.Payload)
	if err != nil || aq.Account.IsZero() {
		return q, aq, hapi.StatusInvalidAccountID
	}
	return q, aq, hapi.StatusOK
}

func (n *Node) getBalance(request []byte) ([]byte, hapi.Status) {
	q, aq, status := decodeQuery(request)
	if status != hapi.StatusOK {
		return queryAnswer(status, q.Header.ResponseType, 0, nil)
	}
	if q.Header.ResponseType == hapi.CostAnswer {
		return queryAnswer(hapi.StatusOK, hapi.CostAnswer, 0, nil)
	}
	acct, ok := n.ledger.Account(aq.Account)
	if !ok {
		return queryAnswer(hapi.StatusInvalidAccountID, hapi.AnswerOnly, 0, nil)
	}
	payload := hapi.AccountBalance{Account: acct.ID, Balance: acct.Balance}
	return queryAnswer(hapi.StatusOK, hapi.AnswerOnly, 0, payload.Marshal())
}

func (n *Node) getInfo(request []byte) ([]byte, hapi.Status) {
	q, aq, status := decodeQuery(request)
	if status != hapi.StatusOK {
		return queryAnswer(status, q.Header.ResponseType, 0, nil)
	}
	if q.Header.ResponseType == hapi.CostAnswer {
		return queryAnswer(hapi.StatusOK, hapi.CostAnswer, n.cfg.QueryFee, nil)
	}

	if status := n.acceptPayment(q.Header.Payment); status != hapi.StatusOK {
		return queryAnswer(status, hapi.AnswerOnly, n.cfg.QueryFee, nil)
	}

	acct, ok := n.ledger.Account(aq.Account)
	if !ok {
		return queryAnswer(hapi.StatusInvalidAccountID, hapi.AnswerOnly, n.cfg.QueryFee, nil)
	}
	info := hapi.AccountInfo{
		Account: acct.ID,
		Balance: acct.Balance,
		Memo:    acct.Memo,
		Deleted: acct.Deleted,
	}
	if !acct.Key.IsZero() {
		info.Key = acct.Key.Bytes()
		info.KeyScheme = schemeOf(acct.Key.Algorithm())
	}
	return queryAnswer(hapi.StatusOK, hapi.AnswerOnly, n.cfg.QueryFee, info.Marshal())
}

// acceptPayment verifies a query payment and applies it to the ledger.
func (n *Node) acceptPayment(raw []byte) hapi.Status {
	d, status := decodeSigned(raw)
	if status != hapi.StatusOK {
		return status
	}
	if status := n.checkEnvelope(d); status != hapi.StatusOK {
		return status
	}
	if status := n.checkPayment(d, n.cfg.QueryFee); status != hapi.StatusOK {
		return status
	}
	if status := n.checkSignatures(d); status != hapi.StatusOK {
		return status
	}
	return n.ledger.apply(d.body.TransactionID, n.cfg.AccountID, n.cfg.TransactionFee, d.body.Transfers)
}

func (n *Node) transfer(request []byte) ([]byte, hapi.Status) {
	status := n.submit(request)
	r := hapi.TransactionResponse{Precheck: status, Cost: n.cfg.TransactionFee}
	return r.Marshal(), status
}

func (n *Node) submit(request []byte) hapi.Status {
	d, status := decodeSigned(request)
	if status != hapi.StatusOK {
		return status
	}
	if status := n.checkEnvelope(d); status != hapi.StatusOK {
		return status
	}
	if len(d.body.Transfers) == 0 {
		return hapi.StatusInvalidAccountAmounts
	}
	if status := checkBalanced(d.body.Transfers); status != hapi.StatusOK {
		return status
	}
	if status := n.checkSignatures(d); status != hapi.StatusOK {
		return status
	}
	return n.ledger.apply(d.body.TransactionID, n.cfg.AccountID, n.cfg.TransactionFee, d.body.Transfers)
}

func schemeOf(alg keys.Algorithm) hapi.SignatureScheme {
	if alg == keys.AlgorithmECDSASecp256k1 {
		return hapi.SchemeECDSASecp256k1
	}
	return hapi.SchemeEd25519
}
