package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
	"github.com/ledgerexec/ledgerexec/pkg/keys"
)

// errNoNodes is returned when planning finds no node to prepare for.
var errNoNodes = errors.New("no nodes available")

// PaymentPlanner builds the per-node signed instruments of a request: one
// payment per node for paid queries, one body per node for transactions.
// All instruments of one plan share a single TransactionID, so at most one
// of them can ever be applied by the network.
type PaymentPlanner struct {
	nodes    NodeSource
	operator *Operator
	cfg      Config
	now      func() time.Time
}

// NewPaymentPlanner returns a planner paying from operator. A nil operator
// makes every plan fail with ErrNoOperator.
func NewPaymentPlanner(nodes NodeSource, operator *Operator, cfg Config, now func() time.Time) *PaymentPlanner {
	if now == nil {
		now = time.Now
	}
	return &PaymentPlanner{nodes: nodes, operator: operator, cfg: cfg, now: now}
}

// EnsurePayments builds the payment instruments of q for amount. It does
// nothing when q already has them.
func (p *PaymentPlanner) EnsurePayments(q *Query, amount uint64) error {
	if len(q.st.slots) > 0 {
		return nil
	}
	if amount > math.MaxInt64 {
		return fmt.Errorf("%w: %d", ErrPaymentTooLarge, amount)
	}
	err := p.plan(&q.st, hapi.TransactionID{}, nil, func(id hapi.TransactionID, node entity.ID) hapi.TransactionBody {
		return hapi.TransactionBody{
			TransactionID: id,
			NodeAccountID: node,
			MaxFee:        p.cfg.MaxTransactionFee,
			ValidDuration: p.cfg.ValidDuration,
			Transfers: []hapi.AccountAmount{
				{Account: p.operator.AccountID, Amount: -int64(amount)},
				{Account: node, Amount: int64(amount)},
			},
		}
	})
	if err != nil {
		return err
	}
	q.st.amount = amount
	return nil
}

// EnsureBodies builds and signs the per-node bodies of tx. It does nothing
// when tx already has them.
func (p *PaymentPlanner) EnsureBodies(tx *Transaction) error {
	if len(tx.st.slots) > 0 {
		return nil
	}
	return p.plan(&tx.st, tx.txID, tx.signers, func(id hapi.TransactionID, node entity.ID) hapi.TransactionBody {
		return tx.body(id, node, p.cfg)
	})
}

// plan fills st.slots only when every instrument was built and signed.
func (p *PaymentPlanner) plan(st *execState, id hapi.TransactionID, extra []Signer, body func(hapi.TransactionID, entity.ID) hapi.TransactionBody) error {
	if p.operator == nil || p.operator.Signer == nil || p.operator.AccountID.IsZero() {
		return ErrNoOperator
	}

	nodes := st.pinned
	if len(nodes) == 0 {
		nodes = p.nodes.NextNodeIDs(p.nodes.SuperMajority())
	}
	if len(nodes) == 0 {
		return errNoNodes
	}
	if id.IsZero() {
		id = hapi.NewTransactionID(p.operator.AccountID, p.now())
	}

	signers := append([]Signer{p.operator.Signer}, extra...)
	slots := make([]slot, 0, len(nodes))
	for _, node := range nodes {
		b := body(id, node)
		bodyBytes := b.Marshal()
		signed := hapi.SignedTransaction{BodyBytes: bodyBytes}
		for _, s := range signers {
			pair, err := signaturePair(s, bodyBytes)
			if err != nil {
				return err
			}
			signed.Signatures = append(signed.Signatures, pair)
		}
		slots = append(slots, slot{node: node, instrument: signed.Marshal()})
	}

	st.slots = slots
	st.cursor = 0
	st.txID = id
	return nil
}

func signaturePair(s Signer, message []byte) (hapi.SignaturePair, error) {
	pub := s.PublicKey()
	var scheme hapi.SignatureScheme
	switch pub.Algorithm() {
	case keys.AlgorithmEd25519:
		scheme = hapi.SchemeEd25519
	case keys.AlgorithmECDSASecp256k1:
		scheme = hapi.SchemeECDSASecp256k1
	default:
		return hapi.SignaturePair{}, fmt.Errorf("%w: unsupported key algorithm %s", ErrSigning, pub.Algorithm())
	}

	sig, err := s.Sign(message)
	if err != nil {
		return hapi.SignaturePair{}, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	return hapi.SignaturePair{PubKey: pub.Bytes(), Scheme: scheme, Signature: sig}, nil
}
