package engine

import (
	"context"
	"fmt"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"
)

// queryMode selects what a node is asked to do with a query.
type queryMode struct {
	responseType hapi.ResponseType
	payment      []byte
}

var costMode = queryMode{responseType: hapi.CostAnswer}

// encodeQuery is shared by cost probes and real queries so both carry the
// same business payload.
func encodeQuery(q *Query, mode queryMode) []byte {
	msg := hapi.Query{
		Header: hapi.QueryHeader{
			Payment:      mode.payment,
			ResponseType: mode.responseType,
		},
		Payload: q.payload,
	}
	return msg.Marshal()
}

// attemptResult is what one decoded response contributes to an execution.
type attemptResult struct {
	status  hapi.Status
	payload []byte
	cost    uint64
}

func parseQueryResponse(raw []byte) (attemptResult, error) {
	resp, err := hapi.UnmarshalResponse(raw)
	if err != nil {
		return attemptResult{}, err
	}
	return attemptResult{
		status:  resp.Header.Precheck,
		payload: resp.Payload,
		cost:    resp.Header.Cost,
	}, nil
}

func parseTransactionResponse(raw []byte) (attemptResult, error) {
	resp, err := hapi.UnmarshalTransactionResponse(raw)
	if err != nil {
		return attemptResult{}, err
	}
	return attemptResult{status: resp.Precheck, cost: resp.Cost}, nil
}

// CostProbe asks a node what a query would cost, without payment.
type CostProbe struct {
	transport Transport
}

// spec describes a retried probe of q for the engine's attempt loop. The
// throwaway state keeps probe rotation away from the query's own cursor.
func (p CostProbe) spec(q *Query) attemptSpec {
	return attemptSpec{
		kind:   kindCost,
		method: q.method,
		st:     &execState{pinned: q.st.pinned},
		build:  func(entity.ID) []byte { return encodeQuery(q, costMode) },
		parse:  parseQueryResponse,
	}
}

// NewCostProbe returns a probe sending through transport.
func NewCostProbe(transport Transport) CostProbe {
	return CostProbe{transport: transport}
}

// Probe makes a single round trip to node, with no retry. A non-OK precheck
// is returned as a *PrecheckError.
func (p CostProbe) Probe(ctx context.Context, q *Query, node entity.ID) (uint64, error) {
	raw, err := p.transport.Send(ctx, node, q.method, encodeQuery(q, costMode))
	if err != nil {
		return 0, err
	}
	res, err := parseQueryResponse(raw)
	if err != nil {
		return 0, fmt.Errorf("decode cost response from %s: %w", node, err)
	}
	if Classify(res.status, nil) != OutcomeSuccess {
		return 0, &PrecheckError{Status: res.status, Node: node}
	}
	return res.cost, nil
}
