// Package engine executes paid, signed queries and transactions against a
// replicated node network.
//
// # Overview
//
// Every execute call follows the same path:
//
//  1. Freeze - A builder is validated and turned into an immutable Query or Transaction
//  2. Probe - A paid query without an explicit payment asks one node for its cost (CostProbe)
//  3. Plan - Signed per-node instruments are built once and cached (PaymentPlanner)
//  4. Attempt - Nodes are tried in turn until one succeeds (NodeSelector)
//  5. Classify - Each response is mapped to an Outcome (Classify)
//
// # Payment Planning
//
// A paid query is prepared for the super-majority of the network: one
// payment per node, all sharing a single TransactionID. The network applies
// at most one of them, so sending the query to several nodes in turn never
// pays twice. Transactions use the same planning, with one signed body per
// node.
//
// The node an attempt goes to and the instrument it carries always come
// from the same cursor position. The cursor advances exactly once per
// completed attempt and wraps at the end of the node list.
//
// # Error Classification
//
// Terminal errors are *ExecutionError values with a class:
//
//   - Node: no status was received (transport failure, timeout, bad response)
//   - Business: the node returned a transient status such as BUSY
//   - Fatal: the node returned a status no retry can fix
//   - Config: the request could not be prepared (no operator, signing, cost limit)
//   - Cancelled: the caller's context ended the execution
//
// Node and business failures are retried with exponential backoff until
// the attempt budget is spent; the budget covers the cost probe too.
//
//	resp, err := eng.ExecuteQuery(ctx, q)
//	if errors.Is(err, engine.ErrMaxAttemptsExceeded) {
//	    // every node was busy or unreachable
//	}
//
// # Example Usage
//
//	q, err := engine.NewQuery(method, payload).RequirePayment().Freeze()
//	if err != nil {
//	    return err
//	}
//	resp, err := eng.ExecuteQuery(ctx, q)
//
// # Thread Safety
//
// An Engine is safe for concurrent use. A single Query or Transaction
// rejects a second concurrent execution with ErrExecutionInProgress.
package engine
