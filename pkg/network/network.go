// Package network holds the client's view of the node set: which nodes exist,
// where they listen, and which one the next free request should go to.
package network

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
)

var (
	ErrNoNodes       = errors.New("network: no nodes configured")
	ErrDuplicateNode = errors.New("network: duplicate node account")
	ErrUnknownNode   = errors.New("network: unknown node")
)

// Node is one ledger node, identified by the account that receives its fees.
type Node struct {
	AccountID entity.ID
	Address   string
}

func (n Node) String() string {
	return fmt.Sprintf("%s@%s", n.AccountID, n.Address)
}

// Option configures a Network.
type Option func(*Network)

// WithSuperMajority pins the number of payment instruments built per paid
// request instead of deriving it from the node count.
func WithSuperMajority(size int) Option {
	return func(n *Network) {
		n.superMajority = size
	}
}

// Network is safe for concurrent use. The node list may be replaced at any
// time with SetNodes; in-flight executions keep the node ids they already
// planned with.
type Network struct {
	ledger        entity.LedgerID
	superMajority int

	mu    sync.RWMutex
	nodes []Node
	index map[entity.ID]Node

	cursor atomic.Uint64
}

// New validates nodes and returns a Network for the given ledger.
func New(ledger entity.LedgerID, nodes []Node, opts ...Option) (*Network, error) {
	n := &Network{ledger: ledger}
	for _, opt := range opts {
		opt(n)
	}
	if n.superMajority < 0 {
		return nil, fmt.Errorf("network: super-majority size must not be negative, got %d", n.superMajority)
	}
	if err := n.SetNodes(nodes); err != nil {
		return nil, err
	}
	return n, nil
}

// Ledger returns the ledger id used for address checksums.
func (n *Network) Ledger() entity.LedgerID {
	return n.ledger
}

// SetNodes atomically replaces the node list. The list is sorted by account
// id so round-robin order does not depend on configuration order.
func (n *Network) SetNodes(nodes []Node) error {
	if len(nodes) == 0 {
		return ErrNoNodes
	}
	index := make(map[entity.ID]Node, len(nodes))
	for _, node := range nodes {
		if node.AccountID.Kind != entity.KindAccount {
			return fmt.Errorf("network: node %s: account id required", node)
		}
		if node.Address == "" {
			return fmt.Errorf("network: node %s: empty address", node.AccountID)
		}
		if _, dup := index[node.AccountID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, node.AccountID)
		}
		index[node.AccountID] = node
	}
	sorted := slices.Clone(nodes)
	slices.SortFunc(sorted, func(a, b Node) int { return a.AccountID.Compare(b.AccountID) })

	n.mu.Lock()
	n.nodes = sorted
	n.index = index
	n.mu.Unlock()
	return nil
}

// Nodes returns a copy of the current node list.
func (n *Network) Nodes() []Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.nodes)
}

func (n *Network) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.nodes)
}

// Lookup resolves a node account id to its address.
func (n *Network) Lookup(id entity.ID) (Node, error) {
	n.mu.RLock()
	node, ok := n.index[id]
	n.mu.RUnlock()
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return node, nil
}

// NextNodeID returns the next node in round-robin order. The cursor is shared
// by every request on this Network.
func (n *Network) NextNodeID() entity.ID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	i := (n.cursor.Add(1) - 1) % uint64(len(n.nodes))
	return n.nodes[i].AccountID
}

// NextNodeIDs returns count consecutive nodes in round-robin order, capped at
// the node count so the result never repeats a node.
func (n *Network) NextNodeIDs(count int) []entity.ID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	size := uint64(len(n.nodes))
	count = min(count, len(n.nodes))
	if count <= 0 {
		return nil
	}
	start := n.cursor.Add(uint64(count)) - uint64(count)
	out := make([]entity.ID, count)
	for i := range out {
		out[i] = n.nodes[(start+uint64(i))%size].AccountID
	}
	return out
}

// SuperMajority is the number of nodes a paid request prepares payment for:
// the smallest count guaranteed to include an honest node when fewer than a
// third are faulty, capped at the node count.
func (n *Network) SuperMajority() int {
	size := n.Len()
	if n.superMajority > 0 {
		return min(n.superMajority, size)
	}
	return SuperMajority(size)
}

// SuperMajority computes ceil(size/3), the default super-majority size.
func SuperMajority(size int) int {
	if size <= 0 {
		return 0
	}
	return (size-1)/3 + 1
}
