package engine

import (
	"github.com/ledgerexec/ledgerexec/pkg/entity"
)

// NodeSelector chooses the node for each attempt of one request.
//
// Once payment slots exist the selector walks them with the request's
// cursor, so the node it returns is always the node the current
// instrument was built for. Before that it rotates through pinned nodes,
// or takes the next node from the shared round-robin order.
type NodeSelector struct {
	nodes NodeSource
}

// NewNodeSelector returns a selector drawing unpinned nodes from nodes.
func NewNodeSelector(nodes NodeSource) NodeSelector {
	return NodeSelector{nodes: nodes}
}

// Next returns the node for the upcoming attempt without moving the cursor.
func (s NodeSelector) Next(st *execState) entity.ID {
	switch {
	case len(st.slots) > 0:
		return st.slots[st.cursor].node
	case len(st.pinned) > 0:
		return st.pinned[st.pinnedCursor]
	default:
		return s.nodes.NextNodeID()
	}
}

// Advance moves the cursor past the node just used, wrapping at the end.
// It is called exactly once per completed attempt.
func (s NodeSelector) Advance(st *execState) {
	switch {
	case len(st.slots) > 0:
		st.cursor = (st.cursor + 1) % len(st.slots)
	case len(st.pinned) > 0:
		st.pinnedCursor = (st.pinnedCursor + 1) % len(st.pinned)
	}
}
