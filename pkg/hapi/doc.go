// Package hapi defines the wire envelopes exchanged with ledger nodes.
//
// Messages are protocol-buffer shaped and encoded field by field with
// protowire, so no generated code is required. Every query carries a
// QueryHeader (payment plus response type) and every response carries a
// ResponseHeader (precheck status plus cost). Business payloads are opaque
// bytes at this layer.
package hapi
