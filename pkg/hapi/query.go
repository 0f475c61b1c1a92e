package hapi

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// ResponseType tells a node whether to answer the query or only price it.
type ResponseType int32

const (
	AnswerOnly ResponseType = 0
	CostAnswer ResponseType = 2
)

func (r ResponseType) String() string {
	switch r {
	case AnswerOnly:
		return "ANSWER_ONLY"
	case CostAnswer:
		return "COST_ANSWER"
	default:
		return "UNKNOWN"
	}
}

// QueryHeader is attached to every query. Payment holds a marshaled
// SignedTransaction and is empty for free queries and cost probes.
type QueryHeader struct {
	Payment      []byte
	ResponseType ResponseType
}

func (h *QueryHeader) marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, h.Payment)
	b = appendVarintField(b, 2, uint64(h.ResponseType))
	return b
}

func unmarshalQueryHeader(b []byte) (QueryHeader, error) {
	var h QueryHeader
	err := walkFields("query header", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			h.Payment = v
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			h.ResponseType = ResponseType(int32(v))
			return n, err
		}
		return 0, nil
	})
	return h, err
}

// Query is the envelope sent for every query method.
type Query struct {
	Header  QueryHeader
	Payload []byte
}

// Marshal always emits the header, even when it is empty, so nodes can tell
// a missing header from a zero one.
func (q *Query) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, q.Header.marshal())
	b = appendBytesField(b, 2, q.Payload)
	return b
}

// UnmarshalQuery decodes a Query. ok is false when the header field is absent.
func UnmarshalQuery(b []byte) (q Query, ok bool, err error) {
	err = walkFields("query", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			h, err := unmarshalQueryHeader(raw)
			if err != nil {
				return 0, err
			}
			q.Header, ok = h, true
			return n, nil
		case 2:
			v, n, err := consumeBytes(typ, b)
			q.Payload = v
			return n, err
		}
		return 0, nil
	})
	return q, ok, err
}

// ResponseHeader carries the node's verdict on a query.
type ResponseHeader struct {
	Precheck     Status
	ResponseType ResponseType
	Cost         uint64
}

// Response is the envelope returned for every query method.
type Response struct {
	Header  ResponseHeader
	Payload []byte
}

func (r *Response) Marshal() []byte {
	var h []byte
	h = appendVarintField(h, 1, uint64(r.Header.Precheck))
	h = appendVarintField(h, 2, uint64(r.Header.ResponseType))
	h = appendVarintField(h, 3, r.Header.Cost)

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, h)
	b = appendBytesField(b, 2, r.Payload)
	return b
}

func UnmarshalResponse(b []byte) (Response, error) {
	var r Response
	err := walkFields("response", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			h, err := unmarshalResponseHeader(raw)
			r.Header = h
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			r.Payload = v
			return n, err
		}
		return 0, nil
	})
	return r, err
}

func unmarshalResponseHeader(b []byte) (ResponseHeader, error) {
	var h ResponseHeader
	err := walkFields("response header", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num < 1 || num > 3 {
			return 0, nil
		}
		v, n, err := consumeVarint(typ, b)
		if err != nil {
			return 0, err
		}
		switch num {
		case 1:
			h.Precheck = Status(int32(v))
		case 2:
			h.ResponseType = ResponseType(int32(v))
		case 3:
			h.Cost = v
		}
		return n, nil
	})
	return h, err
}
