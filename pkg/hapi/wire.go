package hapi

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
)

// ErrBadEncoding wraps every decode failure in this package.
var ErrBadEncoding = errors.New("hapi: bad encoding")

func decodeError(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrBadEncoding, msg)
	}
	return fmt.Errorf("%w: %s: %v", ErrBadEncoding, msg, err)
}

// fieldVisitor consumes the value of one field and returns the number of
// bytes used. Returning 0 skips the field.
type fieldVisitor func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walkFields(msg string, b []byte, visit fieldVisitor) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return decodeError(msg, protowire.ParseError(n))
		}
		b = b[n:]

		m, err := visit(num, typ, b)
		if err != nil {
			return decodeError(msg, err)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return decodeError(msg, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("wire type %d, want varint", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire type %d, want bytes", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	// Detach from the input buffer.
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendIDField(b []byte, num protowire.Number, id entity.ID) []byte {
	if id.IsZero() {
		return b
	}
	return appendBytesField(b, num, id.Bytes())
}

func consumeID(kind entity.Kind, typ protowire.Type, b []byte) (entity.ID, int, error) {
	raw, n, err := consumeBytes(typ, b)
	if err != nil {
		return entity.ID{}, 0, err
	}
	id, err := entity.FromBytes(kind, raw)
	if err != nil {
		return entity.ID{}, 0, err
	}
	return id, n, nil
}

// Timestamps travel as {1: seconds, 2: nanos}.
func appendTimestamp(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	var inner []byte
	inner = appendVarintField(inner, 1, uint64(t.Unix()))
	inner = appendVarintField(inner, 2, uint64(t.Nanosecond()))
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func consumeTimestamp(typ protowire.Type, b []byte) (time.Time, int, error) {
	raw, n, err := consumeBytes(typ, b)
	if err != nil {
		return time.Time{}, 0, err
	}
	var seconds, nanos uint64
	err = walkFields("timestamp", raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var m int
		var err error
		switch num {
		case 1:
			seconds, m, err = consumeVarint(typ, b)
		case 2:
			nanos, m, err = consumeVarint(typ, b)
		}
		return m, err
	})
	if err != nil {
		return time.Time{}, 0, err
	}
	if nanos >= uint64(time.Second) {
		return time.Time{}, 0, fmt.Errorf("nanos out of range: %d", nanos)
	}
	return time.Unix(int64(seconds), int64(nanos)).UTC(), n, nil
}
