package hapi

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
)

// TransactionID is the payer account plus the instant the transaction
// becomes valid. The pair is unique per logical transaction; nodes reject a
// second submission with DUPLICATE_TRANSACTION.
type TransactionID struct {
	Account    entity.ID
	ValidStart time.Time
}

// NewTransactionID backdates the valid start by 5 to 8 seconds so small
// clock skew between client and node does not yield INVALID_TRANSACTION_START.
func NewTransactionID(account entity.ID, now time.Time) TransactionID {
	skew := 5*time.Second + rand.N(3*time.Second)
	return TransactionID{Account: account, ValidStart: now.Add(-skew).UTC()}
}

func (t TransactionID) IsZero() bool {
	return t.Account.IsZero() && t.ValidStart.IsZero()
}

func (t TransactionID) Equal(other TransactionID) bool {
	return t.Account == other.Account && t.ValidStart.Equal(other.ValidStart)
}

// String renders "shard.realm.num@seconds.nanos".
func (t TransactionID) String() string {
	return fmt.Sprintf("%s@%d.%09d", t.Account, t.ValidStart.Unix(), t.ValidStart.Nanosecond())
}

// ParseTransactionID is the inverse of String.
func ParseTransactionID(s string) (TransactionID, error) {
	account, start, ok := strings.Cut(s, "@")
	if !ok {
		return TransactionID{}, fmt.Errorf("hapi: transaction id %q: missing '@'", s)
	}
	id, err := entity.Parse(entity.KindAccount, account)
	if err != nil {
		return TransactionID{}, fmt.Errorf("hapi: transaction id %q: %w", s, err)
	}
	secStr, nanoStr, ok := strings.Cut(start, ".")
	if !ok {
		return TransactionID{}, fmt.Errorf("hapi: transaction id %q: expected seconds.nanos", s)
	}
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return TransactionID{}, fmt.Errorf("hapi: transaction id %q: %w", s, err)
	}
	nanos, err := strconv.ParseInt(nanoStr, 10, 64)
	if err != nil || nanos < 0 || nanos >= int64(time.Second) {
		return TransactionID{}, fmt.Errorf("hapi: transaction id %q: invalid nanos", s)
	}
	return TransactionID{Account: id, ValidStart: time.Unix(sec, nanos).UTC()}, nil
}

func (t TransactionID) appendTo(b []byte, num protowire.Number) []byte {
	var inner []byte
	inner = appendTimestamp(inner, 1, t.ValidStart)
	inner = appendIDField(inner, 2, t.Account)
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func consumeTransactionID(typ protowire.Type, b []byte) (TransactionID, int, error) {
	raw, n, err := consumeBytes(typ, b)
	if err != nil {
		return TransactionID{}, 0, err
	}
	var out TransactionID
	err = walkFields("transaction id", raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var m int
		var err error
		switch num {
		case 1:
			out.ValidStart, m, err = consumeTimestamp(typ, b)
		case 2:
			out.Account, m, err = consumeID(entity.KindAccount, typ, b)
		}
		return m, err
	})
	return out, n, err
}

// AccountAmount is one leg of a transfer list. Negative amounts debit.
type AccountAmount struct {
	Account entity.ID
	Amount  int64
}

// TransactionBody holds the fields every transaction carries plus the
// transfer list used by crypto transfers (including query payments).
type TransactionBody struct {
	TransactionID TransactionID
	NodeAccountID entity.ID
	MaxFee        uint64
	ValidDuration time.Duration
	Memo          string
	Transfers     []AccountAmount
}

// Marshal encodes the body. These bytes are what gets signed.
func (tb *TransactionBody) Marshal() []byte {
	var b []byte
	b = tb.TransactionID.appendTo(b, 1)
	b = appendIDField(b, 2, tb.NodeAccountID)
	b = appendVarintField(b, 3, tb.MaxFee)
	b = appendVarintField(b, 4, uint64(tb.ValidDuration/time.Second))
	b = appendBytesField(b, 5, []byte(tb.Memo))
	for _, aa := range tb.Transfers {
		var inner []byte
		inner = appendIDField(inner, 1, aa.Account)
		inner = appendVarintField(inner, 2, protowire.EncodeZigZag(aa.Amount))
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b
}

// UnmarshalTransactionBody decodes a body produced by Marshal.
func UnmarshalTransactionBody(b []byte) (TransactionBody, error) {
	var tb TransactionBody
	err := walkFields("transaction body", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			id, n, err := consumeTransactionID(typ, b)
			tb.TransactionID = id
			return n, err
		case 2:
			id, n, err := consumeID(entity.KindAccount, typ, b)
			tb.NodeAccountID = id
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, b)
			tb.MaxFee = v
			return n, err
		case 4:
			v, n, err := consumeVarint(typ, b)
			tb.ValidDuration = time.Duration(v) * time.Second
			return n, err
		case 5:
			v, n, err := consumeBytes(typ, b)
			tb.Memo = string(v)
			return n, err
		case 6:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			aa, err := unmarshalAccountAmount(raw)
			if err != nil {
				return 0, err
			}
			tb.Transfers = append(tb.Transfers, aa)
			return n, nil
		}
		return 0, nil
	})
	return tb, err
}

func unmarshalAccountAmount(b []byte) (AccountAmount, error) {
	var aa AccountAmount
	err := walkFields("account amount", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			id, n, err := consumeID(entity.KindAccount, typ, b)
			aa.Account = id
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			aa.Amount = protowire.DecodeZigZag(v)
			return n, err
		}
		return 0, nil
	})
	return aa, err
}

// SignatureScheme selects which signature field a SignaturePair uses.
type SignatureScheme int

const (
	SchemeEd25519 SignatureScheme = iota + 1
	SchemeECDSASecp256k1
)

func (s SignatureScheme) String() string {
	switch s {
	case SchemeEd25519:
		return "ed25519"
	case SchemeECDSASecp256k1:
		return "ecdsa_secp256k1"
	default:
		return "unknown"
	}
}

// SignaturePair binds a signature to the public key that produced it.
type SignaturePair struct {
	PubKey    []byte
	Scheme    SignatureScheme
	Signature []byte
}

// SignedTransaction is the body bytes plus every signature over them.
type SignedTransaction struct {
	BodyBytes  []byte
	Signatures []SignaturePair
}

// Marshal encodes the signed transaction for the wire.
func (st *SignedTransaction) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, st.BodyBytes)
	for _, sp := range st.Signatures {
		var inner []byte
		inner = appendBytesField(inner, 1, sp.PubKey)
		switch sp.Scheme {
		case SchemeEd25519:
			inner = appendBytesField(inner, 2, sp.Signature)
		case SchemeECDSASecp256k1:
			inner = appendBytesField(inner, 3, sp.Signature)
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b
}

// Body decodes BodyBytes.
func (st *SignedTransaction) Body() (TransactionBody, error) {
	return UnmarshalTransactionBody(st.BodyBytes)
}

// UnmarshalSignedTransaction decodes the output of SignedTransaction.Marshal.
func UnmarshalSignedTransaction(b []byte) (SignedTransaction, error) {
	var st SignedTransaction
	err := walkFields("signed transaction", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			st.BodyBytes = v
			return n, err
		case 2:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			sp, err := unmarshalSignaturePair(raw)
			if err != nil {
				return 0, err
			}
			st.Signatures = append(st.Signatures, sp)
			return n, nil
		}
		return 0, nil
	})
	return st, err
}

func unmarshalSignaturePair(b []byte) (SignaturePair, error) {
	var sp SignaturePair
	err := walkFields("signature pair", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			sp.PubKey = v
			return n, err
		case 2, 3:
			v, n, err := consumeBytes(typ, b)
			sp.Signature = v
			sp.Scheme = SchemeEd25519
			if num == 3 {
				sp.Scheme = SchemeECDSASecp256k1
			}
			return n, err
		}
		return 0, nil
	})
	return sp, err
}

// TransactionResponse is what a node returns for a submitted transaction.
type TransactionResponse struct {
	Precheck Status
	Cost     uint64
}

func (tr *TransactionResponse) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(tr.Precheck))
	b = appendVarintField(b, 2, tr.Cost)
	return b
}

func UnmarshalTransactionResponse(b []byte) (TransactionResponse, error) {
	var tr TransactionResponse
	err := walkFields("transaction response", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			tr.Precheck = Status(int32(v))
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			tr.Cost = v
			return n, err
		}
		return 0, nil
	})
	return tr, err
}
