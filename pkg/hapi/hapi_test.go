package hapi

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ledgerexec/ledgerexec/pkg/entity"
)

func TestTransactionIDString(t *testing.T) {
	id := TransactionID{
		Account:    entity.Account(0, 0, 1001),
		ValidStart: time.Unix(1700000000, 42).UTC(),
	}
	if got, want := id.String(), "0.0.1001@1700000000.000000042"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}

	parsed, err := ParseTransactionID(id.String())
	if err != nil {
		t.Fatalf("ParseTransactionID: %v", err)
	}
	if !parsed.Equal(id) {
		t.Errorf("ParseTransactionID(String()) = %v, want %v", parsed, id)
	}
}

func TestParseTransactionIDErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"0.0.3",
		"0.0.3@",
		"0.0.3@12",
		"x.0.3@1.2",
		"0.0.3@a.2",
		"0.0.3@1.1000000000",
	} {
		if _, err := ParseTransactionID(in); err == nil {
			t.Errorf("ParseTransactionID(%q) succeeded, want error", in)
		}
	}
}

func TestNewTransactionIDIsBackdated(t *testing.T) {
	now := time.Now()
	id := NewTransactionID(entity.Account(0, 0, 2), now)
	skew := now.Sub(id.ValidStart)
	if skew < 5*time.Second || skew >= 8*time.Second {
		t.Errorf("valid start skew = %v, want [5s, 8s)", skew)
	}
}

func TestSignedTransactionRoundTrip(t *testing.T) {
	body := TransactionBody{
		TransactionID: TransactionID{
			Account:    entity.Account(0, 0, 1001),
			ValidStart: time.Unix(1700000000, 5).UTC(),
		},
		NodeAccountID: entity.Account(0, 0, 3),
		MaxFee:        100_000_000,
		ValidDuration: 120 * time.Second,
		Memo:          "rent",
		Transfers: []AccountAmount{
			{Account: entity.Account(0, 0, 1001), Amount: -25},
			{Account: entity.Account(0, 0, 3), Amount: 25},
		},
	}
	st := SignedTransaction{
		BodyBytes: body.Marshal(),
		Signatures: []SignaturePair{
			{PubKey: []byte{1, 2, 3}, Scheme: SchemeEd25519, Signature: []byte{9, 9}},
			{PubKey: []byte{4, 5}, Scheme: SchemeECDSASecp256k1, Signature: []byte{8}},
		},
	}

	got, err := UnmarshalSignedTransaction(st.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalSignedTransaction: %v", err)
	}
	if diff := cmp.Diff(st, got); diff != "" {
		t.Errorf("signed transaction mismatch (-want +got):\n%s", diff)
	}

	gotBody, err := got.Body()
	if err != nil {
		t.Fatalf("Body: %v", err)
	}
	if diff := cmp.Diff(body, gotBody); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryHeaderPresence(t *testing.T) {
	q := Query{Payload: []byte("account")}
	got, ok, err := UnmarshalQuery(q.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalQuery: %v", err)
	}
	if !ok {
		t.Error("empty header should still be present on the wire")
	}
	if string(got.Payload) != "account" {
		t.Errorf("Payload = %q", got.Payload)
	}

	_, ok, err = UnmarshalQuery(appendBytesField(nil, 2, []byte("x")))
	if err != nil {
		t.Fatalf("UnmarshalQuery: %v", err)
	}
	if ok {
		t.Error("header reported present for a query without one")
	}
}

func TestQueryRoundTrip(t *testing.T) {
	q := Query{
		Header:  QueryHeader{Payment: []byte{1, 2, 3}, ResponseType: CostAnswer},
		Payload: []byte{7},
	}
	got, _, err := UnmarshalQuery(q.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalQuery: %v", err)
	}
	if diff := cmp.Diff(q, got); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestResponseSkipsUnknownFields(t *testing.T) {
	r := Response{
		Header:  ResponseHeader{Precheck: StatusBusy, ResponseType: CostAnswer, Cost: 1234},
		Payload: []byte("payload"),
	}
	b := r.Marshal()
	b = protowire.AppendTag(b, 15, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	got, err := UnmarshalResponse(b)
	if err != nil {
		t.Fatalf("UnmarshalResponse: %v", err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		fn   func([]byte) error
		in   []byte
	}{
		{"truncated tag", func(b []byte) error { _, err := UnmarshalResponse(b); return err }, []byte{0x0a}},
		{"wrong wire type", func(b []byte) error { _, err := UnmarshalTransactionResponse(b); return err }, appendBytesField(nil, 1, []byte("x"))},
		{"short entity", func(b []byte) error { _, err := UnmarshalTransactionBody(b); return err }, appendBytesField(nil, 2, []byte{1, 2})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(tt.in); !errors.Is(err, ErrBadEncoding) {
				t.Errorf("error = %v, want ErrBadEncoding", err)
			}
		})
	}
}

func TestStatusVocabulary(t *testing.T) {
	for _, s := range Statuses() {
		parsed, err := ParseStatus(s.String())
		if err != nil || parsed != s {
			t.Errorf("ParseStatus(%q) = %v, %v", s, parsed, err)
		}
	}
	if Status(999).Known() {
		t.Error("999 should not be a known status")
	}
	if got := Status(999).String(); got != "STATUS_999" {
		t.Errorf("String() = %q", got)
	}
}
