package entity

import (
	"errors"
	"slices"
	"testing"
)

func TestParseAndString(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		in   string
		want ID
		out  string
	}{
		{
			name: "account",
			kind: KindAccount,
			in:   "4.5.6",
			want: Account(4, 5, 6),
			out:  "4.5.6",
		},
		{
			name: "checksum is dropped",
			kind: KindToken,
			in:   "0.0.123-vfmkw",
			want: Token(0, 0, 123),
			out:  "0.0.123",
		},
		{
			name: "nft with slash",
			kind: KindNft,
			in:   "6.5.4/3",
			want: ID{Kind: KindNft, Shard: 6, Realm: 5, Num: 4, Serial: 3},
			out:  "6.5.4/3",
		},
		{
			name: "nft with at and checksum",
			kind: KindNft,
			in:   "0.0.123-vfmkw@17",
			want: ID{Kind: KindNft, Num: 123, Serial: 17},
			out:  "0.0.123/17",
		},
		{
			name: "surrounding whitespace",
			kind: KindTopic,
			in:   "  1.2.3 ",
			want: Topic(1, 2, 3),
			out:  "1.2.3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.kind, tt.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if got.String() != tt.out {
				t.Errorf("String() = %q, want %q", got.String(), tt.out)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		in   string
		want error
	}{
		{"two segments", KindAccount, "1.2", ErrMalformed},
		{"four segments", KindAccount, "1.2.3.4", ErrMalformed},
		{"letters", KindAccount, "1.x.3", ErrNotANumber},
		{"negative", KindAccount, "1.-2.3", ErrMalformed},
		{"empty segment", KindAccount, "1..3", ErrNotANumber},
		{"bad checksum shape", KindAccount, "1.2.3-ABCDE", ErrMalformed},
		{"short checksum", KindAccount, "1.2.3-abc", ErrMalformed},
		{"serial on account", KindAccount, "1.2.3/4", ErrMalformed},
		{"nft without serial", KindNft, "1.2.3", ErrMalformed},
		{"nft serial not number", KindNft, "1.2.3/x", ErrNotANumber},
		{"nft negative serial", KindNft, "1.2.3/-1", ErrMalformed},
		{"nft two separators", KindNft, "1.2.3/4/5", ErrMalformed},
		{"empty", KindAccount, "", ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.kind, tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Parse(%q) error = %v, want %v", tt.in, err, tt.want)
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ParseError, got %T", err)
			}
		})
	}
}

func TestChecksumNotPartOfEquality(t *testing.T) {
	a := MustParse(KindAccount, "1.2.3-abcde")
	b := MustParse(KindAccount, "1.2.3")
	if a != b {
		t.Fatalf("expected %v == %v", a, b)
	}

	seen := map[ID]bool{a: true}
	if !seen[b] {
		t.Fatal("expected ids to hash identically")
	}
}

func TestNewNft(t *testing.T) {
	nft, err := NewNft(Token(6, 5, 4), 3)
	if err != nil {
		t.Fatalf("NewNft: %v", err)
	}
	if nft.String() != "6.5.4/3" {
		t.Errorf("String() = %q, want %q", nft.String(), "6.5.4/3")
	}
	if nft.TokenID() != Token(6, 5, 4) {
		t.Errorf("TokenID() = %v", nft.TokenID())
	}

	if _, err := NewNft(Account(6, 5, 4), 3); err == nil {
		t.Error("expected error for non-token parent")
	}
	if _, err := NewNft(Token(6, 5, 4), -1); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for negative serial, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	ids := []ID{
		Account(0, 0, 3),
		File(0, 0, 111),
		Contract(1, 2, 3),
		Token(0, 0, 1<<63),
		Topic(1<<64-1, 1<<64-1, 1<<64-1),
		Schedule(5, 0, 9),
		{Kind: KindNft, Shard: 6, Realm: 5, Num: 4, Serial: 3},
		{Kind: KindNft, Num: 1, Serial: 1<<63 - 1},
	}

	for _, id := range ids {
		t.Run(id.String(), func(t *testing.T) {
			fromBytes, err := FromBytes(id.Kind, id.Bytes())
			if err != nil {
				t.Fatalf("FromBytes: %v", err)
			}
			if fromBytes != id {
				t.Errorf("FromBytes(Bytes()) = %+v, want %+v", fromBytes, id)
			}

			parsed, err := Parse(id.Kind, id.String())
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if parsed != id {
				t.Errorf("Parse(String()) = %+v, want %+v", parsed, id)
			}

			withChecksum, err := Parse(id.Kind, id.StringWithChecksum(Testnet))
			if err != nil {
				t.Fatalf("Parse(StringWithChecksum): %v", err)
			}
			if withChecksum != id {
				t.Errorf("Parse(StringWithChecksum()) = %+v, want %+v", withChecksum, id)
			}
		})
	}
}

func TestFromBytesErrors(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		in   []byte
	}{
		{"empty", KindAccount, nil},
		{"truncated", KindAccount, make([]byte, 23)},
		{"too long", KindAccount, make([]byte, 25)},
		{"nft missing serial", KindNft, make([]byte, 24)},
		{"nft negative serial", KindNft, append(make([]byte, 24), 0x80, 0, 0, 0, 0, 0, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromBytes(tt.kind, tt.in); !errors.Is(err, ErrMalformed) {
				t.Errorf("FromBytes error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestBytesLayout(t *testing.T) {
	got := Account(1, 2, 3).Bytes()
	want := []byte{
		0, 0, 0, 0, 0, 0, 0, 1,
		0, 0, 0, 0, 0, 0, 0, 2,
		0, 0, 0, 0, 0, 0, 0, 3,
	}
	if !slices.Equal(got, want) {
		t.Errorf("Bytes() = %v, want %v", got, want)
	}
}

func TestCompare(t *testing.T) {
	ids := []ID{
		Account(1, 0, 0),
		Account(0, 0, 5),
		Account(0, 1, 0),
		{Kind: KindNft, Num: 5, Serial: 2},
		{Kind: KindNft, Num: 5, Serial: 1},
	}
	slices.SortFunc(ids, ID.Compare)

	want := []string{"0.0.5", "0.0.5/1", "0.0.5/2", "0.1.0", "1.0.0"}
	for i, id := range ids {
		if id.String() != want[i] {
			t.Errorf("position %d = %s, want %s", i, id, want[i])
		}
	}

	if Account(1, 2, 3).Compare(MustParse(KindAccount, "1.2.3-zzzzz")) != 0 {
		t.Error("checksum must not affect ordering")
	}
}

func TestParseKind(t *testing.T) {
	for k, name := range kindNames {
		got, err := ParseKind(name)
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseKind("wallet"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
