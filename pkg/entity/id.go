package entity

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const (
	tripleSize = 24
	nftSize    = 32
)

// ID identifies one ledger resource. The zero value is not a valid ID.
type ID struct {
	Kind  Kind
	Shard uint64
	Realm uint64
	Num   uint64

	// Serial is only meaningful for KindNft and is never negative.
	Serial int64
}

// New returns an ID of the given kind. Use NewNft for NFT instances.
func New(kind Kind, shard, realm, num uint64) ID {
	return ID{Kind: kind, Shard: shard, Realm: realm, Num: num}
}

func Account(shard, realm, num uint64) ID  { return New(KindAccount, shard, realm, num) }
func File(shard, realm, num uint64) ID     { return New(KindFile, shard, realm, num) }
func Contract(shard, realm, num uint64) ID { return New(KindContract, shard, realm, num) }
func Token(shard, realm, num uint64) ID    { return New(KindToken, shard, realm, num) }
func Topic(shard, realm, num uint64) ID    { return New(KindTopic, shard, realm, num) }
func Schedule(shard, realm, num uint64) ID { return New(KindSchedule, shard, realm, num) }

// NewNft returns the ID of one instance of a non-fungible token.
func NewNft(token ID, serial int64) (ID, error) {
	if token.Kind != KindToken {
		return ID{}, fmt.Errorf("entity: nft requires a token id, got %s", token.Kind)
	}
	if serial < 0 {
		return ID{}, malformed(strconv.FormatInt(serial, 10), "negative serial")
	}
	return ID{Kind: KindNft, Shard: token.Shard, Realm: token.Realm, Num: token.Num, Serial: serial}, nil
}

// TokenID returns the token an NFT instance belongs to.
func (id ID) TokenID() ID {
	return Token(id.Shard, id.Realm, id.Num)
}

func (id ID) IsZero() bool {
	return id == ID{}
}

// String returns the canonical form, without checksum.
func (id ID) String() string {
	triple := id.triple()
	if id.Kind == KindNft {
		return triple + "/" + strconv.FormatInt(id.Serial, 10)
	}
	return triple
}

// StringWithChecksum renders the ID with the checksum for the given ledger.
func (id ID) StringWithChecksum(ledger LedgerID) string {
	out := id.triple() + "-" + id.Checksum(ledger)
	if id.Kind == KindNft {
		out += "/" + strconv.FormatInt(id.Serial, 10)
	}
	return out
}

func (id ID) triple() string {
	return fmt.Sprintf("%d.%d.%d", id.Shard, id.Realm, id.Num)
}

// Compare orders IDs by shard, realm, num and serial. Kind only breaks ties
// between otherwise identical tuples so Compare agrees with ==.
func (id ID) Compare(other ID) int {
	if c := cmp.Compare(id.Shard, other.Shard); c != 0 {
		return c
	}
	if c := cmp.Compare(id.Realm, other.Realm); c != 0 {
		return c
	}
	if c := cmp.Compare(id.Num, other.Num); c != 0 {
		return c
	}
	if c := cmp.Compare(id.Serial, other.Serial); c != 0 {
		return c
	}
	return cmp.Compare(id.Kind, other.Kind)
}

// Bytes encodes the ID as a big-endian (shard, realm, num) triple, followed by
// the serial for NFTs.
func (id ID) Bytes() []byte {
	size := tripleSize
	if id.Kind == KindNft {
		size = nftSize
	}
	out := make([]byte, size)
	binary.BigEndian.PutUint64(out[0:8], id.Shard)
	binary.BigEndian.PutUint64(out[8:16], id.Realm)
	binary.BigEndian.PutUint64(out[16:24], id.Num)
	if id.Kind == KindNft {
		binary.BigEndian.PutUint64(out[24:32], uint64(id.Serial))
	}
	return out
}

// FromBytes decodes the output of Bytes for an ID of the given kind.
func FromBytes(kind Kind, b []byte) (ID, error) {
	want := tripleSize
	if kind == KindNft {
		want = nftSize
	}
	if len(b) != want {
		return ID{}, malformed(fmt.Sprintf("%x", b), fmt.Sprintf("want %d bytes, got %d", want, len(b)))
	}
	id := ID{
		Kind:  kind,
		Shard: binary.BigEndian.Uint64(b[0:8]),
		Realm: binary.BigEndian.Uint64(b[8:16]),
		Num:   binary.BigEndian.Uint64(b[16:24]),
	}
	if kind == KindNft {
		serial := binary.BigEndian.Uint64(b[24:32])
		if serial > 1<<63-1 {
			return ID{}, malformed(fmt.Sprintf("%x", b), "negative serial")
		}
		id.Serial = int64(serial)
	}
	return id, nil
}

// Parse decodes the text form of an ID of the given kind, discarding any
// checksum suffix.
func Parse(kind Kind, text string) (ID, error) {
	addr, err := ParseAddress(kind, text)
	if err != nil {
		return ID{}, err
	}
	return addr.ID, nil
}

// MustParse is Parse for constants and tests.
func MustParse(kind Kind, text string) ID {
	id, err := Parse(kind, text)
	if err != nil {
		panic(err)
	}
	return id
}

// Address is an ID together with the checksum the user wrote, if any.
type Address struct {
	ID       ID
	Checksum string
}

// ParseAddress decodes the text form of an ID and keeps the checksum suffix.
func ParseAddress(kind Kind, text string) (Address, error) {
	input := strings.TrimSpace(text)
	idPart := input
	var serialPart string
	hasSerial := false

	if i := strings.IndexAny(input, "/@"); i >= 0 {
		idPart, serialPart = input[:i], input[i+1:]
		hasSerial = true
		if strings.ContainsAny(serialPart, "/@") {
			return Address{}, malformed(text, "more than one serial separator")
		}
	}

	if kind == KindNft && !hasSerial {
		return Address{}, malformed(text, "expected shard.realm.num/serial")
	}
	if kind != KindNft && hasSerial {
		return Address{}, malformed(text, fmt.Sprintf("serial not allowed for %s", kind))
	}

	shard, realm, num, checksum, err := parseTriple(text, idPart)
	if err != nil {
		return Address{}, err
	}

	id := ID{Kind: kind, Shard: shard, Realm: realm, Num: num}
	if hasSerial {
		if serialPart == "" {
			return Address{}, malformed(text, "empty serial")
		}
		serial, err := strconv.ParseInt(serialPart, 10, 64)
		if err != nil {
			return Address{}, notANumber(text, serialPart)
		}
		if serial < 0 {
			return Address{}, malformed(text, "negative serial")
		}
		id.Serial = serial
	}
	return Address{ID: id, Checksum: checksum}, nil
}

func parseTriple(input, s string) (shard, realm, num uint64, checksum string, err error) {
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s, checksum = s[:i], s[i+1:]
		if !isChecksumShaped(checksum) {
			return 0, 0, 0, "", malformed(input, "checksum must be 5 lowercase letters")
		}
	}

	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, 0, 0, "", malformed(input, fmt.Sprintf("expected 3 segments, got %d", len(parts)))
	}

	var out [3]uint64
	for i, p := range parts {
		v, perr := strconv.ParseUint(p, 10, 64)
		if perr != nil {
			return 0, 0, 0, "", notANumber(input, p)
		}
		out[i] = v
	}
	return out[0], out[1], out[2], checksum, nil
}

func isChecksumShaped(s string) bool {
	if len(s) != checksumLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}
