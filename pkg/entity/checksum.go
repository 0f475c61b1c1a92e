package entity

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const checksumLen = 5

// LedgerID names the network an ID belongs to. Checksums computed for one
// ledger do not validate on another.
type LedgerID struct {
	name  string
	bytes string
}

var (
	Mainnet    = LedgerID{name: "mainnet", bytes: "\x00"}
	Testnet    = LedgerID{name: "testnet", bytes: "\x01"}
	Previewnet = LedgerID{name: "previewnet", bytes: "\x02"}
)

// LedgerFromBytes returns the LedgerID for arbitrary ledger bytes, resolving
// the well-known single-byte ids to their names.
func LedgerFromBytes(b []byte) LedgerID {
	for _, known := range []LedgerID{Mainnet, Testnet, Previewnet} {
		if known.bytes == string(b) {
			return known
		}
	}
	return LedgerID{bytes: string(b)}
}

// ParseLedgerID accepts "mainnet", "testnet", "previewnet" or a hex string.
func ParseLedgerID(s string) (LedgerID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	case "previewnet":
		return Previewnet, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) == 0 {
		return LedgerID{}, fmt.Errorf("entity: invalid ledger id %q", s)
	}
	return LedgerFromBytes(b), nil
}

func (l LedgerID) Bytes() []byte {
	return []byte(l.bytes)
}

func (l LedgerID) String() string {
	if l.name != "" {
		return l.name
	}
	return hex.EncodeToString([]byte(l.bytes))
}

// Checksum computes the 5-letter checksum of the ID's triple for a ledger.
// The serial of an NFT does not contribute.
func (id ID) Checksum(ledger LedgerID) string {
	return checksum(ledger.Bytes(), id.triple())
}

// ValidateChecksum compares a user-supplied checksum against the computed one.
// An empty checksum is accepted: there is nothing to check.
func (id ID) ValidateChecksum(ledger LedgerID, supplied string) error {
	if supplied == "" {
		return nil
	}
	expected := id.Checksum(ledger)
	if expected != supplied {
		return &ChecksumMismatchError{ID: id, Ledger: ledger, Expected: expected, Actual: supplied}
	}
	return nil
}

// ValidateChecksum checks the checksum that was parsed with the address.
func (a Address) ValidateChecksum(ledger LedgerID) error {
	return a.ID.ValidateChecksum(ledger, a.Checksum)
}

// checksum implements the HIP-15 address checksum: a weighted digit sum over
// the address (with '.' counted as 10) mixed with a hash of the ledger bytes,
// permuted and rendered as 5 base-26 letters.
func checksum(ledger []byte, addr string) string {
	const (
		p3 = 26 * 26 * 26
		p5 = 26 * 26 * 26 * 26 * 26
		m  = 1_000_003
		w  = 31
	)

	digits := make([]uint64, 0, len(addr))
	for i := 0; i < len(addr); i++ {
		if addr[i] == '.' {
			digits = append(digits, 10)
		} else {
			digits = append(digits, uint64(addr[i]-'0'))
		}
	}

	var s, s0, s1 uint64
	for i, d := range digits {
		s = (w*s + d) % p3
		if i%2 == 0 {
			s0 = (s0 + d) % 11
		} else {
			s1 = (s1 + d) % 11
		}
	}

	h := make([]byte, len(ledger)+6)
	copy(h, ledger)
	var sh uint64
	for _, b := range h {
		sh = (w*sh + uint64(b)) % p5
	}

	c := ((((uint64(len(digits))%5)*11+s0)*11+s1)*p3 + s + sh) % p5
	c = (c * m) % p5

	out := make([]byte, checksumLen)
	for i := checksumLen - 1; i >= 0; i-- {
		out[i] = byte('a' + c%26)
		c /= 26
	}
	return string(out)
}
