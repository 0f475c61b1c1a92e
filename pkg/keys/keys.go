package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrInvalidKey is returned for any key text or bytes that cannot be decoded.
	ErrInvalidKey = errors.New("keys: invalid key")

	// ErrNoKey is returned when signing with a zero PrivateKey.
	ErrNoKey = errors.New("keys: no key material")
)

// Algorithm identifies a signature scheme.
type Algorithm int

const (
	AlgorithmUnknown Algorithm = iota
	AlgorithmEd25519
	AlgorithmECDSASecp256k1
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmEd25519:
		return "ed25519"
	case AlgorithmECDSASecp256k1:
		return "ecdsa_secp256k1"
	default:
		return "unknown"
	}
}

// ParseAlgorithm accepts the names printed by Algorithm.String, plus "ecdsa".
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ed25519":
		return AlgorithmEd25519, nil
	case "ecdsa", "ecdsa_secp256k1", "secp256k1":
		return AlgorithmECDSASecp256k1, nil
	default:
		return AlgorithmUnknown, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidKey, s)
	}
}

// DER prefixes for the PKCS#8 and SubjectPublicKeyInfo encodings of each
// algorithm. The raw key material follows directly.
var (
	ed25519PrivatePrefix = mustHex("302e020100300506032b657004220420")
	ed25519PublicPrefix  = mustHex("302a300506032b6570032100")
	ecdsaPrivatePrefix   = mustHex("3030020100300706052b8104000a04220420")
	ecdsaPublicPrefix    = mustHex("302d300706052b8104000a032200")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// PrivateKey is an Ed25519 or ECDSA secp256k1 signing key.
type PrivateKey struct {
	ed ed25519.PrivateKey
	ec *secp256k1.PrivateKey
}

// GenerateEd25519 creates a fresh Ed25519 key from crypto/rand.
func GenerateEd25519() (PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("keys: generate ed25519: %w", err)
	}
	return PrivateKey{ed: priv}, nil
}

// GenerateECDSA creates a fresh secp256k1 key.
func GenerateECDSA() (PrivateKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return PrivateKey{}, fmt.Errorf("keys: generate secp256k1: %w", err)
	}
	return PrivateKey{ec: priv}, nil
}

// Generate creates a key for the given algorithm.
func Generate(alg Algorithm) (PrivateKey, error) {
	switch alg {
	case AlgorithmEd25519:
		return GenerateEd25519()
	case AlgorithmECDSASecp256k1:
		return GenerateECDSA()
	default:
		return PrivateKey{}, fmt.Errorf("%w: unsupported algorithm %s", ErrInvalidKey, alg)
	}
}

// Ed25519FromSeed builds an Ed25519 key from its 32-byte seed.
func Ed25519FromSeed(seed []byte) (PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return PrivateKey{}, fmt.Errorf("%w: ed25519 seed must be %d bytes, got %d", ErrInvalidKey, ed25519.SeedSize, len(seed))
	}
	return PrivateKey{ed: ed25519.NewKeyFromSeed(seed)}, nil
}

// ECDSAFromBytes builds a secp256k1 key from its 32-byte scalar.
func ECDSAFromBytes(b []byte) (PrivateKey, error) {
	if len(b) != 32 {
		return PrivateKey{}, fmt.Errorf("%w: secp256k1 key must be 32 bytes, got %d", ErrInvalidKey, len(b))
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow || scalar.IsZero() {
		return PrivateKey{}, fmt.Errorf("%w: secp256k1 scalar out of range", ErrInvalidKey)
	}
	return PrivateKey{ec: secp256k1.NewPrivateKey(&scalar)}, nil
}

// ParsePrivateKey decodes hex text. DER-prefixed input selects the algorithm
// from the prefix; a bare 32-byte (64 hex digit) value is read as an Ed25519
// seed, and a 64-byte value as seed plus public key.
func ParsePrivateKey(text string) (PrivateKey, error) {
	b, err := decodeHex(text)
	if err != nil {
		return PrivateKey{}, err
	}
	switch {
	case bytes.HasPrefix(b, ed25519PrivatePrefix):
		return Ed25519FromSeed(b[len(ed25519PrivatePrefix):])
	case bytes.HasPrefix(b, ecdsaPrivatePrefix):
		return ECDSAFromBytes(b[len(ecdsaPrivatePrefix):])
	case len(b) == ed25519.SeedSize:
		return Ed25519FromSeed(b)
	case len(b) == ed25519.PrivateKeySize:
		k, err := Ed25519FromSeed(b[:ed25519.SeedSize])
		if err != nil {
			return PrivateKey{}, err
		}
		if !bytes.Equal(k.ed[ed25519.SeedSize:], b[ed25519.SeedSize:]) {
			return PrivateKey{}, fmt.Errorf("%w: public half does not match seed", ErrInvalidKey)
		}
		return k, nil
	default:
		return PrivateKey{}, fmt.Errorf("%w: unrecognized private key of %d bytes", ErrInvalidKey, len(b))
	}
}

// ParseECDSAPrivateKey decodes a raw 32-byte secp256k1 key in hex, with or
// without a DER prefix.
func ParseECDSAPrivateKey(text string) (PrivateKey, error) {
	b, err := decodeHex(text)
	if err != nil {
		return PrivateKey{}, err
	}
	return ECDSAFromBytes(bytes.TrimPrefix(b, ecdsaPrivatePrefix))
}

func decodeHex(text string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimSpace(text), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return b, nil
}

func (k PrivateKey) IsZero() bool {
	return k.ed == nil && k.ec == nil
}

func (k PrivateKey) Algorithm() Algorithm {
	switch {
	case k.ed != nil:
		return AlgorithmEd25519
	case k.ec != nil:
		return AlgorithmECDSASecp256k1
	default:
		return AlgorithmUnknown
	}
}

// Sign signs message directly for Ed25519, and its Keccak-256 digest for
// ECDSA. ECDSA signatures are the 64-byte r||s form.
func (k PrivateKey) Sign(message []byte) ([]byte, error) {
	switch {
	case k.ed != nil:
		return ed25519.Sign(k.ed, message), nil
	case k.ec != nil:
		compact := ecdsa.SignCompact(k.ec, keccak256(message), true)
		// Drop the leading recovery code.
		return compact[1:], nil
	default:
		return nil, ErrNoKey
	}
}

func (k PrivateKey) PublicKey() PublicKey {
	switch {
	case k.ed != nil:
		return PublicKey{ed: k.ed.Public().(ed25519.PublicKey)}
	case k.ec != nil:
		return PublicKey{ec: k.ec.PubKey()}
	default:
		return PublicKey{}
	}
}

// Bytes returns the raw seed or scalar.
func (k PrivateKey) Bytes() []byte {
	switch {
	case k.ed != nil:
		return k.ed.Seed()
	case k.ec != nil:
		return k.ec.Serialize()
	default:
		return nil
	}
}

// StringRaw renders Bytes as hex.
func (k PrivateKey) StringRaw() string {
	return hex.EncodeToString(k.Bytes())
}

// String renders the DER-prefixed hex form, which ParsePrivateKey reads back
// without needing to be told the algorithm.
func (k PrivateKey) String() string {
	switch {
	case k.ed != nil:
		return hex.EncodeToString(append(bytes.Clone(ed25519PrivatePrefix), k.Bytes()...))
	case k.ec != nil:
		return hex.EncodeToString(append(bytes.Clone(ecdsaPrivatePrefix), k.Bytes()...))
	default:
		return ""
	}
}

func keccak256(message []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(message)
	return h.Sum(nil)
}
