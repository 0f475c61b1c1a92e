package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// PublicKey verifies signatures produced by the matching PrivateKey.
type PublicKey struct {
	ed ed25519.PublicKey
	ec *secp256k1.PublicKey
}

// ParsePublicKey decodes hex text: DER-prefixed for either algorithm, a raw
// 32-byte Ed25519 key, or a 33-byte compressed secp256k1 point.
func ParsePublicKey(text string) (PublicKey, error) {
	b, err := decodeHex(text)
	if err != nil {
		return PublicKey{}, err
	}
	switch {
	case bytes.HasPrefix(b, ed25519PublicPrefix):
		return PublicKeyFromBytes(AlgorithmEd25519, b[len(ed25519PublicPrefix):])
	case bytes.HasPrefix(b, ecdsaPublicPrefix):
		return PublicKeyFromBytes(AlgorithmECDSASecp256k1, b[len(ecdsaPublicPrefix):])
	case len(b) == ed25519.PublicKeySize:
		return PublicKeyFromBytes(AlgorithmEd25519, b)
	case len(b) == secp256k1.PubKeyBytesLenCompressed:
		return PublicKeyFromBytes(AlgorithmECDSASecp256k1, b)
	default:
		return PublicKey{}, fmt.Errorf("%w: unrecognized public key of %d bytes", ErrInvalidKey, len(b))
	}
}

// PublicKeyFromBytes decodes the raw key for the given algorithm, as
// returned by PublicKey.Bytes.
func PublicKeyFromBytes(alg Algorithm, b []byte) (PublicKey, error) {
	switch alg {
	case AlgorithmEd25519:
		if len(b) != ed25519.PublicKeySize {
			return PublicKey{}, fmt.Errorf("%w: ed25519 public key must be %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(b))
		}
		return PublicKey{ed: ed25519.PublicKey(bytes.Clone(b))}, nil
	case AlgorithmECDSASecp256k1:
		pub, err := secp256k1.ParsePubKey(b)
		if err != nil {
			return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return PublicKey{ec: pub}, nil
	default:
		return PublicKey{}, fmt.Errorf("%w: unsupported algorithm %s", ErrInvalidKey, alg)
	}
}

func (p PublicKey) IsZero() bool {
	return p.ed == nil && p.ec == nil
}

func (p PublicKey) Algorithm() Algorithm {
	switch {
	case p.ed != nil:
		return AlgorithmEd25519
	case p.ec != nil:
		return AlgorithmECDSASecp256k1
	default:
		return AlgorithmUnknown
	}
}

// Bytes returns the raw key; secp256k1 points are compressed.
func (p PublicKey) Bytes() []byte {
	switch {
	case p.ed != nil:
		return bytes.Clone(p.ed)
	case p.ec != nil:
		return p.ec.SerializeCompressed()
	default:
		return nil
	}
}

// String renders the DER-prefixed hex form.
func (p PublicKey) String() string {
	switch {
	case p.ed != nil:
		return hex.EncodeToString(append(bytes.Clone(ed25519PublicPrefix), p.ed...))
	case p.ec != nil:
		return hex.EncodeToString(append(bytes.Clone(ecdsaPublicPrefix), p.ec.SerializeCompressed()...))
	default:
		return ""
	}
}

func (p PublicKey) StringRaw() string {
	return hex.EncodeToString(p.Bytes())
}

func (p PublicKey) Equal(other PublicKey) bool {
	return p.Algorithm() == other.Algorithm() && bytes.Equal(p.Bytes(), other.Bytes())
}

// Verify checks a signature produced by PrivateKey.Sign over message.
func (p PublicKey) Verify(message, sig []byte) bool {
	switch {
	case p.ed != nil:
		return len(sig) == ed25519.SignatureSize && ed25519.Verify(p.ed, message, sig)
	case p.ec != nil:
		if len(sig) != 64 {
			return false
		}
		var r, s secp256k1.ModNScalar
		if r.SetByteSlice(sig[:32]) || s.SetByteSlice(sig[32:]) {
			return false
		}
		return ecdsa.NewSignature(&r, &s).Verify(keccak256(message), p.ec)
	default:
		return false
	}
}
