package keys

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// ErrInvalidMnemonic is returned for phrases that fail the BIP-39 checksum.
var ErrInvalidMnemonic = errors.New("keys: invalid mnemonic")

const hardened = 0x80000000

// Derivation path m/44'/3030'/0'/0'/index'. SLIP-10 only defines hardened
// children for Ed25519.
var derivationPath = []uint32{44, 3030, 0, 0}

// NewMnemonic returns a fresh 24-word phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// FromMnemonic derives the Ed25519 key at the given account index.
func FromMnemonic(mnemonic, passphrase string, index uint32) (PrivateKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return PrivateKey{}, ErrInvalidMnemonic
	}
	if index >= hardened {
		return PrivateKey{}, fmt.Errorf("keys: index %d out of range", index)
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	key, chain := slip10Master(seed)
	for _, i := range append(derivationPath, index) {
		key, chain = slip10Child(key, chain, i|hardened)
	}
	return Ed25519FromSeed(key)
}

func slip10Master(seed []byte) (key, chain []byte) {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

func slip10Child(key, chain []byte, index uint32) ([]byte, []byte) {
	data := make([]byte, 0, 37)
	data = append(data, 0)
	data = append(data, key...)
	data = binary.BigEndian.AppendUint32(data, index)

	mac := hmac.New(sha512.New, chain)
	mac.Write(data)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}
