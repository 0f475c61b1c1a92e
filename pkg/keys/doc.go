// Package keys provides the signing keys used for operator payments and
// transaction signatures: Ed25519 and ECDSA over secp256k1.
//
// Private keys parse from raw hex seeds, DER-prefixed hex, or a BIP-39
// mnemonic. Every PrivateKey satisfies the engine's Signer interface.
package keys
