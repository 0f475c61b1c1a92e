// Package entity provides the identifier values used to address ledger
// resources: accounts, files, contracts, tokens, topics, schedules and
// individual NFT instances.
//
// # Identity
//
// An ID is the tuple (shard, realm, num) plus a Kind tag and, for NFT
// instances, a serial. IDs are plain comparable values and may be used as
// map keys. Ordering via Compare is structural: shard, then realm, then
// num, then serial.
//
// # Text and wire forms
//
// The canonical text form is "shard.realm.num" ("shard.realm.num/serial" for
// NFTs). Parsing additionally accepts a "-checksum" suffix on the triple and
// "@" as the NFT serial separator. The byte form is a fixed-width big-endian
// triple, followed by the serial for NFTs.
//
// # Checksums
//
// A checksum is a 5-letter suffix derived from the triple and a LedgerID. It
// only exists to catch typos on the client side and never takes part in
// equality, ordering or hashing. Use ParseAddress to keep the checksum a user
// typed and Address.ValidateChecksum to verify it.
package entity
