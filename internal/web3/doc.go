// Package web3 holds the Ethereum-flavoured primitives shared by every
// protocol component: the clock that supplies "now" from the ordering
// substrate, Keccak-256 packed hashing, and deterministic module addresses.
package web3
