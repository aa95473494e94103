// Package coordinator implements the per-tenure coordinator role of
// spec §4.7: exactly one signer per bitcoin chain tip drives DKG and
// transaction signing; every other signer acts as a participant.
package coordinator

import (
	"bytes"
	"crypto/sha256"

	logging "github.com/ipfs/go-log/v2"
)

var logger = logging.Logger("sbtc-signer:coordinator")

// ElectTenure picks the coordinator for chainTip out of signerSet
// deterministically: the signer whose public key hashes to the
// smallest digest bound to the tip (spec §4.4: "deterministically
// elected as the signer whose public key hashes to the smallest digest
// bound to the current bitcoin chain tip"). Adapted from the teacher's
// sortition-pool tenure-selection idiom (smallest-weighted-hash-wins),
// here applied over a fixed signing set rather than an on-chain
// sortition pool.
func ElectTenure(chainTip [32]byte, signerSet [][33]byte) [33]byte {
	var winner [33]byte
	var winnerDigest [32]byte
	first := true

	for _, candidate := range signerSet {
		digest := tenureDigest(chainTip, candidate)
		if first || bytes.Compare(digest[:], winnerDigest[:]) < 0 {
			winner = candidate
			winnerDigest = digest
			first = false
		}
	}
	return winner
}

// IsElectedCoordinator reports whether self is the elected coordinator
// for chainTip among signerSet.
func IsElectedCoordinator(chainTip [32]byte, signerSet [][33]byte, self [33]byte) bool {
	return ElectTenure(chainTip, signerSet) == self
}

func tenureDigest(chainTip [32]byte, signerPublicKey [33]byte) [32]byte {
	h := sha256.New()
	h.Write(chainTip[:])
	h.Write(signerPublicKey[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
