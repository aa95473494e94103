package bitcoin

import (
	"crypto/sha256"
	"fmt"
)

// Errors returned while verifying a package commitment, adapted from the
// teacher's moving-funds commitment-hash recheck
// (ErrWrongCommitmentHash/ErrNotEnoughTargetWallets in the copied
// tbtcpg/moving_funds.go): both verify that a previously committed plan
// still matches a fresh recomputation before acting on it.
var (
	// ErrWrongCommitmentHash is returned when the hash of a recomputed
	// package does not match a previously committed package's hash.
	ErrWrongCommitmentHash = fmt.Errorf("package hash must match commitment hash")
	// ErrEmptyPackage is returned when a package commitment covers no
	// transactions at all.
	ErrEmptyPackage = fmt.Errorf("package commitment is empty")
)

// PackageCommitment is a hash over the request set of a package (see
// CommitPackage for the exact fields); it changes when that set
// changes. The coordinator neither records nor checks one.
type PackageCommitment [32]byte

// CommitPackage hashes the ordered outpoint/withdrawal-id contents of a
// package deterministically: transaction order, then deposit outpoints in
// package order, then withdrawal ids in package order. This intentionally
// ignores fees so that an RBF fee bump does not itself invalidate the
// commitment.
func CommitPackage(txs []TxRequestIDs) (PackageCommitment, error) {
	if len(txs) == 0 {
		return PackageCommitment{}, ErrEmptyPackage
	}
	h := sha256.New()
	for _, tx := range txs {
		for _, out := range tx.Deposits {
			h.Write(out.Txid.Bytes())
			writeUint32(h, out.Vout)
		}
		for _, id := range tx.Withdrawals {
			writeUint64(h, id.RequestID)
			h.Write(id.StacksTxid.Bytes())
		}
		h.Write([]byte{0xff}) // transaction boundary marker
	}
	var out PackageCommitment
	copy(out[:], h.Sum(nil))
	return out, nil
}

// VerifyCommitment recomputes the commitment for txs and compares it to
// committed, returning ErrWrongCommitmentHash on mismatch.
func VerifyCommitment(committed PackageCommitment, txs []TxRequestIDs) error {
	recomputed, err := CommitPackage(txs)
	if err != nil {
		return err
	}
	if recomputed != committed {
		return ErrWrongCommitmentHash
	}
	return nil
}

func writeUint32(w interface{ Write([]byte) (int, error) }, v uint32) {
	var b [4]byte
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
	w.Write(b[:])
}

func writeUint64(w interface{ Write([]byte) (int, error) }, v uint64) {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
	w.Write(b[:])
}
