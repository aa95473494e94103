// Package model defines the persistent entities of spec §3: chain blocks,
// deposit/withdrawal requests, signer votes, DKG key material, and
// packages. The store (pkg/store) owns these; this package only describes
// their shape and invariants.
package model

import (
	"github.com/keep-network/sbtc-signer/pkg/chain"
)

// Outpoint identifies a bitcoin UTXO.
type Outpoint struct {
	Txid chain.Hash32
	Vout uint32
}

// QualifiedRequestID is the natural key of a withdrawal request.
type QualifiedRequestID struct {
	RequestID uint64
	StacksTxid chain.Hash32
	StacksBlockHash chain.Hash32
}

// DepositConfirmationStatus mirrors
// original_source/signer/src/bitcoin/validation.rs's
// DepositConfirmationStatus enum.
type DepositConfirmationStatus int

const (
	DepositUnconfirmed DepositConfirmationStatus = iota
	DepositConfirmed
	DepositSpent
)

// DepositRequest is the (btc_txid, vout)-keyed request entity of spec §3.
type DepositRequest struct {
	Outpoint           Outpoint
	Amount             uint64
	MaxFee             uint64
	DepositScript      []byte
	ReclaimScript      []byte
	LockTimeBlocks     uint32
	LockTimeIsBlocks   bool
	RecipientPrincipal string
	SignersPublicKey   [32]byte // x-only
}

// WithdrawalRequest is the (request_id, stx_txid, stx_block)-keyed request
// entity of spec §3.
type WithdrawalRequest struct {
	ID            QualifiedRequestID
	Amount        uint64
	MaxFee        uint64
	ScriptPubkey  []byte
}

// SignerVote is a signer-local, gossiped (request, signer_pubkey) vote.
type SignerVote struct {
	SignerPublicKey [33]byte
	CanAccept       bool
	CanSign         bool
}

// SignerVotes aggregates individual SignerVote rows for one request into
// the 128-bit bitmap used by the packager (bit i set ⇔ signer i voted
// against, per the glossary; a signer with no recorded vote also counts
// as against).
type SignerVotes []SignerVote

// Bitmap computes the vote-against bitmap given a stable signer ordering.
// order[i] identifies the signer whose vote maps to bit i.
func (v SignerVotes) Bitmap(order [][33]byte) (hi, lo uint64) {
	voted := make(map[[33]byte]SignerVote, len(v))
	for _, sv := range v {
		voted[sv.SignerPublicKey] = sv
	}
	for i, pub := range order {
		if i >= 128 {
			break
		}
		sv, ok := voted[pub]
		against := !ok || !sv.CanAccept || !sv.CanSign
		if !against {
			continue
		}
		if i < 64 {
			lo |= 1 << uint(i)
		} else {
			hi |= 1 << uint(i-64)
		}
	}
	return hi, lo
}

// EncryptedDkgShares is one row per successful DKG, keyed by aggregate
// key. It is owned by the signer that generated it (encrypted with its
// own key).
type EncryptedDkgShares struct {
	AggregateKey       [33]byte
	TweakedAggregate   [32]byte // x-only, BIP-341 tweaked
	ScriptPubkey       []byte
	SignerSetPublicKeys [][33]byte
	Threshold          uint32
	EncryptedPrivateShare []byte
}

// RotateKeysTx is the on-chain record of the active signing set.
type RotateKeysTx struct {
	StacksTxid      chain.Hash32
	AggregateKey    [33]byte
	SignerSet       [][33]byte
	Threshold       uint32
}

// SweepTransaction is a signer-produced bitcoin transaction.
type SweepTransaction struct {
	Txid            chain.Hash32
	DepositsSpent   []Outpoint
	WithdrawalsPaid []QualifiedRequestID
	FeeSats         uint64
	ChainTip        chain.Hash32
}

// Package is an ordered list of SweepTransactions to broadcast together.
type Package struct {
	BitcoinChainTip chain.Hash32
	Transactions    []SweepTransaction
	// LastFees holds the RBF fee metadata (total sats, sat/vB) of the
	// prior broadcast attempt for the same chain tip, or nil if this is
	// the first attempt.
	LastFees *RBFFees
}

// RBFFees carries the prior package's total fee and fee rate so a
// replacement package's first-transaction fee can be required to exceed
// both (spec §7 RBF policy).
type RBFFees struct {
	TotalSats uint64
	SatPerVB  float64
}

// SignerUtxo is the unique unspent output the signer set controls at a
// chain tip.
type SignerUtxo struct {
	Outpoint     Outpoint
	AmountSats   uint64
	AggregateKey [32]byte // x-only
}
