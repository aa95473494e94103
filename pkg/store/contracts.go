// Package store defines the storage contracts spec §4.6 names (blocks,
// requests, signer decisions, DKG shares, rotate-keys transactions,
// sweep packages) as narrow Go interfaces, independent of the backing
// database. SQL schema/migrations are out of scope per spec §1; only
// the contracts and the query code that calls them live here.
package store

import (
	"context"

	"github.com/keep-network/sbtc-signer/pkg/chain"
	"github.com/keep-network/sbtc-signer/pkg/store/model"
)

// DbRead is every read-only query the signer/coordinator loops need.
type DbRead interface {
	BitcoinTip(ctx context.Context) (chain.BitcoinBlock, error)
	BitcoinAncestry(ctx context.Context, tip chain.Hash32, window int) ([]chain.BitcoinBlock, error)
	StacksTip(ctx context.Context, bitcoinTip chain.Hash32) (chain.StacksBlock, error)

	PendingDeposits(ctx context.Context) ([]model.DepositRequest, error)
	PendingWithdrawals(ctx context.Context) ([]model.WithdrawalRequest, error)
	DepositVotes(ctx context.Context, outpoint model.Outpoint) (model.SignerVotes, error)
	WithdrawalVotes(ctx context.Context, id model.QualifiedRequestID) (model.SignerVotes, error)

	LatestEncryptedDkgShares(ctx context.Context) (*model.EncryptedDkgShares, error)
	LatestRotateKeysTx(ctx context.Context) (*model.RotateKeysTx, error)
	LatestPackage(ctx context.Context) (*model.Package, error)

	SignerUtxoCandidates(ctx context.Context, aggregateKey [33]byte) ([]model.Outpoint, error)
}

// DbWrite is every mutation the signer/coordinator loops need. Writes
// are linearized per primary key by the underlying store (spec §5).
type DbWrite interface {
	RecordDecision(ctx context.Context, vote model.SignerVote, requestKey string) error
	RecordEncryptedDkgShares(ctx context.Context, shares *model.EncryptedDkgShares) error
	RecordRotateKeysTx(ctx context.Context, tx *model.RotateKeysTx) error
	RecordPackage(ctx context.Context, pkg *model.Package) error
	MarkBroadcast(ctx context.Context, sweep model.SweepTransaction) error
}

// Handle bundles DbRead and DbWrite behind one cheaply cloneable value,
// matching spec §5's "store handle: cheaply cloneable; the underlying
// pool controls connection concurrency."
type Handle interface {
	DbRead
	DbWrite
	Clone() Handle
}
