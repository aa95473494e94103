// Package postgres implements pkg/store's contracts on top of
// jackc/pgx/v5, the same Postgres driver the rest of the pack's
// storage-heavy repos standardize on. SQL schema/migrations are out of
// scope per spec §1; this package only issues the queries the store
// contracts require against an assumed-present schema.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keep-network/sbtc-signer/pkg/chain"
	"github.com/keep-network/sbtc-signer/pkg/signererrors"
	"github.com/keep-network/sbtc-signer/pkg/store"
	"github.com/keep-network/sbtc-signer/pkg/store/model"
)

// Store implements store.Handle against a Postgres connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against dsn and verifies connectivity, failing
// fast with a Configuration error per spec §7 ("invalid endpoints or
// key material; fail-fast at startup").
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Configuration, "open postgres pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, signererrors.Wrap(signererrors.Configuration, "ping postgres", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Clone() store.Handle { return &Store{pool: s.pool} }

func (s *Store) BitcoinTip(ctx context.Context) (chain.BitcoinBlock, error) {
	var b chain.BitcoinBlock
	var hashBytes, parentBytes []byte
	row := s.pool.QueryRow(ctx, `
		SELECT block_hash, parent_hash, block_height
		FROM bitcoin_blocks
		ORDER BY block_height DESC, block_hash DESC
		LIMIT 1`)
	if err := row.Scan(&hashBytes, &parentBytes, &b.Height); err != nil {
		return chain.BitcoinBlock{}, signererrors.Wrap(signererrors.Transient, "query bitcoin tip", err)
	}
	copy(b.Hash[:], hashBytes)
	copy(b.Parent[:], parentBytes)
	return b, nil
}

func (s *Store) BitcoinAncestry(ctx context.Context, tip chain.Hash32, window int) ([]chain.BitcoinBlock, error) {
	rows, err := s.pool.Query(ctx, `
		WITH RECURSIVE ancestry AS (
			SELECT block_hash, parent_hash, block_height, 0 AS depth
			FROM bitcoin_blocks WHERE block_hash = $1
			UNION ALL
			SELECT b.block_hash, b.parent_hash, b.block_height, a.depth + 1
			FROM bitcoin_blocks b
			JOIN ancestry a ON b.block_hash = a.parent_hash
			WHERE a.depth + 1 < $2
		)
		SELECT block_hash, parent_hash, block_height FROM ancestry ORDER BY depth`,
		tip[:], window)
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Transient, "query bitcoin ancestry", err)
	}
	defer rows.Close()

	var out []chain.BitcoinBlock
	for rows.Next() {
		var b chain.BitcoinBlock
		var hashBytes, parentBytes []byte
		if err := rows.Scan(&hashBytes, &parentBytes, &b.Height); err != nil {
			return nil, signererrors.Wrap(signererrors.Transient, "scan bitcoin ancestry row", err)
		}
		copy(b.Hash[:], hashBytes)
		copy(b.Parent[:], parentBytes)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) StacksTip(ctx context.Context, bitcoinTip chain.Hash32) (chain.StacksBlock, error) {
	var b chain.StacksBlock
	var hashBytes, parentBytes, anchorBytes []byte
	row := s.pool.QueryRow(ctx, `
		SELECT block_hash, parent_hash, bitcoin_anchor, block_height
		FROM stacks_blocks
		WHERE bitcoin_anchor = $1
		ORDER BY block_height DESC
		LIMIT 1`, bitcoinTip[:])
	if err := row.Scan(&hashBytes, &parentBytes, &anchorBytes, &b.Height); err != nil {
		return chain.StacksBlock{}, signererrors.Wrap(signererrors.Transient, "query stacks tip", err)
	}
	copy(b.Hash[:], hashBytes)
	copy(b.ParentHash[:], parentBytes)
	copy(b.BitcoinAnchor[:], anchorBytes)
	return b, nil
}

// PendingDeposits returns every confirmed deposit that has accumulated
// at least a threshold of positive (can_accept AND can_sign) votes
// under the active signing set's threshold and has not yet been
// included in a broadcast sweep (spec §4.6 "pending-accepted":
// "requests with >= threshold positive votes and no prior sweep").
// "Swept" is read from swept_deposits; this store's MarkBroadcast
// returns a not-wired error and does not write to it.
func (s *Store) PendingDeposits(ctx context.Context) ([]model.DepositRequest, error) {
	rows, err := s.pool.Query(ctx, `
		WITH current_threshold AS (
			SELECT threshold FROM encrypted_dkg_shares ORDER BY created_at DESC LIMIT 1
		), accepted_votes AS (
			SELECT txid, vout, COUNT(*) AS accepted
			FROM deposit_signer_decisions
			WHERE can_accept AND can_sign
			GROUP BY txid, vout
		)
		SELECT d.txid, d.vout, d.amount_sats, d.max_fee_sats, d.deposit_script,
			d.reclaim_script, d.lock_time_blocks, d.lock_time_is_blocks,
			d.recipient_principal, d.signers_public_key
		FROM deposit_requests d
		JOIN accepted_votes v ON v.txid = d.txid AND v.vout = d.vout
		CROSS JOIN current_threshold t
		WHERE d.confirmation_status = $1
			AND v.accepted >= t.threshold
			AND NOT EXISTS (
				SELECT 1 FROM swept_deposits sd
				WHERE sd.txid = d.txid AND sd.vout = d.vout
			)`, model.DepositConfirmed)
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Transient, "query pending deposits", err)
	}
	defer rows.Close()

	var out []model.DepositRequest
	for rows.Next() {
		var d model.DepositRequest
		var txid, signersPubkey []byte
		if err := rows.Scan(&txid, &d.Outpoint.Vout, &d.Amount, &d.MaxFee, &d.DepositScript,
			&d.ReclaimScript, &d.LockTimeBlocks, &d.LockTimeIsBlocks,
			&d.RecipientPrincipal, &signersPubkey); err != nil {
			return nil, signererrors.Wrap(signererrors.Transient, "scan pending deposit row", err)
		}
		copy(d.Outpoint.Txid[:], txid)
		copy(d.SignersPublicKey[:], signersPubkey)
		out = append(out, d)
	}
	return out, rows.Err()
}

// PendingWithdrawals is PendingDeposits's withdrawal-request analog,
// voted on via withdrawal_signer_decisions and swept via
// swept_withdrawals.
func (s *Store) PendingWithdrawals(ctx context.Context) ([]model.WithdrawalRequest, error) {
	rows, err := s.pool.Query(ctx, `
		WITH current_threshold AS (
			SELECT threshold FROM encrypted_dkg_shares ORDER BY created_at DESC LIMIT 1
		), accepted_votes AS (
			SELECT request_id, stacks_txid, stacks_block_hash, COUNT(*) AS accepted
			FROM withdrawal_signer_decisions
			WHERE can_accept AND can_sign
			GROUP BY request_id, stacks_txid, stacks_block_hash
		)
		SELECT w.request_id, w.stacks_txid, w.stacks_block_hash, w.amount_sats,
			w.max_fee_sats, w.script_pubkey
		FROM withdrawal_requests w
		JOIN accepted_votes v
			ON v.request_id = w.request_id
			AND v.stacks_txid = w.stacks_txid
			AND v.stacks_block_hash = w.stacks_block_hash
		CROSS JOIN current_threshold t
		WHERE w.confirmation_status = $1
			AND v.accepted >= t.threshold
			AND NOT EXISTS (
				SELECT 1 FROM swept_withdrawals sw
				WHERE sw.request_id = w.request_id
					AND sw.stacks_txid = w.stacks_txid
					AND sw.stacks_block_hash = w.stacks_block_hash
			)`, model.DepositConfirmed)
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Transient, "query pending withdrawals", err)
	}
	defer rows.Close()

	var out []model.WithdrawalRequest
	for rows.Next() {
		var w model.WithdrawalRequest
		var stacksTxid, stacksBlockHash []byte
		if err := rows.Scan(&w.ID.RequestID, &stacksTxid, &stacksBlockHash, &w.Amount,
			&w.MaxFee, &w.ScriptPubkey); err != nil {
			return nil, signererrors.Wrap(signererrors.Transient, "scan pending withdrawal row", err)
		}
		copy(w.ID.StacksTxid[:], stacksTxid)
		copy(w.ID.StacksBlockHash[:], stacksBlockHash)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) DepositVotes(ctx context.Context, outpoint model.Outpoint) (model.SignerVotes, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT signer_public_key, can_accept, can_sign
		FROM deposit_signer_decisions
		WHERE txid = $1 AND vout = $2`, outpoint.Txid[:], outpoint.Vout)
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Transient, "query deposit votes", err)
	}
	defer rows.Close()

	var votes model.SignerVotes
	for rows.Next() {
		var v model.SignerVote
		var pub []byte
		if err := rows.Scan(&pub, &v.CanAccept, &v.CanSign); err != nil {
			return nil, signererrors.Wrap(signererrors.Transient, "scan deposit vote row", err)
		}
		copy(v.SignerPublicKey[:], pub)
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

func (s *Store) WithdrawalVotes(ctx context.Context, id model.QualifiedRequestID) (model.SignerVotes, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT signer_public_key, can_accept, can_sign
		FROM withdrawal_signer_decisions
		WHERE request_id = $1 AND stacks_txid = $2 AND stacks_block_hash = $3`,
		id.RequestID, id.StacksTxid[:], id.StacksBlockHash[:])
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Transient, "query withdrawal votes", err)
	}
	defer rows.Close()

	var votes model.SignerVotes
	for rows.Next() {
		var v model.SignerVote
		var pub []byte
		if err := rows.Scan(&pub, &v.CanAccept, &v.CanSign); err != nil {
			return nil, signererrors.Wrap(signererrors.Transient, "scan withdrawal vote row", err)
		}
		copy(v.SignerPublicKey[:], pub)
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

func (s *Store) LatestEncryptedDkgShares(ctx context.Context) (*model.EncryptedDkgShares, error) {
	var shares model.EncryptedDkgShares
	var aggregate, tweaked, script []byte
	row := s.pool.QueryRow(ctx, `
		SELECT aggregate_key, tweaked_aggregate_key, script_pubkey, threshold, encrypted_private_share
		FROM encrypted_dkg_shares
		ORDER BY created_at DESC
		LIMIT 1`)
	if err := row.Scan(&aggregate, &tweaked, &script, &shares.Threshold, &shares.EncryptedPrivateShare); err != nil {
		return nil, signererrors.Wrap(signererrors.Transient, "query latest dkg shares", err)
	}
	copy(shares.AggregateKey[:], aggregate)
	copy(shares.TweakedAggregate[:], tweaked)
	shares.ScriptPubkey = script
	return &shares, nil
}

func (s *Store) LatestRotateKeysTx(ctx context.Context) (*model.RotateKeysTx, error) {
	return nil, fmt.Errorf("postgres: LatestRotateKeysTx query not wired to a concrete schema")
}

func (s *Store) LatestPackage(ctx context.Context) (*model.Package, error) {
	return nil, fmt.Errorf("postgres: LatestPackage query not wired to a concrete schema")
}

func (s *Store) SignerUtxoCandidates(ctx context.Context, aggregateKey [33]byte) ([]model.Outpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT txid, vout
		FROM signer_utxo_candidates
		WHERE aggregate_key = $1`, aggregateKey[:])
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Transient, "query signer utxo candidates", err)
	}
	defer rows.Close()

	var out []model.Outpoint
	for rows.Next() {
		var o model.Outpoint
		var txid []byte
		if err := rows.Scan(&txid, &o.Vout); err != nil {
			return nil, signererrors.Wrap(signererrors.Transient, "scan signer utxo candidate row", err)
		}
		copy(o.Txid[:], txid)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) RecordDecision(ctx context.Context, vote model.SignerVote, requestKey string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO signer_decisions (request_key, signer_public_key, can_accept, can_sign)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_key, signer_public_key) DO UPDATE
		SET can_accept = EXCLUDED.can_accept, can_sign = EXCLUDED.can_sign`,
		requestKey, vote.SignerPublicKey[:], vote.CanAccept, vote.CanSign)
	if err != nil {
		return signererrors.Wrap(signererrors.Transient, "record signer decision", err)
	}
	return nil
}

func (s *Store) RecordEncryptedDkgShares(ctx context.Context, shares *model.EncryptedDkgShares) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO encrypted_dkg_shares
			(aggregate_key, tweaked_aggregate_key, script_pubkey, threshold, encrypted_private_share)
		VALUES ($1, $2, $3, $4, $5)`,
		shares.AggregateKey[:], shares.TweakedAggregate[:], shares.ScriptPubkey,
		shares.Threshold, shares.EncryptedPrivateShare)
	if err != nil {
		return signererrors.Wrap(signererrors.Transient, "record encrypted dkg shares", err)
	}
	return nil
}

func (s *Store) RecordRotateKeysTx(ctx context.Context, tx *model.RotateKeysTx) error {
	return fmt.Errorf("postgres: RecordRotateKeysTx not wired to a concrete schema")
}

func (s *Store) RecordPackage(ctx context.Context, pkg *model.Package) error {
	return fmt.Errorf("postgres: RecordPackage not wired to a concrete schema")
}

func (s *Store) MarkBroadcast(ctx context.Context, sweep model.SweepTransaction) error {
	return fmt.Errorf("postgres: MarkBroadcast not wired to a concrete schema")
}
