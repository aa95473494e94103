package coordinator

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/keep-network/sbtc-signer/pkg/bitcoin"
	"github.com/keep-network/sbtc-signer/pkg/codec"
	signerctx "github.com/keep-network/sbtc-signer/pkg/context"
	"github.com/keep-network/sbtc-signer/pkg/dkg"
	"github.com/keep-network/sbtc-signer/pkg/signererrors"
	"github.com/keep-network/sbtc-signer/pkg/signing"
	"github.com/keep-network/sbtc-signer/pkg/store"
	"github.com/keep-network/sbtc-signer/pkg/store/model"
)

// Timing constants for each phase's gather timeout (spec §5: "Timeouts:
// configurable per phase"). These are the defaults; a Config may
// override them.
const (
	DefaultDkgPublicTimeout  = 30 * time.Second
	DefaultDkgPrivateTimeout = 30 * time.Second
	DefaultDkgEndTimeout     = 30 * time.Second
	DefaultNonceTimeout      = 15 * time.Second
	DefaultSignTimeout       = 30 * time.Second
)

// depositMass is the unit count a single deposit contributes to a
// package's mass budget (spec §4.2(b)); every deposit costs the same
// one unit regardless of amount.
const depositMass = 1

// Publisher broadcasts a canonical-encoded message under typeTag,
// embedding chainTip, matching pkg/net/libp2p.Overlay's Publish method.
type Publisher interface {
	Publish(ctx context.Context, typeTag string, payload []byte, chainTip [32]byte)
}

// Config parameterizes one coordinator loop instance.
type Config struct {
	SelfPublicKey    [33]byte
	SignerSet        [][33]byte
	Threshold        int
	MaxVotesAgainst  uint32
	MaxMass          uint16
	DkgPublicTimeout time.Duration
	SignTimeout      time.Duration
}

// activeSignRound is the in-flight per-transaction signing round this
// coordinator is driving, if any.
type activeSignRound struct {
	round        *signing.CoordinatorRound
	pkg          *bitcoin.CandidatePackage
	aggregateKey *btcec.PublicKey
	sweep        model.SweepTransaction
	chainTip     [32]byte
}

// Loop runs the coordinator role for as long as it holds tenure,
// implementing steps 1-5 of spec §4.7's coordinator loop; the step-6
// RBF replacement is not carried out here.
type Loop struct {
	cfg       Config
	ctx       *signerctx.Context
	store     store.Handle
	bitcoin   bitcoin.Client
	publisher Publisher

	mu        sync.Mutex
	dkgRound  *dkg.CoordinatorStateMachine
	signRound *activeSignRound
}

func NewLoop(cfg Config, signerCtx *signerctx.Context, storeHandle store.Handle, bitcoinClient bitcoin.Client, publisher Publisher) *Loop {
	return &Loop{cfg: cfg, ctx: signerCtx, store: storeHandle, bitcoin: bitcoinClient, publisher: publisher}
}

// Run drives one coordinator tick for the given chain tip, returning
// immediately (without error) if this signer does not hold tenure.
func (l *Loop) Run(ctx context.Context, chainTip [32]byte) error {
	if !IsElectedCoordinator(chainTip, l.cfg.SignerSet, l.cfg.SelfPublicKey) {
		return nil
	}

	// Step 1: resolve the active (K, signer_set, threshold) from the
	// latest EncryptedDkgShares, or initiate DKG if there is none.
	// Rotate-keys transactions are not consulted.
	shares, err := l.store.LatestEncryptedDkgShares(ctx)
	if err != nil {
		return signererrors.Wrap(signererrors.Transient, "resolve active dkg shares", err)
	}
	if shares == nil {
		logger.Info("no dkg shares on record, initiating dkg")
		return l.initiateDkg(ctx, chainTip)
	}

	l.mu.Lock()
	signRoundInFlight := l.signRound != nil
	l.mu.Unlock()
	if signRoundInFlight {
		logger.Debug("a signing round is already in flight, skipping this tick's packaging")
		return nil
	}

	// Step 2: fetch pending-accepted deposits and withdrawals.
	deposits, err := l.store.PendingDeposits(ctx)
	if err != nil {
		return signererrors.Wrap(signererrors.Transient, "fetch pending deposits", err)
	}
	withdrawals, err := l.store.PendingWithdrawals(ctx)
	if err != nil {
		return signererrors.Wrap(signererrors.Transient, "fetch pending withdrawals", err)
	}
	if len(deposits) == 0 && len(withdrawals) == 0 {
		return nil
	}

	// Step 3: run the vote-aware packager to obtain a package, each
	// item's vote bitmap drawn from the request's recorded signer
	// votes rather than a placeholder (spec §4.2(b)).
	items := make([]packable, 0, len(deposits))
	for _, d := range deposits {
		votes, err := l.store.DepositVotes(ctx, d.Outpoint)
		if err != nil {
			return signererrors.Wrap(signererrors.Transient, "fetch deposit votes", err)
		}
		hi, lo := votes.Bitmap(l.cfg.SignerSet)
		items = append(items, packable{deposit: d, votesHi: hi, votesLo: lo})
	}
	bags := bitcoin.PackByVotes(items, l.cfg.MaxVotesAgainst, l.cfg.MaxMass)
	if len(bags) == 0 {
		logger.Info("no bag survived packaging this tenure")
		return nil
	}

	// Steps 4-5: build the first bag's candidate sweep transaction,
	// start a signing round over it, and broadcast the sign request;
	// only one round runs at a time, so later bags wait for a
	// subsequent tick once this one completes and is broadcast.
	return l.beginSignRound(ctx, chainTip, shares, bags[0], withdrawals)
}

func (l *Loop) initiateDkg(ctx context.Context, chainTip [32]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dkgRound != nil {
		return signererrors.New(signererrors.Transient, "dkg initiation requested, awaiting round completion")
	}

	round := dkg.NewCoordinatorStateMachine()
	outgoing, err := round.Step(dkg.Begin{
		NumSigners: uint32(len(l.cfg.SignerSet)),
		Threshold:  uint32(l.cfg.Threshold),
	})
	if err != nil {
		return signererrors.Wrap(signererrors.Cryptographic, "begin dkg round", err)
	}
	l.dkgRound = round
	l.publishDkg(ctx, outgoing, chainTip)
	return nil
}

// beginSignRound resolves the current signer UTXO, builds the bag's
// unsigned sweep transaction, and starts a CoordinatorRound for its
// sighashes, broadcasting the resulting BitcoinTransactionSignRequest.
func (l *Loop) beginSignRound(ctx context.Context, chainTip [32]byte, shares *model.EncryptedDkgShares, bag []packable, withdrawals []model.WithdrawalRequest) error {
	candidates, err := l.store.SignerUtxoCandidates(ctx, shares.AggregateKey)
	if err != nil {
		return signererrors.Wrap(signererrors.Transient, "fetch signer utxo candidates", err)
	}
	if len(candidates) == 0 {
		return signererrors.New(signererrors.Consistency, "no signer utxo candidate on record")
	}
	// The store only records bare candidate outpoints (spec §4.6); full
	// resolution against bitcoin.ResolveSignerUtxo's confirmation/first-
	// output/not-later-spent filter needs confirmation-height and
	// spent-by metadata this contract does not expose, so the most
	// recently recorded candidate is used directly.
	utxoOutpoint := candidates[len(candidates)-1]

	out, err := l.bitcoin.GetTransactionOutput(ctx, utxoOutpoint, false)
	if err != nil {
		return signererrors.Wrap(signererrors.Transient, "fetch signer utxo output", err)
	}

	aggregateKey, err := btcec.ParsePubKey(shares.AggregateKey[:])
	if err != nil {
		return signererrors.Wrap(signererrors.Validation, "parse aggregate key", err)
	}

	signerUtxo := model.SignerUtxo{
		Outpoint:     utxoOutpoint,
		AmountSats:   out.AmountSats,
		AggregateKey: bitcoin.TweakedAggregateKey(aggregateKey),
	}

	feeRate, err := l.bitcoin.EstimateFeeRate(ctx)
	if err != nil {
		return signererrors.Wrap(signererrors.Transient, "estimate fee rate", err)
	}

	depositOutpoints := make([]model.Outpoint, 0, len(bag))
	var depositsSpent []model.Outpoint
	for _, item := range bag {
		depositOutpoints = append(depositOutpoints, item.deposit.Outpoint)
		depositsSpent = append(depositsSpent, item.deposit.Outpoint)
	}

	candidatePkg, err := bitcoin.BuildCandidatePackage(signerUtxo, depositOutpoints, withdrawals, aggregateKey, feeRate)
	if err != nil {
		return signererrors.Wrap(signererrors.Validation, "build candidate package", err)
	}

	var withdrawalsPaid []model.QualifiedRequestID
	for _, w := range withdrawals {
		withdrawalsPaid = append(withdrawalsPaid, w.ID)
	}

	round := signing.NewCoordinatorRound(len(candidatePkg.Tx.TxIn), l.cfg.Threshold, aggregateKey)

	l.mu.Lock()
	l.signRound = &activeSignRound{
		round:        round,
		pkg:          candidatePkg,
		aggregateKey: aggregateKey,
		chainTip:     chainTip,
		sweep: model.SweepTransaction{
			DepositsSpent:   depositsSpent,
			WithdrawalsPaid: withdrawalsPaid,
			ChainTip:        chainTip,
		},
	}
	l.mu.Unlock()

	var txBuf bytes.Buffer
	if err := candidatePkg.Tx.Serialize(&txBuf); err != nil {
		return signererrors.Wrap(signererrors.Validation, "serialize candidate transaction", err)
	}

	sighashes := make([][]byte, len(candidatePkg.Sighashes))
	for i, sh := range candidatePkg.Sighashes {
		sighashes[i] = append([]byte(nil), sh[:]...)
	}
	req := codec.BitcoinTransactionSignRequest{
		Tx:           txBuf.Bytes(),
		AggregateKey: append([]byte(nil), shares.AggregateKey[:]...),
		ChainTip:     append([]byte(nil), chainTip[:]...),
		Sighashes:    sighashes,
	}
	l.publisher.Publish(ctx, req.TypeTag(), codec.Encode(req), chainTip)
	logger.Infow("broadcast sign request", "inputs", len(candidatePkg.Tx.TxIn), "deposits", len(depositsSpent))
	return nil
}

// HandleGossipMessage decodes one inbound gossip message and steps
// whichever round (DKG or signing) it belongs to, publishing any
// messages the step produces.
func (l *Loop) HandleGossipMessage(ctx context.Context, typeTag string, payload []byte, chainTip [32]byte) error {
	switch typeTag {
	case (codec.DkgPublicSharesCommitment{}).TypeTag():
		var m codec.DkgPublicSharesCommitment
		if err := codec.Decode(payload, &m); err != nil {
			return signererrors.Wrap(signererrors.Cryptographic, "decode dkg public shares", err)
		}
		return l.stepDkgRound(ctx, dkg.PublicShares{SignerIndex: m.SignerIndex, Commitments: m.Commitments}, chainTip)

	case (codec.DkgPrivateShares{}).TypeTag():
		var m codec.DkgPrivateShares
		if err := codec.Decode(payload, &m); err != nil {
			return signererrors.Wrap(signererrors.Cryptographic, "decode dkg private shares", err)
		}
		return l.stepDkgRound(ctx, dkg.PrivateShares{SignerIndex: m.SignerIndex, Encrypted: m.Encrypted}, chainTip)

	case (codec.DkgEnd{}).TypeTag():
		var m codec.DkgEnd
		if err := codec.Decode(payload, &m); err != nil {
			return signererrors.Wrap(signererrors.Cryptographic, "decode dkg end", err)
		}
		var key [33]byte
		copy(key[:], m.AggregateKey)
		return l.stepDkgRound(ctx, dkg.End{SignerIndex: m.SignerIndex, AggregateKey: key}, chainTip)

	case (codec.SignAck{}).TypeTag():
		var m codec.SignAck
		if err := codec.Decode(payload, &m); err != nil {
			return signererrors.Wrap(signererrors.Cryptographic, "decode sign ack", err)
		}
		return l.stepSignRound(ctx, signing.Ack{SignerIndex: m.SignerIndex}, chainTip)

	case (codec.SignNonceCommit{}).TypeTag():
		var m codec.SignNonceCommit
		if err := codec.Decode(payload, &m); err != nil {
			return signererrors.Wrap(signererrors.Cryptographic, "decode sign nonce commit", err)
		}
		var nonce [33]byte
		copy(nonce[:], m.Nonce)
		return l.stepSignRound(ctx, signing.NonceCommit{SignerIndex: m.SignerIndex, InputIndex: m.InputIndex, Nonce: nonce}, chainTip)

	case (codec.SignShareCommit{}).TypeTag():
		var m codec.SignShareCommit
		if err := codec.Decode(payload, &m); err != nil {
			return signererrors.Wrap(signererrors.Cryptographic, "decode sign share commit", err)
		}
		var share [32]byte
		copy(share[:], m.Share)
		return l.stepSignRound(ctx, signing.ShareCommit{SignerIndex: m.SignerIndex, InputIndex: m.InputIndex, Share: share}, chainTip)

	default:
		return nil
	}
}

func (l *Loop) stepDkgRound(ctx context.Context, msg codec.ProtoSerializable, chainTip [32]byte) error {
	l.mu.Lock()
	round := l.dkgRound
	l.mu.Unlock()
	if round == nil {
		return nil
	}

	outgoing, err := round.Step(msg)
	if err != nil {
		return signererrors.Wrap(signererrors.Cryptographic, "step dkg round", err)
	}
	l.publishDkg(ctx, outgoing, chainTip)

	if round.Completed() {
		logger.Info("dkg round completed")
		l.mu.Lock()
		l.dkgRound = nil
		l.mu.Unlock()
		l.ctx.Signals.Publish(signerctx.RoundCompleted{})
	}
	return nil
}

func (l *Loop) stepSignRound(ctx context.Context, msg codec.ProtoSerializable, chainTip [32]byte) error {
	l.mu.Lock()
	active := l.signRound
	l.mu.Unlock()
	if active == nil {
		return nil
	}

	outgoing, err := active.round.Step(msg)
	if err != nil {
		return signererrors.Wrap(signererrors.Cryptographic, "step sign round", err)
	}
	for _, out := range outgoing {
		if _, ok := out.(signing.EndOfAcks); ok {
			wire := codec.SignEndOfAcks{}
			l.publisher.Publish(ctx, wire.TypeTag(), codec.Encode(wire), chainTip)
		}
	}
	if !active.round.Completed() {
		return nil
	}

	if err := l.finalizeSignRound(ctx, active); err != nil {
		return err
	}

	l.mu.Lock()
	l.signRound = nil
	l.mu.Unlock()
	l.ctx.Signals.Publish(signerctx.RoundCompleted{})
	return nil
}

// finalizeSignRound combines every input's signature shares, attaches
// the resulting witnesses, broadcasts the transaction, and records it
// as a package (spec §4.4 step 5, spec §4.7 step 5).
func (l *Loop) finalizeSignRound(ctx context.Context, active *activeSignRound) error {
	signatures := make([][]byte, len(active.pkg.Sighashes))
	for i := range active.pkg.Sighashes {
		sig, err := active.round.FinalSignature(uint32(i))
		if err != nil {
			return signererrors.Wrap(signererrors.Consistency, "finalize input signature", err)
		}
		signatures[i] = sig.Serialize()
	}
	if err := bitcoin.AttachKeyPathWitnesses(active.pkg.Tx, signatures); err != nil {
		return signererrors.Wrap(signererrors.Validation, "attach witnesses", err)
	}

	var txBuf bytes.Buffer
	if err := active.pkg.Tx.Serialize(&txBuf); err != nil {
		return signererrors.Wrap(signererrors.Validation, "serialize signed transaction", err)
	}
	if err := l.bitcoin.BroadcastTransaction(ctx, txBuf.Bytes()); err != nil {
		return signererrors.Wrap(signererrors.Transient, "broadcast signed transaction", err)
	}

	fee, err := l.bitcoin.CalculateTransactionFee(ctx, txBuf.Bytes())
	if err != nil {
		return signererrors.Wrap(signererrors.Transient, "calculate broadcast fee", err)
	}

	sweep := active.sweep
	copy(sweep.Txid[:], active.pkg.Tx.TxHash().CloneBytes())
	sweep.FeeSats = fee
	if err := l.store.RecordPackage(ctx, &model.Package{
		BitcoinChainTip: active.chainTip,
		Transactions:    []model.SweepTransaction{sweep},
	}); err != nil {
		return signererrors.Wrap(signererrors.Transient, "record package", err)
	}
	if err := l.store.MarkBroadcast(ctx, sweep); err != nil {
		return signererrors.Wrap(signererrors.Transient, "mark broadcast", err)
	}

	logger.Infow("broadcast signed sweep transaction", "fee_sats", fee, "inputs", len(signatures))
	return nil
}

// publishDkg re-encodes and broadcasts every DKG domain message a
// Step produced.
func (l *Loop) publishDkg(ctx context.Context, outgoing []codec.ProtoSerializable, chainTip [32]byte) {
	for _, msg := range outgoing {
		switch m := msg.(type) {
		case dkg.Begin:
			wire := codec.DkgBegin{NumSigners: m.NumSigners, Threshold: m.Threshold}
			l.publisher.Publish(ctx, wire.TypeTag(), codec.Encode(wire), chainTip)
		case dkg.EndBegin:
			wire := codec.DkgEndBegin{}
			l.publisher.Publish(ctx, wire.TypeTag(), codec.Encode(wire), chainTip)
		default:
			logger.Warnw("dropping unrecognized outgoing dkg message", "type", m)
		}
	}
}

// packable adapts a pending deposit to bitcoin.Weighted2 for the
// vote-aware packager, carrying the request's real recorded vote
// bitmap (spec §4.2(b)) rather than a synthetic placeholder.
type packable struct {
	deposit model.DepositRequest
	votesHi uint64
	votesLo uint64
}

func (p packable) VotesHiLo() (uint64, uint64) { return p.votesHi, p.votesLo }
func (p packable) Mass() uint16                { return depositMass }
func (p packable) Vsize() uint64               { return bitcoin.DepositInputVsizeEstimate }

