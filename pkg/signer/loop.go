// Package signer implements the participant-role event loop of spec
// §4.7: on every new canonical bitcoin block, record a
// (can_accept, can_sign) decision for each pending deposit (decisions
// are not gossiped); on a coordinator sign request, ACK without
// validating the transaction; participate in the DKG and signing state
// machines.
package signer

import (
	"context"
	"strconv"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	logging "github.com/ipfs/go-log/v2"

	"github.com/keep-network/sbtc-signer/pkg/bitcoin"
	"github.com/keep-network/sbtc-signer/pkg/codec"
	signerctx "github.com/keep-network/sbtc-signer/pkg/context"
	"github.com/keep-network/sbtc-signer/pkg/dkg"
	"github.com/keep-network/sbtc-signer/pkg/generator"
	"github.com/keep-network/sbtc-signer/pkg/signererrors"
	"github.com/keep-network/sbtc-signer/pkg/signing"
	"github.com/keep-network/sbtc-signer/pkg/store"
	"github.com/keep-network/sbtc-signer/pkg/store/model"
)

var logger = logging.Logger("sbtc-signer:signer")

// noncePoolTargetSize is how many Schnorr nonces pkg/generator keeps
// prefetched so a signing round's nonce-commit step never blocks on
// fresh randomness (spec §4.4 step 3).
const noncePoolTargetSize = 8

// Blocklist checks a Stacks address against the external risk-scoring
// service (spec §6 blocklist client); Severe risk means not accepted.
type Blocklist interface {
	IsAccepted(ctx context.Context, stacksAddress string) (bool, error)
}

// Publisher broadcasts a canonical-encoded message under typeTag,
// embedding chainTip, matching pkg/net/libp2p.Overlay's Publish method.
type Publisher interface {
	Publish(ctx context.Context, typeTag string, payload []byte, chainTip [32]byte)
}

// Loop runs the participant role: deciding on new requests and
// responding to coordinator DKG and sign requests.
type Loop struct {
	selfPublicKey   [33]byte
	selfSignerIndex uint32
	signerSet       [][33]byte
	threshold       int

	networkKey *btcec.PrivateKey

	store     store.Handle
	bitcoin   bitcoin.Client
	blocklist Blocklist
	publisher Publisher
	ctx       *signerctx.Context

	shareCipher *shareCipher
	scheduler   *generator.Scheduler
	noncePool   *generator.ParameterPool[generator.Nonce]

	mu                 sync.Mutex
	dkgRound           *dkg.ParticipantStateMachine
	signRound          *signing.ParticipantRound
	privateShareScalar *btcec.ModNScalar
}

// NewLoop builds a participant loop bound to this signer's index within
// signerSet and its long-term networkKey, the same key material the
// DKG/signing state machines and dkg share encryption are grounded on.
func NewLoop(
	selfPublicKey [33]byte,
	selfSignerIndex uint32,
	signerSet [][33]byte,
	threshold int,
	networkKey *btcec.PrivateKey,
	signerCtx *signerctx.Context,
	storeHandle store.Handle,
	bitcoinClient bitcoin.Client,
	blocklist Blocklist,
	publisher Publisher,
) (*Loop, error) {
	cipher, err := newShareCipher(networkKey)
	if err != nil {
		return nil, err
	}

	scheduler := &generator.Scheduler{}
	noncePool := generator.NewNoncePool(scheduler, noncePoolTargetSize)

	return &Loop{
		selfPublicKey:   selfPublicKey,
		selfSignerIndex: selfSignerIndex,
		signerSet:       signerSet,
		threshold:       threshold,
		networkKey:      networkKey,
		store:           storeHandle,
		bitcoin:         bitcoinClient,
		blocklist:       blocklist,
		publisher:       publisher,
		ctx:             signerCtx,
		shareCipher:     cipher,
		scheduler:       scheduler,
		noncePool:       noncePool,
	}, nil
}

// OnNewBlock asks the blocklist client about the recipient of every
// deposit the store reports as pending and records this signer's
// (can_accept, can_sign) decision, publishing a DecisionRecorded signal
// on the local signal bus (spec §4.7). Withdrawals are not decided here,
// a deposit that already has a recorded decision is asked about again,
// and decisions are not gossiped to other signers.
func (l *Loop) OnNewBlock(ctx context.Context, chainTipHeight uint64) error {
	deposits, err := l.store.PendingDeposits(ctx)
	if err != nil {
		return err
	}

	for _, d := range deposits {
		accepted, err := l.blocklist.IsAccepted(ctx, d.RecipientPrincipal)
		if err != nil {
			logger.Warnw("blocklist check failed, deferring decision", "outpoint", d.Outpoint, "err", err)
			continue
		}

		vote := model.SignerVote{
			SignerPublicKey: l.selfPublicKey,
			CanAccept:       accepted,
			CanSign:         accepted,
		}
		if err := l.store.RecordDecision(ctx, vote, requestKeyForDeposit(d.Outpoint)); err != nil {
			return err
		}
		l.ctx.Signals.Publish(signerctx.DecisionRecorded{RequestKey: requestKeyForDeposit(d.Outpoint)})
	}

	return nil
}

// OnSignRequest runs deposit validation (spec §4.1) over the given
// reports and transaction fee at chainTipHeight, reporting whether this
// participant would ACK the request; it reads nothing from the local
// store. Kept separate from the gossip-driven signing round below,
// which does not call it: this checks
// per-deposit validity against reports/fees the wire SignRequest
// message does not itself carry.
func (l *Loop) OnSignRequest(ctx context.Context, chainTipHeight uint64, reports []*bitcoin.DepositRequestReport, fees bitcoin.FeeAssessor, txFeeSats uint64) bool {
	v := bitcoin.ValidateTransaction(chainTipHeight, fees, txFeeSats, reports, nil)
	return v.Valid
}

// HandleGossipMessage decodes one inbound gossip message and steps
// whichever round (DKG or signing) it belongs to, publishing any
// messages the step produces. A signer ignores echoes of its own
// DKG broadcasts, since it already folded them into its local state
// when it emitted them.
func (l *Loop) HandleGossipMessage(ctx context.Context, typeTag string, payload []byte, chainTip [32]byte) error {
	switch typeTag {
	case (codec.DkgBegin{}).TypeTag():
		var m codec.DkgBegin
		if err := codec.Decode(payload, &m); err != nil {
			return signererrors.Wrap(signererrors.Cryptographic, "decode dkg begin", err)
		}
		return l.beginDkgRound(ctx, m, chainTip)

	case (codec.DkgPublicSharesCommitment{}).TypeTag():
		var m codec.DkgPublicSharesCommitment
		if err := codec.Decode(payload, &m); err != nil {
			return signererrors.Wrap(signererrors.Cryptographic, "decode dkg public shares", err)
		}
		if m.SignerIndex == l.selfSignerIndex {
			return nil
		}
		return l.stepDkgRound(ctx, dkg.PublicShares{SignerIndex: m.SignerIndex, Commitments: m.Commitments}, chainTip)

	case (codec.DkgPrivateShares{}).TypeTag():
		var m codec.DkgPrivateShares
		if err := codec.Decode(payload, &m); err != nil {
			return signererrors.Wrap(signererrors.Cryptographic, "decode dkg private shares", err)
		}
		if m.SignerIndex == l.selfSignerIndex {
			return nil
		}
		return l.stepDkgRound(ctx, dkg.PrivateShares{SignerIndex: m.SignerIndex, Encrypted: m.Encrypted}, chainTip)

	case (codec.DkgEndBegin{}).TypeTag():
		return l.stepDkgRound(ctx, dkg.EndBegin{}, chainTip)

	case (codec.DkgEnd{}).TypeTag():
		var m codec.DkgEnd
		if err := codec.Decode(payload, &m); err != nil {
			return signererrors.Wrap(signererrors.Cryptographic, "decode dkg end", err)
		}
		if m.SignerIndex == l.selfSignerIndex {
			return nil
		}
		var key [33]byte
		copy(key[:], m.AggregateKey)
		return l.stepDkgRound(ctx, dkg.End{SignerIndex: m.SignerIndex, AggregateKey: key}, chainTip)

	case (codec.BitcoinTransactionSignRequest{}).TypeTag():
		var m codec.BitcoinTransactionSignRequest
		if err := codec.Decode(payload, &m); err != nil {
			return signererrors.Wrap(signererrors.Cryptographic, "decode sign request", err)
		}
		return l.beginSignRound(ctx, m, chainTip)

	case (codec.SignEndOfAcks{}).TypeTag():
		return l.stepSignRound(ctx, signing.EndOfAcks{}, chainTip)

	case (codec.SignNonceCommit{}).TypeTag():
		var m codec.SignNonceCommit
		if err := codec.Decode(payload, &m); err != nil {
			return signererrors.Wrap(signererrors.Cryptographic, "decode sign nonce commit", err)
		}
		var nonce [33]byte
		copy(nonce[:], m.Nonce)
		return l.stepSignRound(ctx, signing.NonceCommit{SignerIndex: m.SignerIndex, InputIndex: m.InputIndex, Nonce: nonce}, chainTip)

	default:
		return nil
	}
}

// beginDkgRound starts this participant's side of a coordinator-
// initiated DKG round and gossips its own first-step messages.
func (l *Loop) beginDkgRound(ctx context.Context, m codec.DkgBegin, chainTip [32]byte) error {
	l.mu.Lock()
	if l.dkgRound != nil {
		l.mu.Unlock()
		return signererrors.New(signererrors.Transient, "dkg round already in progress")
	}
	round := dkg.NewParticipantStateMachine(l.selfSignerIndex, l.networkKey)
	l.dkgRound = round
	l.mu.Unlock()

	return l.stepDkgRound(ctx, dkg.Begin{NumSigners: m.NumSigners, Threshold: m.Threshold}, chainTip)
}

func (l *Loop) stepDkgRound(ctx context.Context, msg codec.ProtoSerializable, chainTip [32]byte) error {
	l.mu.Lock()
	round := l.dkgRound
	l.mu.Unlock()
	if round == nil {
		return nil
	}

	_, isEndBegin := msg.(dkg.EndBegin)

	outgoing, err := round.Step(msg)
	if err != nil {
		return signererrors.Wrap(signererrors.Cryptographic, "step dkg round", err)
	}
	l.publishDkg(ctx, outgoing, chainTip)

	if isEndBegin && round.Phase() == dkg.Idle {
		if err := l.finalizeDkgRound(ctx, round); err != nil {
			return err
		}
		l.mu.Lock()
		l.dkgRound = nil
		l.mu.Unlock()
		l.ctx.Signals.Publish(signerctx.RoundCompleted{})
	}
	return nil
}

// finalizeDkgRound persists the round's encrypted private share and
// caches its plaintext scalar for the signing rounds that follow (spec
// §4.4 Finalize contract).
func (l *Loop) finalizeDkgRound(ctx context.Context, round *dkg.ParticipantStateMachine) error {
	shares, err := round.Finalize(l.shareCipher.encrypt)
	if err != nil {
		return signererrors.Wrap(signererrors.Cryptographic, "finalize dkg shares", err)
	}
	if err := l.store.RecordEncryptedDkgShares(ctx, shares); err != nil {
		return signererrors.Wrap(signererrors.Transient, "record dkg shares", err)
	}

	scalar, err := round.PrivateShareScalar()
	if err != nil {
		return signererrors.Wrap(signererrors.Cryptographic, "extract private share scalar", err)
	}
	l.mu.Lock()
	l.privateShareScalar = scalar
	l.mu.Unlock()

	logger.Infow("dkg round completed", "aggregate_key", shares.AggregateKey)
	return nil
}

// beginSignRound starts this participant's side of a coordinator-
// broadcast signing round over the sighashes it was given directly,
// sparing the participant from re-deriving them from prevout data.
func (l *Loop) beginSignRound(ctx context.Context, m codec.BitcoinTransactionSignRequest, chainTip [32]byte) error {
	l.mu.Lock()
	if l.signRound != nil {
		l.mu.Unlock()
		return signererrors.New(signererrors.Transient, "sign round already in progress")
	}
	scalar := l.privateShareScalar
	l.mu.Unlock()
	if scalar == nil {
		return signererrors.New(signererrors.Consistency, "no dkg private share available to sign with")
	}

	round := signing.NewParticipantRound(l.selfSignerIndex, l.threshold, scalar, l.nextNonce)

	var aggregateKey [33]byte
	copy(aggregateKey[:], m.AggregateKey)
	sighashes := make([][32]byte, len(m.Sighashes))
	for i, sh := range m.Sighashes {
		copy(sighashes[i][:], sh)
	}

	outgoing, err := round.Step(signing.SignRequest{Tx: m.Tx, AggregateKey: aggregateKey, Sighashes: sighashes})
	if err != nil {
		return signererrors.Wrap(signererrors.Cryptographic, "step sign round", err)
	}

	l.mu.Lock()
	l.signRound = round
	l.mu.Unlock()

	l.publishSigning(ctx, outgoing, chainTip)
	return nil
}

func (l *Loop) stepSignRound(ctx context.Context, msg codec.ProtoSerializable, chainTip [32]byte) error {
	l.mu.Lock()
	round := l.signRound
	l.mu.Unlock()
	if round == nil {
		return nil
	}

	outgoing, err := round.Step(msg)
	if err != nil {
		return signererrors.Wrap(signererrors.Cryptographic, "step sign round", err)
	}
	l.publishSigning(ctx, outgoing, chainTip)

	if round.Phase() == signing.Done {
		l.mu.Lock()
		l.signRound = nil
		l.mu.Unlock()
		l.ctx.Signals.Publish(signerctx.RoundCompleted{})
	}
	return nil
}

// nextNonce draws one nonce scalar from the prefetched pool for
// pkg/signing's ParticipantRound to commit per input (spec §4.4 step
// 3); the pool's own background goroutine keeps it replenished.
func (l *Loop) nextNonce(inputIndex uint32) (*btcec.ModNScalar, error) {
	n, err := l.noncePool.GetNow()
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Transient, "draw prefetched nonce", err)
	}
	return n.Scalar, nil
}

// publishDkg re-encodes and broadcasts every DKG domain message a Step
// produced.
func (l *Loop) publishDkg(ctx context.Context, outgoing []codec.ProtoSerializable, chainTip [32]byte) {
	for _, msg := range outgoing {
		switch m := msg.(type) {
		case dkg.PublicShares:
			wire := codec.DkgPublicSharesCommitment{SignerIndex: m.SignerIndex, Commitments: m.Commitments}
			l.publisher.Publish(ctx, wire.TypeTag(), codec.Encode(wire), chainTip)
		case dkg.PrivateShares:
			wire := codec.DkgPrivateShares{SignerIndex: m.SignerIndex, Encrypted: m.Encrypted}
			l.publisher.Publish(ctx, wire.TypeTag(), codec.Encode(wire), chainTip)
		case dkg.End:
			wire := codec.DkgEnd{SignerIndex: m.SignerIndex, AggregateKey: append([]byte(nil), m.AggregateKey[:]...)}
			l.publisher.Publish(ctx, wire.TypeTag(), codec.Encode(wire), chainTip)
		default:
			logger.Warnw("dropping unrecognized outgoing dkg message", "type", m)
		}
	}
}

// publishSigning re-encodes and broadcasts every signing domain
// message a Step produced.
func (l *Loop) publishSigning(ctx context.Context, outgoing []codec.ProtoSerializable, chainTip [32]byte) {
	for _, msg := range outgoing {
		switch m := msg.(type) {
		case signing.Ack:
			wire := codec.SignAck{SignerIndex: m.SignerIndex}
			l.publisher.Publish(ctx, wire.TypeTag(), codec.Encode(wire), chainTip)
		case signing.NonceCommit:
			wire := codec.SignNonceCommit{SignerIndex: m.SignerIndex, InputIndex: m.InputIndex, Nonce: append([]byte(nil), m.Nonce[:]...)}
			l.publisher.Publish(ctx, wire.TypeTag(), codec.Encode(wire), chainTip)
		case signing.ShareCommit:
			wire := codec.SignShareCommit{SignerIndex: m.SignerIndex, InputIndex: m.InputIndex, Share: append([]byte(nil), m.Share[:]...)}
			l.publisher.Publish(ctx, wire.TypeTag(), codec.Encode(wire), chainTip)
		default:
			logger.Warnw("dropping unrecognized outgoing signing message", "type", m)
		}
	}
}

func requestKeyForDeposit(outpoint model.Outpoint) string {
	return "deposit:" + outpoint.Txid.String() + ":" + strconv.Itoa(int(outpoint.Vout))
}
