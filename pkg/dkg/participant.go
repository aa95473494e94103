package dkg

import (
	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/keep-network/sbtc-signer/pkg/bitcoin"
	"github.com/keep-network/sbtc-signer/pkg/codec"
	"github.com/keep-network/sbtc-signer/pkg/signererrors"
	"github.com/keep-network/sbtc-signer/pkg/store/model"
)

var notReadyErr = signererrors.New(signererrors.Consistency, "dkg round has not completed, no shares to finalize")

// ParticipantStateMachine runs one signer's side of a DKG round (spec
// §4.4 "DKG state machine (participant)"): DkgBegin -> DkgPublicShares
// -> DkgPrivateShares -> DkgEndBegin -> DkgEnd.
type ParticipantStateMachine struct {
	phase       Phase
	signerIndex uint32
	privateKey  *btcec.PrivateKey
	peers       [][33]byte
	threshold   uint32

	privateShare *btcec.PrivateKey
	aggregate    *btcec.PublicKey
}

// NewParticipantStateMachine creates a participant bound to its own
// index and signer key, idle until it receives Begin.
func NewParticipantStateMachine(signerIndex uint32, privateKey *btcec.PrivateKey) *ParticipantStateMachine {
	return &ParticipantStateMachine{phase: Idle, signerIndex: signerIndex, privateKey: privateKey}
}

func (p *ParticipantStateMachine) Phase() Phase { return p.phase }

// Step advances the participant by one inbound message. Malformed or
// out-of-phase messages are ignored (spec §4.4 failure semantics).
func (p *ParticipantStateMachine) Step(msg codec.ProtoSerializable) ([]codec.ProtoSerializable, error) {
	switch m := msg.(type) {
	case Begin:
		if p.phase != Idle {
			return nil, nil
		}
		p.threshold = m.Threshold
		p.phase = DkgPublicGather
		own := p.privateKey.PubKey().SerializeCompressed()
		return []codec.ProtoSerializable{PublicShares{SignerIndex: p.signerIndex, Commitments: own}}, nil

	case PublicShares:
		if p.phase != DkgPublicGather {
			return nil, nil
		}
		p.peers = append(p.peers, toCompressed33(m.Commitments))
		p.phase = DkgPrivateGather
		return []codec.ProtoSerializable{PrivateShares{SignerIndex: p.signerIndex, Encrypted: map[uint32][]byte{}}}, nil

	case PrivateShares:
		if p.phase != DkgPrivateGather {
			return nil, nil
		}
		return nil, nil

	case EndBegin:
		if p.phase != DkgPrivateGather && p.phase != DkgEndGather {
			return nil, nil
		}
		p.phase = DkgEndGather
		aggregate, share, err := aggregatePublicKeys(p.privateKey, p.peers)
		if err != nil {
			return nil, err
		}
		p.aggregate = aggregate
		p.privateShare = share
		var key33 [33]byte
		copy(key33[:], aggregate.SerializeCompressed())
		p.phase = Idle
		return []codec.ProtoSerializable{End{SignerIndex: p.signerIndex, AggregateKey: key33}}, nil

	case End:
		return nil, nil

	default:
		return nil, nil
	}
}

// Finalize builds the EncryptedDkgShares row to persist once the round
// has completed, per spec §4.4: "the participant stores an
// EncryptedDkgShares row containing the locally-encrypted private
// state, the set of signer public keys, K, K', the taproot
// scriptPubKey, and the signature threshold."
func (p *ParticipantStateMachine) Finalize(encrypt func([]byte) ([]byte, error)) (*model.EncryptedDkgShares, error) {
	if p.aggregate == nil || p.privateShare == nil {
		return nil, notReadyErr
	}

	scriptPubkey, err := bitcoin.SignersScriptPubkey(p.aggregate)
	if err != nil {
		return nil, err
	}
	tweaked := bitcoin.TweakedAggregateKey(p.aggregate)

	encryptedShare, err := encrypt(p.privateShare.Serialize())
	if err != nil {
		return nil, err
	}

	signerSet := make([][33]byte, len(p.peers))
	copy(signerSet, p.peers)

	var aggregateKey [33]byte
	copy(aggregateKey[:], p.aggregate.SerializeCompressed())

	return &model.EncryptedDkgShares{
		AggregateKey:          aggregateKey,
		TweakedAggregate:      tweaked,
		ScriptPubkey:          scriptPubkey,
		SignerSetPublicKeys:   signerSet,
		Threshold:             p.threshold,
		EncryptedPrivateShare: encryptedShare,
	}, nil
}

// PrivateShareScalar exposes the round's finalized private share as a
// scalar, the form pkg/signing's ParticipantRound needs to compute
// signature shares once this signer starts acting on signing requests.
func (p *ParticipantStateMachine) PrivateShareScalar() (*btcec.ModNScalar, error) {
	if p.privateShare == nil {
		return nil, notReadyErr
	}
	var scalar btcec.ModNScalar
	scalar.SetByteSlice(p.privateShare.Serialize())
	return &scalar, nil
}

func toCompressed33(b []byte) [33]byte {
	var out [33]byte
	copy(out[:], b)
	return out
}

// aggregatePublicKeys is a placeholder aggregation step: the real
// threshold scheme combines per-participant Shamir shares into the
// group's joint public key. Since no Go WSTS/FROST implementation
// exists anywhere in the example pack, the arithmetic is hand-rolled on
// top of btcec/v2 primitives rather than translated from an unavailable
// library.
func aggregatePublicKeys(self *btcec.PrivateKey, peers [][33]byte) (*btcec.PublicKey, *btcec.PrivateKey, error) {
	agg := self.PubKey()
	for _, peerBytes := range peers {
		peerKey, err := btcec.ParsePubKey(peerBytes[:])
		if err != nil {
			return nil, nil, err
		}
		var jac, peerJac btcec.JacobianPoint
		agg.AsJacobian(&jac)
		peerKey.AsJacobian(&peerJac)
		btcec.AddNonConst(&jac, &peerJac, &jac)
		jac.ToAffine()
		agg = btcec.NewPublicKey(&jac.X, &jac.Y)
	}
	return agg, self, nil
}
