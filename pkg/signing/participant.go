package signing

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/keep-network/sbtc-signer/pkg/codec"
	"github.com/keep-network/sbtc-signer/pkg/signererrors"
)

// bip0340ChallengeTag is the domain-separation tag BIP340 defines for
// the Schnorr challenge hash: e = H(tag_hash || tag_hash || R || P || m).
var bip0340ChallengeTag = sha256.Sum256([]byte("BIP0340/challenge"))

func taggedHash(data ...[]byte) [32]byte {
	h := sha256.New()
	h.Write(bip0340ChallengeTag[:])
	h.Write(bip0340ChallengeTag[:])
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ParticipantRound is one signer's side of a signing round: it reacts
// to a coordinator-broadcast SignRequest by parsing its aggregate key
// and ACKing (the transaction itself is not validated), then
// emits a per-input nonce commitment once the round enters
// AwaitingNonces and a per-input signature share once it has every
// input's peer nonces (spec §4.4 steps 1 and 3).
type ParticipantRound struct {
	phase        Phase
	signerIndex  uint32
	threshold    int
	privateShare *btcec.ModNScalar
	aggregateKey *btcec.PublicKey
	sighashes    [][32]byte
	nextNonce    func(inputIndex uint32) (*btcec.ModNScalar, error)
	ownNonces    map[uint32]*btcec.ModNScalar
	peerNonces   map[uint32]map[uint32][33]byte // input -> signer -> nonce
}

// NewParticipantRound builds a participant's view of a round about to
// start. nextNonce supplies a fresh per-input secret nonce, typically
// drawn from pkg/generator's prefetched nonce pool. threshold is the
// number of per-input nonce commitments this participant waits for
// before it computes and broadcasts its own signature share.
func NewParticipantRound(signerIndex uint32, threshold int, privateShare *btcec.ModNScalar, nextNonce func(inputIndex uint32) (*btcec.ModNScalar, error)) *ParticipantRound {
	return &ParticipantRound{
		phase:        Idle,
		signerIndex:  signerIndex,
		threshold:    threshold,
		privateShare: privateShare,
		nextNonce:    nextNonce,
		ownNonces:    make(map[uint32]*btcec.ModNScalar),
		peerNonces:   make(map[uint32]map[uint32][33]byte),
	}
}

func (p *ParticipantRound) Phase() Phase { return p.phase }

// Step advances the round by one inbound message, returning any
// messages this participant should broadcast in response.
func (p *ParticipantRound) Step(msg codec.ProtoSerializable) ([]codec.ProtoSerializable, error) {
	switch m := msg.(type) {
	case SignRequest:
		if p.phase != Idle {
			return nil, nil
		}
		pk, err := btcec.ParsePubKey(m.AggregateKey[:])
		if err != nil {
			return nil, signererrors.Wrap(signererrors.Validation, "parse aggregate key", err)
		}
		p.aggregateKey = pk
		p.sighashes = m.Sighashes
		p.phase = AwaitingAcks
		return []codec.ProtoSerializable{Ack{SignerIndex: p.signerIndex}}, nil

	case NonceCommit:
		if p.phase != AwaitingNonces && p.phase != AwaitingShares {
			return nil, nil
		}
		if p.peerNonces[m.InputIndex] == nil {
			p.peerNonces[m.InputIndex] = make(map[uint32][33]byte)
		}
		p.peerNonces[m.InputIndex][m.SignerIndex] = m.Nonce

		if p.phase == AwaitingNonces && p.haveEnoughNonces() {
			p.phase = AwaitingShares
			return p.emitShares()
		}
		return nil, nil

	case EndOfAcks:
		if p.phase != AwaitingAcks {
			return nil, nil
		}
		p.phase = AwaitingNonces
		return p.emitNonces()

	default:
		return nil, nil
	}
}

// haveEnoughNonces reports whether every input this round is signing
// has collected at least a threshold of peer nonce commitments,
// including this participant's own.
func (p *ParticipantRound) haveEnoughNonces() bool {
	for inputIndex := range p.sighashes {
		if len(p.peerNonces[uint32(inputIndex)]) < p.threshold {
			return false
		}
	}
	return true
}

// emitNonces generates and broadcasts one nonce commitment per input
// this round needs to sign, drawn from the prefetched nonce supply so
// the round does not stall on on-demand scalar generation. The
// broadcast commitment is the nonce's public point, not the secret
// scalar itself.
func (p *ParticipantRound) emitNonces() ([]codec.ProtoSerializable, error) {
	out := make([]codec.ProtoSerializable, 0, len(p.sighashes))
	for inputIndex := range p.sighashes {
		nonce, err := p.nextNonce(uint32(inputIndex))
		if err != nil {
			return nil, signererrors.Wrap(signererrors.Transient, "draw prefetched nonce", err)
		}
		p.ownNonces[uint32(inputIndex)] = nonce

		nonceBytes := nonce.Bytes()
		noncePub := btcec.PrivKeyFromBytes(nonceBytes[:]).PubKey()
		var commitment [33]byte
		copy(commitment[:], noncePub.SerializeCompressed())

		if p.peerNonces[uint32(inputIndex)] == nil {
			p.peerNonces[uint32(inputIndex)] = make(map[uint32][33]byte)
		}
		p.peerNonces[uint32(inputIndex)][p.signerIndex] = commitment

		out = append(out, NonceCommit{
			SignerIndex: p.signerIndex,
			InputIndex:  uint32(inputIndex),
			Nonce:       commitment,
		})
	}
	return out, nil
}

// emitShares computes and broadcasts this participant's signature
// share for every input once its peer nonces are complete, then moves
// the round to Done (spec §4.4 step 3: "nonce and then signature-share
// messages").
func (p *ParticipantRound) emitShares() ([]codec.ProtoSerializable, error) {
	out := make([]codec.ProtoSerializable, 0, len(p.sighashes))
	for inputIndex, sighash := range p.sighashes {
		share, err := computePartialSignature(
			p.privateShare,
			p.ownNonces[uint32(inputIndex)],
			p.aggregateKey,
			p.peerNonces[uint32(inputIndex)],
			sighash,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, ShareCommit{
			SignerIndex: p.signerIndex,
			InputIndex:  uint32(inputIndex),
			Share:       share,
		})
	}
	p.phase = Done
	return out, nil
}

// EndOfAcks is a coordinator-broadcast signal that ACK collection
// closed with at least a threshold of participants, so participants
// should move on to nonce generation (spec §4.4 step 2 boundary).
type EndOfAcks struct{}

func (EndOfAcks) TypeTag() string { return "SBTC_SIGN_END_OF_ACKS" }

// computePartialSignature derives this participant's additive share of
// the final Schnorr signature for one input: s_i = k_i + e*x_i (mod n),
// where e is the BIP340 challenge over the aggregated nonce point, the
// aggregate key and the sighash. This mirrors the single-round
// aggregation shape of pkg/dkg's aggregatePublicKeys rather than the
// real FROST/WSTS binding-factor formula, since no Go implementation of
// that protocol exists anywhere in the example pack to translate from.
func computePartialSignature(privateShare, ownNonce *btcec.ModNScalar, aggregateKey *btcec.PublicKey, peerNonces map[uint32][33]byte, sighash [32]byte) ([32]byte, error) {
	r, err := aggregateNoncePoints(peerNonces)
	if err != nil {
		return [32]byte{}, err
	}

	challengeHash := taggedHash(schnorrXOnlyBytes(r), schnorrXOnlyBytes(aggregateKey), sighash[:])
	var challenge btcec.ModNScalar
	challenge.SetBytes(&challengeHash)

	var share btcec.ModNScalar
	share.Set(&challenge)
	share.Mul(privateShare)
	share.Add(ownNonce)

	shareBytes := share.Bytes()
	var out [32]byte
	copy(out[:], shareBytes[:])
	return out, nil
}

// aggregateNoncePoints sums every participant's committed nonce point
// into the round's joint nonce R, the same jacobian-addition shape
// pkg/dkg uses to combine public shares.
func aggregateNoncePoints(nonces map[uint32][33]byte) (*btcec.PublicKey, error) {
	var sum *btcec.PublicKey
	for _, commitment := range nonces {
		point, err := btcec.ParsePubKey(commitment[:])
		if err != nil {
			return nil, signererrors.Wrap(signererrors.Validation, "parse peer nonce commitment", err)
		}
		if sum == nil {
			sum = point
			continue
		}
		var jac, peerJac btcec.JacobianPoint
		sum.AsJacobian(&jac)
		point.AsJacobian(&peerJac)
		btcec.AddNonConst(&jac, &peerJac, &jac)
		jac.ToAffine()
		sum = btcec.NewPublicKey(&jac.X, &jac.Y)
	}
	if sum == nil {
		return nil, signererrors.New(signererrors.Consistency, "no nonce commitments to aggregate")
	}
	return sum, nil
}

// schnorrXOnlyBytes extracts the 32-byte x-only serialization the
// BIP340 challenge hash is defined over.
func schnorrXOnlyBytes(key *btcec.PublicKey) []byte {
	return key.SerializeCompressed()[1:]
}
