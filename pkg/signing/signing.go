// Package signing implements the threshold Schnorr signing round state
// machine of spec §4.4 ("Signing state machine"), shaped the same way
// as pkg/dkg: explicit step(msg) -> (next_state, outgoing_msgs)
// transitions grounded on
// original_source/signer/src/wsts_state_machine.rs.
package signing

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	logging "github.com/ipfs/go-log/v2"

	"github.com/keep-network/sbtc-signer/pkg/codec"
	"github.com/keep-network/sbtc-signer/pkg/signererrors"
)

var logger = logging.Logger("sbtc-signer:signing")

// Phase identifies a state in a per-transaction signing round.
type Phase int

const (
	Idle Phase = iota
	AwaitingAcks
	AwaitingNonces
	AwaitingShares
	Done
)

// SignRequest is the coordinator-broadcast message that starts a round
// (spec §4.4 step 0: "Triggered by a coordinator-broadcast
// BitcoinTransactionSignRequest(tx, K)").
type SignRequest struct {
	Tx           []byte
	AggregateKey [33]byte
	Sighashes    [][32]byte
}

func (SignRequest) TypeTag() string { return "SBTC_SIGN_REQUEST" }

// Ack is a participant's reply to a SignRequest (spec §4.4 step 1).
// ParticipantRound sends it once the aggregate key parses, without
// validating tx.
type Ack struct {
	SignerIndex uint32
}

func (Ack) TypeTag() string { return "SBTC_SIGN_ACK" }

// NonceCommit is a participant's per-input nonce commitment (spec §4.4
// step 3).
type NonceCommit struct {
	SignerIndex uint32
	InputIndex  uint32
	Nonce       [33]byte
}

func (NonceCommit) TypeTag() string { return "SBTC_SIGN_NONCE" }

// ShareCommit is a participant's per-input signature-share (spec §4.4
// step 3).
type ShareCommit struct {
	SignerIndex uint32
	InputIndex  uint32
	Share       [32]byte
}

func (ShareCommit) TypeTag() string { return "SBTC_SIGN_SHARE" }

// CoordinatorRound drives one signing round across every input that
// needs a signature, addressing each input's sighash independently
// (spec §4.4 steps 2-5).
type CoordinatorRound struct {
	phase        Phase
	numInputs    int
	acked        map[uint32]struct{}
	nonces       map[uint32]map[uint32][33]byte // input -> signer -> nonce
	shares       map[uint32]map[uint32][32]byte // input -> signer -> share
	threshold    int
	aggregateKey *btcec.PublicKey
}

func NewCoordinatorRound(numInputs int, threshold int, aggregateKey *btcec.PublicKey) *CoordinatorRound {
	return &CoordinatorRound{
		phase:        Idle,
		numInputs:    numInputs,
		threshold:    threshold,
		aggregateKey: aggregateKey,
		acked:        make(map[uint32]struct{}),
		nonces:       make(map[uint32]map[uint32][33]byte),
		shares:       make(map[uint32]map[uint32][32]byte),
	}
}

func (c *CoordinatorRound) Phase() Phase { return c.phase }

// Step advances the round by one inbound message. A signer that never
// ACKs is simply excluded from the eventual signature set, per spec
// §4.4: "the coordinator still completes if >= threshold ACKs
// arrived."
func (c *CoordinatorRound) Step(msg codec.ProtoSerializable) ([]codec.ProtoSerializable, error) {
	switch m := msg.(type) {
	case Ack:
		if c.phase != Idle && c.phase != AwaitingAcks {
			return nil, nil
		}
		c.phase = AwaitingAcks
		c.acked[m.SignerIndex] = struct{}{}
		if len(c.acked) >= c.threshold {
			c.phase = AwaitingNonces
			return []codec.ProtoSerializable{EndOfAcks{}}, nil
		}
		return nil, nil

	case NonceCommit:
		if c.phase != AwaitingNonces {
			return nil, nil
		}
		if _, ok := c.acked[m.SignerIndex]; !ok {
			return nil, nil
		}
		if c.nonces[m.InputIndex] == nil {
			c.nonces[m.InputIndex] = make(map[uint32][33]byte)
		}
		c.nonces[m.InputIndex][m.SignerIndex] = m.Nonce
		if c.inputReady(c.nonces) {
			c.phase = AwaitingShares
		}
		return nil, nil

	case ShareCommit:
		if c.phase != AwaitingShares {
			return nil, nil
		}
		if _, ok := c.acked[m.SignerIndex]; !ok {
			return nil, nil
		}
		if c.shares[m.InputIndex] == nil {
			c.shares[m.InputIndex] = make(map[uint32][32]byte)
		}
		c.shares[m.InputIndex][m.SignerIndex] = m.Share
		if c.inputReady(shareMapToNonceShape(c.shares)) {
			c.phase = Done
		}
		return nil, nil

	default:
		return nil, nil
	}
}

func (c *CoordinatorRound) inputReady(perInput map[uint32]map[uint32][33]byte) bool {
	if len(perInput) < c.numInputs {
		return false
	}
	for i := 0; i < c.numInputs; i++ {
		if len(perInput[uint32(i)]) < c.threshold {
			return false
		}
	}
	return true
}

func shareMapToNonceShape(m map[uint32]map[uint32][32]byte) map[uint32]map[uint32][33]byte {
	out := make(map[uint32]map[uint32][33]byte, len(m))
	for input, signers := range m {
		converted := make(map[uint32][33]byte, len(signers))
		for signer, share := range signers {
			var padded [33]byte
			copy(padded[1:], share[:])
			converted[signer] = padded
		}
		out[input] = converted
	}
	return out
}

// Completed reports whether every input gathered a threshold of
// signature shares.
func (c *CoordinatorRound) Completed() bool { return c.phase == Done }

// FinalSignature combines this round's collected nonces and signature
// shares for one input into a final Schnorr signature over its sighash:
// it re-derives the aggregated nonce point R the shares were computed
// against, sums the shares mod n, and assembles the (R.x, s) signature
// pair. The underlying arithmetic is hand-rolled on btcec/v2 primitives
// and mirrors pkg/signing's participant-side computePartialSignature,
// since no Go WSTS/FROST library exists anywhere in the example pack to
// translate from.
func (c *CoordinatorRound) FinalSignature(inputIndex uint32) (*schnorr.Signature, error) {
	shares, ok := c.shares[inputIndex]
	if !ok || len(shares) < c.threshold {
		return nil, signererrors.New(signererrors.Consistency, "insufficient signature shares for input")
	}
	nonces, ok := c.nonces[inputIndex]
	if !ok || len(nonces) < c.threshold {
		return nil, signererrors.New(signererrors.Consistency, "insufficient nonce commitments for input")
	}

	r, err := aggregateNoncePoints(nonces)
	if err != nil {
		return nil, err
	}

	var sum btcec.ModNScalar
	for _, share := range shares {
		var s btcec.ModNScalar
		s.SetByteSlice(share[:])
		sum.Add(&s)
	}

	sBytes := sum.Bytes()
	sigBytes := append(append([]byte{}, schnorrXOnlyBytes(r)...), sBytes[:]...)
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Cryptographic, "parse combined signature", err)
	}
	return sig, nil
}
