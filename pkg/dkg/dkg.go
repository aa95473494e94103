// Package dkg implements the distributed-key-generation state machines
// for the coordinator and participant roles of spec §4.4, shaped as
// explicit step(msg) -> (next_state, outgoing_msgs) transitions per the
// design note in spec §9 and the trait layout of
// original_source/signer/src/wsts_state_machine.rs.
package dkg

import (
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"github.com/keep-network/sbtc-signer/pkg/codec"
	"github.com/keep-network/sbtc-signer/pkg/signererrors"
)

var logger = logging.Logger("sbtc-signer:dkg")

// Phase identifies a state in the DKG round.
type Phase int

const (
	Idle Phase = iota
	DkgPublicDistribute
	DkgPublicGather
	DkgPrivateDistribute
	DkgPrivateGather
	DkgEndDistribute
	DkgEndGather
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case DkgPublicDistribute:
		return "DkgPublicDistribute"
	case DkgPublicGather:
		return "DkgPublicGather"
	case DkgPrivateDistribute:
		return "DkgPrivateDistribute"
	case DkgPrivateGather:
		return "DkgPrivateGather"
	case DkgEndDistribute:
		return "DkgEndDistribute"
	case DkgEndGather:
		return "DkgEndGather"
	default:
		return "Unknown"
	}
}

// Begin is the coordinator-broadcast message that starts a round.
type Begin struct {
	NumSigners uint32
	Threshold  uint32
}

func (Begin) TypeTag() string { return "SBTC_DKG_BEGIN" }

// PublicShares is a participant's polynomial commitment broadcast
// during DkgPublicGather.
type PublicShares struct {
	SignerIndex uint32
	Commitments []byte
}

func (PublicShares) TypeTag() string { return "SBTC_DKG_PUBLIC_SHARES_MSG" }

// PrivateShares is a participant's encrypted share-per-recipient
// broadcast during DkgPrivateGather.
type PrivateShares struct {
	SignerIndex uint32
	Encrypted   map[uint32][]byte
}

func (PrivateShares) TypeTag() string { return "SBTC_DKG_PRIVATE_SHARES_MSG" }

// EndBegin tells participants to finalize and compute the aggregate
// key.
type EndBegin struct{}

func (EndBegin) TypeTag() string { return "SBTC_DKG_END_BEGIN" }

// End is a participant's confirmation that it completed the round
// successfully, reporting the group's aggregate key.
type End struct {
	SignerIndex  uint32
	AggregateKey [33]byte
}

func (End) TypeTag() string { return "SBTC_DKG_END" }

// CoordinatorStateMachine drives one DKG round across num_signers
// participants, advancing through each distribute/gather pair (spec
// §4.4 "DKG state machine (coordinator)").
type CoordinatorStateMachine struct {
	phase      Phase
	numSigners uint32
	threshold  uint32

	publicReceived  map[uint32]PublicShares
	privateReceived map[uint32]PrivateShares
	endReceived     map[uint32]End
}

// NewCoordinatorStateMachine starts a round idle, ready to accept a
// Step(Begin{...}) transition.
func NewCoordinatorStateMachine() *CoordinatorStateMachine {
	return &CoordinatorStateMachine{phase: Idle}
}

func (c *CoordinatorStateMachine) Phase() Phase { return c.phase }

// Step advances the coordinator's state machine by one inbound message,
// returning any messages that must now be broadcast. An out-of-phase
// message is ignored in place rather than advancing state (spec §4.4
// failure semantics); a message of an unrecognized type returns an
// error.
func (c *CoordinatorStateMachine) Step(msg codec.ProtoSerializable) ([]codec.ProtoSerializable, error) {
	switch m := msg.(type) {
	case Begin:
		if c.phase != Idle {
			return nil, nil
		}
		c.numSigners = m.NumSigners
		c.threshold = m.Threshold
		c.publicReceived = make(map[uint32]PublicShares)
		c.privateReceived = make(map[uint32]PrivateShares)
		c.endReceived = make(map[uint32]End)
		c.phase = DkgPublicDistribute
		c.phase = DkgPublicGather
		return []codec.ProtoSerializable{m}, nil

	case PublicShares:
		if c.phase != DkgPublicGather {
			return nil, nil
		}
		c.publicReceived[m.SignerIndex] = m
		if uint32(len(c.publicReceived)) < c.numSigners {
			return nil, nil
		}
		c.phase = DkgPrivateDistribute
		c.phase = DkgPrivateGather
		return nil, nil

	case PrivateShares:
		if c.phase != DkgPrivateGather {
			return nil, nil
		}
		c.privateReceived[m.SignerIndex] = m
		if uint32(len(c.privateReceived)) < c.numSigners {
			return nil, nil
		}
		c.phase = DkgEndDistribute
		c.phase = DkgEndGather
		return []codec.ProtoSerializable{EndBegin{}}, nil

	case End:
		if c.phase != DkgEndGather {
			return nil, nil
		}
		c.endReceived[m.SignerIndex] = m
		if uint32(len(c.endReceived)) < c.numSigners {
			return nil, nil
		}
		c.phase = Idle
		return nil, nil

	default:
		return nil, fmt.Errorf("dkg: unrecognized message type %T", msg)
	}
}

// Completed reports whether the round reached Idle with a full set
// of End confirmations - used by the caller to distinguish a fresh Idle
// state from one that timed out mid-round (spec §4.4: "timeout at any
// gather step -> abort the entire round, no partial state committed").
func (c *CoordinatorStateMachine) Completed() bool {
	return c.phase == Idle && c.numSigners > 0 && uint32(len(c.endReceived)) == c.numSigners
}

// Abort resets the state machine to Idle without committing partial
// state, surfacing a Transient error the coordinator may retry on a
// later tenure.
func (c *CoordinatorStateMachine) Abort() error {
	c.phase = Idle
	c.publicReceived = nil
	c.privateReceived = nil
	c.endReceived = nil
	return signererrors.New(signererrors.Transient, "dkg round aborted: gather step timed out")
}
