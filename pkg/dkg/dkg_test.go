package dkg

import "testing"

func TestCoordinatorStateMachine_FullRound(t *testing.T) {
	c := NewCoordinatorStateMachine()

	out, err := c.Step(Begin{NumSigners: 2, Threshold: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected Begin to be rebroadcast, got %d messages", len(out))
	}
	if c.Phase() != DkgPublicGather {
		t.Fatalf("expected DkgPublicGather, got %v", c.Phase())
	}

	if _, err := c.Step(PublicShares{SignerIndex: 0, Commitments: []byte{0x01}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Phase() != DkgPublicGather {
		t.Fatalf("expected to stay in DkgPublicGather with one of two shares, got %v", c.Phase())
	}
	if _, err := c.Step(PublicShares{SignerIndex: 1, Commitments: []byte{0x02}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Phase() != DkgPrivateGather {
		t.Fatalf("expected DkgPrivateGather, got %v", c.Phase())
	}

	if _, err := c.Step(PrivateShares{SignerIndex: 0, Encrypted: map[uint32][]byte{}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err = c.Step(PrivateShares{SignerIndex: 1, Encrypted: map[uint32][]byte{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected EndBegin broadcast, got %d messages", len(out))
	}
	if c.Phase() != DkgEndGather {
		t.Fatalf("expected DkgEndGather, got %v", c.Phase())
	}

	if c.Completed() {
		t.Fatalf("round should not be complete before all End messages arrive")
	}
	if _, err := c.Step(End{SignerIndex: 0, AggregateKey: [33]byte{}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Step(End{SignerIndex: 1, AggregateKey: [33]byte{}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Completed() {
		t.Fatalf("expected round to be complete")
	}
}

func TestCoordinatorStateMachine_IgnoresOutOfPhaseMessage(t *testing.T) {
	c := NewCoordinatorStateMachine()

	out, err := c.Step(PublicShares{SignerIndex: 0, Commitments: []byte{0x01}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected no outgoing messages for an out-of-phase message")
	}
	if c.Phase() != Idle {
		t.Fatalf("expected state to remain Idle, got %v", c.Phase())
	}
}

func TestCoordinatorStateMachine_Abort(t *testing.T) {
	c := NewCoordinatorStateMachine()
	if _, err := c.Step(Begin{NumSigners: 3, Threshold: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := c.Abort()
	if err == nil {
		t.Fatalf("expected an error reporting the abort")
	}
	if c.Phase() != Idle {
		t.Fatalf("expected phase reset to Idle after abort, got %v", c.Phase())
	}
	if c.Completed() {
		t.Fatalf("an aborted round must never report Completed")
	}
}
