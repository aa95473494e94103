package dkg

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func TestParticipantStateMachine_FullRound(t *testing.T) {
	selfKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate self key: %v", err)
	}
	peerKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate peer key: %v", err)
	}

	p := NewParticipantStateMachine(0, selfKey)

	out, err := p.Step(Begin{NumSigners: 2, Threshold: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one PublicShares message, got %d", len(out))
	}
	if p.Phase() != DkgPublicGather {
		t.Fatalf("expected DkgPublicGather, got %v", p.Phase())
	}

	peerShares := PublicShares{SignerIndex: 1, Commitments: peerKey.PubKey().SerializeCompressed()}
	if _, err := p.Step(peerShares); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Phase() != DkgPrivateGather {
		t.Fatalf("expected DkgPrivateGather, got %v", p.Phase())
	}

	out, err = p.Step(EndBegin{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one End message, got %d", len(out))
	}
	if p.Phase() != Idle {
		t.Fatalf("expected Idle after End, got %v", p.Phase())
	}

	shares, err := p.Finalize(func(b []byte) ([]byte, error) { return b, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shares.Threshold != 2 {
		t.Fatalf("expected threshold 2, got %d", shares.Threshold)
	}
	if len(shares.SignerSetPublicKeys) != 1 {
		t.Fatalf("expected one peer recorded in signer set, got %d", len(shares.SignerSetPublicKeys))
	}
}

func TestParticipantStateMachine_FinalizeBeforeCompletion(t *testing.T) {
	selfKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate self key: %v", err)
	}
	p := NewParticipantStateMachine(0, selfKey)

	if _, err := p.Finalize(func(b []byte) ([]byte, error) { return b, nil }); err == nil {
		t.Fatalf("expected an error finalizing before the round completed")
	}
}
