package signing

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func newTestAggregateKey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.PubKey()
}

func TestCoordinatorRound_AdvancesThroughPhases(t *testing.T) {
	round := NewCoordinatorRound(1, 2, newTestAggregateKey(t))

	if _, err := round.Step(Ack{SignerIndex: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if round.Phase() != AwaitingAcks {
		t.Fatalf("expected AwaitingAcks after one of two acks, got %v", round.Phase())
	}

	out, err := round.Step(Ack{SignerIndex: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected EndOfAcks broadcast once threshold acks arrive, got %d messages", len(out))
	}
	if round.Phase() != AwaitingNonces {
		t.Fatalf("expected AwaitingNonces, got %v", round.Phase())
	}

	var nonce [33]byte
	if _, err := round.Step(NonceCommit{SignerIndex: 0, InputIndex: 0, Nonce: nonce}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if round.Phase() != AwaitingNonces {
		t.Fatalf("expected to stay in AwaitingNonces with only one of two nonces, got %v", round.Phase())
	}
	if _, err := round.Step(NonceCommit{SignerIndex: 1, InputIndex: 0, Nonce: nonce}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if round.Phase() != AwaitingShares {
		t.Fatalf("expected AwaitingShares, got %v", round.Phase())
	}

	var share [32]byte
	if _, err := round.Step(ShareCommit{SignerIndex: 0, InputIndex: 0, Share: share}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := round.Step(ShareCommit{SignerIndex: 1, InputIndex: 0, Share: share}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !round.Completed() {
		t.Fatalf("expected round to be complete")
	}
}

func TestCoordinatorRound_IgnoresUnackedSigner(t *testing.T) {
	round := NewCoordinatorRound(1, 1, newTestAggregateKey(t))

	if _, err := round.Step(Ack{SignerIndex: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if round.Phase() != AwaitingNonces {
		t.Fatalf("expected AwaitingNonces, got %v", round.Phase())
	}

	var nonce [33]byte
	if _, err := round.Step(NonceCommit{SignerIndex: 1, InputIndex: 0, Nonce: nonce}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if round.Phase() != AwaitingNonces {
		t.Fatalf("expected an un-acked signer's nonce to be ignored")
	}
}

func TestCoordinatorRound_FinalSignatureBeforeThreshold(t *testing.T) {
	round := NewCoordinatorRound(1, 2, newTestAggregateKey(t))

	if _, err := round.FinalSignature(0); err == nil {
		t.Fatalf("expected an error finalizing before any shares arrived")
	}
}

func TestCoordinatorRound_FinalSignatureAfterFullRound(t *testing.T) {
	round := NewCoordinatorRound(1, 1, newTestAggregateKey(t))

	if _, err := round.Step(Ack{SignerIndex: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	noncePriv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate nonce key: %v", err)
	}
	var nonce [33]byte
	copy(nonce[:], noncePriv.PubKey().SerializeCompressed())
	if _, err := round.Step(NonceCommit{SignerIndex: 0, InputIndex: 0, Nonce: nonce}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var share [32]byte
	if _, err := round.Step(ShareCommit{SignerIndex: 0, InputIndex: 0, Share: share}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !round.Completed() {
		t.Fatalf("expected round to be complete")
	}

	sig, err := round.FinalSignature(0)
	if err != nil {
		t.Fatalf("unexpected error finalizing a fully-gathered round: %v", err)
	}
	if sig == nil {
		t.Fatalf("expected a non-nil signature")
	}
}
