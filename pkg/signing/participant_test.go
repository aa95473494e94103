package signing

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func TestParticipantRound_AcksAndEmitsNonces(t *testing.T) {
	var share btcec.ModNScalar
	nonceSeq := 0
	nextNonce := func(inputIndex uint32) (*btcec.ModNScalar, error) {
		nonceSeq++
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, err
		}
		var scalar btcec.ModNScalar
		scalar.SetByteSlice(priv.Serialize())
		return &scalar, nil
	}

	p := NewParticipantRound(0, 2, &share, nextNonce)

	aggregateKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate aggregate key: %v", err)
	}
	var keyBytes [33]byte
	copy(keyBytes[:], aggregateKey.PubKey().SerializeCompressed())

	req := SignRequest{
		AggregateKey: keyBytes,
		Sighashes:    [][32]byte{{}, {}},
	}
	out, err := p.Step(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one Ack, got %d messages", len(out))
	}
	if _, ok := out[0].(Ack); !ok {
		t.Fatalf("expected an Ack message, got %T", out[0])
	}
	if p.Phase() != AwaitingAcks {
		t.Fatalf("expected AwaitingAcks, got %v", p.Phase())
	}

	out, err = p.Step(EndOfAcks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected one NonceCommit per sighash, got %d", len(out))
	}
	for _, msg := range out {
		nc, ok := msg.(NonceCommit)
		if !ok {
			t.Fatalf("expected a NonceCommit message, got %T", msg)
		}
		if nc.Nonce[0] != 0x02 && nc.Nonce[0] != 0x03 {
			t.Fatalf("expected a compressed public nonce point, got prefix byte %#x", nc.Nonce[0])
		}
	}
	if p.Phase() != AwaitingNonces {
		t.Fatalf("expected AwaitingNonces, got %v", p.Phase())
	}
	if nonceSeq != 2 {
		t.Fatalf("expected nextNonce called once per input, got %d calls", nonceSeq)
	}

	// A second signer's nonce commitment for both inputs reaches this
	// participant's threshold of two, so it should compute and emit its
	// own signature shares and move the round to Done.
	var peerNonce [33]byte
	copy(peerNonce[:], out[0].(NonceCommit).Nonce[:])
	out, err = p.Step(NonceCommit{SignerIndex: 1, InputIndex: 0, Nonce: peerNonce})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected round to stay open until every input has a threshold of nonces")
	}
	out, err = p.Step(NonceCommit{SignerIndex: 1, InputIndex: 1, Nonce: peerNonce})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected one ShareCommit per input, got %d", len(out))
	}
	for _, msg := range out {
		if _, ok := msg.(ShareCommit); !ok {
			t.Fatalf("expected a ShareCommit message, got %T", msg)
		}
	}
	if p.Phase() != Done {
		t.Fatalf("expected Done, got %v", p.Phase())
	}
}

func TestParticipantRound_IgnoresSignRequestMidRound(t *testing.T) {
	var share btcec.ModNScalar
	p := NewParticipantRound(0, 2, &share, func(uint32) (*btcec.ModNScalar, error) { return &share, nil })

	aggregateKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate aggregate key: %v", err)
	}
	var keyBytes [33]byte
	copy(keyBytes[:], aggregateKey.PubKey().SerializeCompressed())

	if _, err := p.Step(SignRequest{AggregateKey: keyBytes, Sighashes: [][32]byte{{}}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Phase() != AwaitingAcks {
		t.Fatalf("expected AwaitingAcks, got %v", p.Phase())
	}

	out, err := p.Step(SignRequest{AggregateKey: keyBytes, Sighashes: [][32]byte{{}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected a second SignRequest mid-round to be ignored")
	}
}
