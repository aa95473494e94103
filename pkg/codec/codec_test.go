package codec

import (
	"bytes"
	"crypto/rand"
	"testing"
)

// Scenario 7: generate a random public key, encode, decode, assert
// structural equality.
func TestRoundTrip_PublicKey(t *testing.T) {
	raw := make([]byte, 33)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	want := PublicKey{Bytes: raw}

	buf := Encode(want)

	var got PublicKey
	if err := Decode(buf, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !bytes.Equal(got.Bytes, want.Bytes) {
		t.Fatalf("round trip mismatch: got %x, want %x", got.Bytes, want.Bytes)
	}
}

// P4: encoding is deterministic - encoding the same value twice
// yields byte-identical output.
func TestEncode_Deterministic(t *testing.T) {
	d := SignerDecision{
		RequestOutpointTxid: bytes.Repeat([]byte{0xab}, 32),
		RequestOutpointVout: 3,
		CanAccept:           true,
		CanSign:             true,
	}

	a := Encode(d)
	b := Encode(d)
	if !bytes.Equal(a, b) {
		t.Fatalf("encoding not deterministic: %x != %x", a, b)
	}
}

func TestRoundTrip_SignerDecision(t *testing.T) {
	want := SignerDecision{
		RequestOutpointTxid: bytes.Repeat([]byte{0x11}, 32),
		RequestOutpointVout: 7,
		WithdrawalRequestID: 0,
		CanAccept:           true,
		CanSign:             false,
	}
	var got SignerDecision
	if err := Decode(Encode(want), &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

// Zero-value optional fields are omitted entirely, not zero-filled -
// encoding a message with CanAccept/CanSign both false should produce
// no field-4/5 bytes.
func TestEncode_OmitsZeroFields(t *testing.T) {
	d := SignerDecision{}
	buf := Encode(d)
	if len(buf) != 0 {
		t.Fatalf("expected empty encoding for all-zero message, got %x", buf)
	}
}

func TestRoundTrip_BitcoinTransactionSignRequest(t *testing.T) {
	want := BitcoinTransactionSignRequest{
		Tx:           []byte{0xde, 0xad, 0xbe, 0xef},
		AggregateKey: bytes.Repeat([]byte{0x02}, 33),
		ChainTip:     bytes.Repeat([]byte{0x03}, 32),
	}
	var got BitcoinTransactionSignRequest
	if err := Decode(Encode(want), &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got.Tx, want.Tx) || !bytes.Equal(got.AggregateKey, want.AggregateKey) || !bytes.Equal(got.ChainTip, want.ChainTip) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

// Map fields serialize in ascending key order regardless of Go map
// iteration order, so two equal maps always produce identical bytes.
func TestDkgPublicShares_MapOrderDeterministic(t *testing.T) {
	shares := map[uint32][]byte{
		5: {0x05},
		1: {0x01},
		3: {0x03},
	}
	m := DkgPublicShares{SignerIndex: 2, Shares: shares}

	var first []byte
	for i := 0; i < 5; i++ {
		buf := Encode(m)
		if first == nil {
			first = buf
			continue
		}
		if !bytes.Equal(buf, first) {
			t.Fatalf("encoding varied across repeated calls: %x != %x", buf, first)
		}
	}

	var got DkgPublicShares
	if err := Decode(first, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Shares) != len(shares) {
		t.Fatalf("expected %d shares, got %d", len(shares), len(got.Shares))
	}
	for k, v := range shares {
		if !bytes.Equal(got.Shares[k], v) {
			t.Fatalf("share %d mismatch: got %x, want %x", k, got.Shares[k], v)
		}
	}
}

func TestRoundTrip_Envelope(t *testing.T) {
	want := Envelope{
		TypeTag:         "SBTC_SIGNER_DECISION",
		Payload:         []byte{0x01, 0x02, 0x03},
		ChainTip:        bytes.Repeat([]byte{0x0a}, 32),
		SenderSignature: bytes.Repeat([]byte{0x0b}, 64),
	}
	var got Envelope
	if err := Decode(Encode(want), &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.TypeTag != want.TypeTag || !bytes.Equal(got.Payload, want.Payload) ||
		!bytes.Equal(got.ChainTip, want.ChainTip) || !bytes.Equal(got.SenderSignature, want.SenderSignature) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestRoundTrip_Uint256(t *testing.T) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	want := Uint256FromBytes(raw)

	var got Uint256
	if err := Decode(Encode(want), &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if got.Bytes() != raw {
		t.Fatalf("Bytes() roundtrip mismatch: got %x, want %x", got.Bytes(), raw)
	}
}

// Unknown trailing fields must be skippable for forward compatibility:
// a decoder for an older message shape ignores fields it doesn't know.
func TestDecode_SkipsUnknownFields(t *testing.T) {
	known := PublicKey{Bytes: []byte{0x01, 0x02, 0x03}}
	buf := Encode(known)
	buf = appendBytesField(buf, 99, []byte{0xff, 0xff})

	var got PublicKey
	if err := Decode(buf, &got); err != nil {
		t.Fatalf("Decode with trailing unknown field: %v", err)
	}
	if !bytes.Equal(got.Bytes, known.Bytes) {
		t.Fatalf("expected known field preserved, got %x", got.Bytes)
	}
}
