package local

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/keep-network/sbtc-signer/pkg/codec"
	"github.com/keep-network/sbtc-signer/pkg/net/key"
)

func mustKey(t *testing.T) *key.NetworkPrivate {
	t.Helper()
	priv, _, err := key.GenerateStaticNetworkKey()
	if err != nil {
		t.Fatalf("generate network key: %v", err)
	}
	return priv
}

func TestDispatcher_DeliversToOtherSubscribers(t *testing.T) {
	roomName := "TestDispatcher_DeliversToOtherSubscribers"
	a := Connect(roomName, mustKey(t))
	b := Connect(roomName, mustKey(t))

	chainTip := [32]byte{1, 2, 3}
	a.Publish(context.Background(), "SOME_TYPE", []byte("payload"), chainTip)

	select {
	case ev := <-a.Events():
		if _, ok := ev.(PublishSuccess); !ok {
			t.Fatalf("expected the publisher to see PublishSuccess, got %T", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publisher's own event")
	}

	select {
	case ev := <-b.Events():
		msg, ok := ev.(MessageReceived)
		if !ok {
			t.Fatalf("expected the other subscriber to see MessageReceived, got %T", ev)
		}
		if msg.TypeTag != "SOME_TYPE" || !bytes.Equal(msg.Payload, []byte("payload")) || msg.ChainTip != chainTip {
			t.Fatalf("unexpected message contents: %+v", msg)
		}
		if !bytes.Equal(msg.Sender, a.publicKey) {
			t.Fatalf("expected sender to be the publisher's key")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	// The publisher must not receive its own broadcast back.
	select {
	case ev := <-a.Events():
		t.Fatalf("publisher should not receive its own message, got %T", ev)
	default:
	}
}

func TestDispatcher_IsolatedRooms(t *testing.T) {
	a := Connect("TestDispatcher_IsolatedRooms/one", mustKey(t))
	b := Connect("TestDispatcher_IsolatedRooms/two", mustKey(t))

	a.Publish(context.Background(), "SOME_TYPE", []byte("payload"), [32]byte{})

	select {
	case ev := <-b.Events():
		t.Fatalf("dispatcher in a different room should not receive anything, got %T", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcher_ClosedDispatcherStopsReceiving(t *testing.T) {
	roomName := "TestDispatcher_ClosedDispatcherStopsReceiving"
	a := Connect(roomName, mustKey(t))
	b := Connect(roomName, mustKey(t))
	b.Close()

	a.Publish(context.Background(), "SOME_TYPE", []byte("payload"), [32]byte{})

	select {
	case ev := <-b.Events():
		t.Fatalf("closed dispatcher should not receive anything, got %T", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestDispatcher_CarriesCanonicalWireFormat exercises this transport
// with the exact codec-encoded message shape the coordinator and
// signer loops' HandleGossipMessage methods decode, confirming the
// in-memory room is a faithful stand-in for pkg/net/libp2p.Overlay for
// that purpose.
func TestDispatcher_CarriesCanonicalWireFormat(t *testing.T) {
	roomName := "TestDispatcher_CarriesCanonicalWireFormat"
	coordinatorSide := Connect(roomName, mustKey(t))
	signerSide := Connect(roomName, mustKey(t))

	ack := codec.SignAck{SignerIndex: 3}
	coordinatorSide.Publish(context.Background(), ack.TypeTag(), codec.Encode(ack), [32]byte{9})

	select {
	case ev := <-signerSide.Events():
		msg, ok := ev.(MessageReceived)
		if !ok {
			t.Fatalf("expected MessageReceived, got %T", ev)
		}
		if msg.TypeTag != ack.TypeTag() {
			t.Fatalf("unexpected type tag: %q", msg.TypeTag)
		}
		var decoded codec.SignAck
		if err := codec.Decode(msg.Payload, &decoded); err != nil {
			t.Fatalf("decode delivered payload: %v", err)
		}
		if decoded.SignerIndex != ack.SignerIndex {
			t.Fatalf("expected signer index %d, got %d", ack.SignerIndex, decoded.SignerIndex)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
