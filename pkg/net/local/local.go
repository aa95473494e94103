// Package local provides an in-memory stand-in for pkg/net/libp2p's
// gossip overlay, used by tests and single-process developer setups so
// the coordinator and signer event loops' gossip wiring can be
// exercised without a real libp2p host. It mirrors Overlay's
// Publish/Events contract exactly (spec §4.5).
package local

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/keep-network/sbtc-signer/pkg/net/key"
)

var logger = logging.Logger("sbtc-signer:net:local")

// Event mirrors pkg/net/libp2p.Overlay's Event contract, so code
// written against one transport's events reads the same way against
// the other.
type Event interface {
	isOverlayEvent()
}

// PublishSuccess reports that a published message reached every other
// dispatcher sharing this room.
type PublishSuccess struct{ MsgID string }

// PublishFailure is never emitted by this transport today - there is no
// underlying network call that can fail - but it is kept so callers
// written against pkg/net/libp2p.Overlay's Event set do not need a
// transport-specific switch.
type PublishFailure struct {
	MsgID string
	Err   error
}

// MessageReceived reports an inbound message from another dispatcher in
// the same room.
type MessageReceived struct {
	TypeTag  string
	Payload  []byte
	ChainTip [32]byte
	Sender   []byte
}

func (PublishSuccess) isOverlayEvent()  {}
func (PublishFailure) isOverlayEvent()  {}
func (MessageReceived) isOverlayEvent() {}

// room is the shared broadcast domain for every Dispatcher connected
// under the same name, so independently-created dispatchers of the
// same name see each other's publishes the way peers on the same
// libp2p gossip topic would.
type room struct {
	mutex       sync.Mutex
	subscribers []*Dispatcher
}

var (
	roomsMutex sync.Mutex
	rooms      = make(map[string]*room)
)

func getRoom(name string) *room {
	roomsMutex.Lock()
	defer roomsMutex.Unlock()

	r, ok := rooms[name]
	if !ok {
		r = &room{}
		rooms[name] = r
	}
	return r
}

// Dispatcher is one signer's in-memory connection to a named room,
// implementing the same Publish/Events contract the coordinator and
// signer loops drive pkg/net/libp2p.Overlay through.
type Dispatcher struct {
	publicKey []byte
	room      *room
	events    chan Event
}

// Connect joins name's room under staticKey's identity. Tests should
// use a unique name per test so the package-level room registry does
// not leak state between them.
func Connect(name string, staticKey *key.NetworkPrivate) *Dispatcher {
	d := &Dispatcher{
		publicKey: key.Marshal(staticKey.PubKey()),
		room:      getRoom(name),
		events:    make(chan Event, 64),
	}
	d.room.mutex.Lock()
	d.room.subscribers = append(d.room.subscribers, d)
	d.room.mutex.Unlock()
	return d
}

// Close removes this dispatcher from its room; it stops receiving
// future messages, and its own publishes stop reaching anyone.
func (d *Dispatcher) Close() {
	d.room.mutex.Lock()
	defer d.room.mutex.Unlock()
	kept := d.room.subscribers[:0]
	for _, sub := range d.room.subscribers {
		if sub != d {
			kept = append(kept, sub)
		}
	}
	d.room.subscribers = kept
}

// Events returns the channel the application should drain for
// PublishSuccess/MessageReceived notifications.
func (d *Dispatcher) Events() <-chan Event { return d.events }

// Publish delivers payload under typeTag to every other dispatcher
// currently connected to this room, mirroring the signature of
// pkg/net/libp2p.Overlay.Publish so either can back the coordinator/
// signer loops' Publisher interface. ctx is accepted only to match that
// signature; delivery here is synchronous and local, so it is never
// consulted.
func (d *Dispatcher) Publish(_ context.Context, typeTag string, payload []byte, chainTip [32]byte) {
	msgID := fmt.Sprintf("%x", sha256.Sum256(append(append([]byte(typeTag), payload...), chainTip[:]...)))

	d.room.mutex.Lock()
	subscribers := make([]*Dispatcher, len(d.room.subscribers))
	copy(subscribers, d.room.subscribers)
	d.room.mutex.Unlock()

	member := false
	for _, sub := range subscribers {
		member = member || sub == d
	}
	if !member {
		return
	}

	for _, sub := range subscribers {
		if sub == d {
			continue
		}
		sub.emit(MessageReceived{
			TypeTag:  typeTag,
			Payload:  append([]byte(nil), payload...),
			ChainTip: chainTip,
			Sender:   d.publicKey,
		})
	}
	d.emit(PublishSuccess{MsgID: msgID})
}

func (d *Dispatcher) emit(e Event) {
	select {
	case d.events <- e:
	default:
		logger.Warn("local dispatcher event channel full, dropping event")
	}
}
