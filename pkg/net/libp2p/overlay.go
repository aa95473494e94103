// Package libp2p implements the production gossip overlay: a single
// pubsub topic shared by the signing set, with peer authorization,
// ECDSA-authenticated envelopes, and outgoing-message deduplication
// (spec §4.5).
package libp2p

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	multiaddr "github.com/multiformats/go-multiaddr"

	"github.com/keep-network/sbtc-signer/pkg/codec"
	"github.com/keep-network/sbtc-signer/pkg/net/key"
	"github.com/keep-network/sbtc-signer/pkg/signererrors"
)

var logger = logging.Logger("sbtc-signer:net:libp2p")

// Event is a signal-bus notification emitted by the overlay (spec §4.5
// publish/receive paths).
type Event interface {
	isOverlayEvent()
}

// PublishSuccess reports that a published message was accepted by the
// pubsub layer.
type PublishSuccess struct{ MsgID string }

// PublishFailure reports that publishing a message failed.
type PublishFailure struct {
	MsgID string
	Err   error
}

// MessageReceived reports a decoded, signature-verified inbound
// message.
type MessageReceived struct {
	TypeTag  string
	Payload  []byte
	ChainTip [32]byte
	Sender   []byte
}

func (PublishSuccess) isOverlayEvent()   {}
func (PublishFailure) isOverlayEvent()   {}
func (MessageReceived) isOverlayEvent()  {}

// dedupCapacity is the number of recently-published message ids kept to
// suppress WAN replay loopback (spec §4.5 deduplication).
const dedupCapacity = 500

// SigningSet authorizes remote peers by their network public key.
type SigningSet interface {
	IsMember(publicKey []byte) bool
}

// Overlay is a single-topic gossip overlay bound to one signer's
// network identity.
type Overlay struct {
	host       host.Host
	ps         *pubsub.PubSub
	topic      *pubsub.Topic
	sub        *pubsub.Subscription
	privateKey *key.NetworkPrivate
	signingSet SigningSet
	events     chan Event

	dedupMutex sync.Mutex
	dedupRing  []string
	dedupSeen  map[string]struct{}
}

// NewOverlay joins topicName on h using ps, authorizing remote peers
// against signingSet and signing outgoing messages with privateKey.
func NewOverlay(
	h host.Host,
	ps *pubsub.PubSub,
	topicName string,
	privateKey *key.NetworkPrivate,
	signingSet SigningSet,
) (*Overlay, error) {
	topic, err := ps.Join(topicName)
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Configuration, "join gossip topic", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Configuration, "subscribe to gossip topic", err)
	}

	o := &Overlay{
		host:       h,
		ps:         ps,
		topic:      topic,
		sub:        sub,
		privateKey: privateKey,
		signingSet: signingSet,
		events:     make(chan Event, 64),
		dedupSeen:  make(map[string]struct{}),
	}

	h.Network().Notify(&connectionGate{overlay: o})

	return o, nil
}

// Events returns the channel the application should drain for
// PublishSuccess/PublishFailure/MessageReceived notifications.
func (o *Overlay) Events() <-chan Event { return o.events }

// Publish signs and broadcasts payload under typeTag, embedding the
// sender's current bitcoin chain tip, per the publish path of spec
// §4.5.
func (o *Overlay) Publish(ctx context.Context, typeTag string, payload []byte, chainTip [32]byte) {
	digest := envelopeDigest(typeTag, payload, chainTip)
	sig := ecdsa.Sign(o.privateKey, digest[:])

	envelope := codec.Envelope{
		TypeTag:         typeTag,
		Payload:         payload,
		ChainTip:        chainTip[:],
		SenderSignature: sig.Serialize(),
	}
	wire := codec.Encode(envelope)
	msgID := fmt.Sprintf("%x", sha256.Sum256(wire))

	o.rememberOutgoing(msgID)

	if err := o.topic.Publish(ctx, wire); err != nil {
		o.emit(PublishFailure{MsgID: msgID, Err: err})
		return
	}
	o.emit(PublishSuccess{MsgID: msgID})
}

// Run drains incoming pubsub messages until ctx is canceled, verifying
// authorization and signatures and emitting MessageReceived for each
// valid one (spec §4.5 receive path).
func (o *Overlay) Run(ctx context.Context) error {
	for {
		msg, err := o.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return signererrors.Wrap(signererrors.Transient, "gossip subscription closed", err)
		}

		msgID := fmt.Sprintf("%x", sha256.Sum256(msg.Data))
		if o.isDuplicate(msgID) {
			continue
		}

		senderPub, err := identifyPeer(o.host, msg.ReceivedFrom)
		if err != nil {
			logger.Debugw("dropping message from unidentifiable peer", "peer", msg.ReceivedFrom, "err", err)
			continue
		}
		if !o.signingSet.IsMember(senderPub) {
			logger.Debugw("dropping message from unauthorized peer", "peer", msg.ReceivedFrom)
			continue
		}

		var envelope codec.Envelope
		if err := codec.Decode(msg.Data, &envelope); err != nil {
			logger.Debugw("dropping undecodable message", "err", err)
			continue
		}

		var chainTip [32]byte
		copy(chainTip[:], envelope.ChainTip)
		digest := envelopeDigest(envelope.TypeTag, envelope.Payload, chainTip)

		sig, err := ecdsa.ParseDERSignature(envelope.SenderSignature)
		if err != nil {
			logger.Debugw("dropping message with unparsable signature", "err", err)
			continue
		}
		senderKey, err := btcecPubKeyFromBytes(senderPub)
		if err != nil {
			logger.Debugw("dropping message from malformed sender key", "err", err)
			continue
		}
		if !sig.Verify(digest[:], senderKey) {
			logger.Warnw("dropping message with invalid signature", "peer", msg.ReceivedFrom)
			continue
		}

		o.emit(MessageReceived{
			TypeTag:  envelope.TypeTag,
			Payload:  envelope.Payload,
			ChainTip: chainTip,
			Sender:   senderPub,
		})
	}
}

func (o *Overlay) emit(e Event) {
	select {
	case o.events <- e:
	default:
		logger.Warn("overlay event channel full, dropping event")
	}
}

func (o *Overlay) rememberOutgoing(msgID string) {
	o.dedupMutex.Lock()
	defer o.dedupMutex.Unlock()

	if _, ok := o.dedupSeen[msgID]; ok {
		return
	}
	if len(o.dedupRing) >= dedupCapacity {
		oldest := o.dedupRing[0]
		o.dedupRing = o.dedupRing[1:]
		delete(o.dedupSeen, oldest)
	}
	o.dedupRing = append(o.dedupRing, msgID)
	o.dedupSeen[msgID] = struct{}{}
}

func (o *Overlay) isDuplicate(msgID string) bool {
	o.dedupMutex.Lock()
	defer o.dedupMutex.Unlock()
	_, ok := o.dedupSeen[msgID]
	return ok
}

func envelopeDigest(typeTag string, payload []byte, chainTip [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(typeTag))
	h.Write(payload)
	h.Write(chainTip[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// identifyPeer recovers a connected peer's network public key via its
// libp2p peer identity.
func identifyPeer(h host.Host, p peer.ID) ([]byte, error) {
	pubKey, err := p.ExtractPublicKey()
	if err != nil {
		pubKey = h.Peerstore().PubKey(p)
	}
	if pubKey == nil {
		return nil, fmt.Errorf("no public key available for peer %s", p)
	}
	networkKey, err := libp2pPublicKeyToNetworkPublicKey(pubKey)
	if err != nil {
		return nil, err
	}
	return key.Marshal(networkKey), nil
}

// connectionGate drops connections from peers outside the signing set
// immediately after identification (spec §4.5 peer authorization).
type connectionGate struct {
	overlay *Overlay
}

func (g *connectionGate) Listen(network.Network, multiaddr.Multiaddr)      {}
func (g *connectionGate) ListenClose(network.Network, multiaddr.Multiaddr) {}

func (g *connectionGate) Connected(n network.Network, c network.Conn) {
	peerID := c.RemotePeer()
	pub, err := identifyPeer(g.overlay.host, peerID)
	if err != nil {
		logger.Debugw("closing connection, could not identify peer", "peer", peerID, "err", err)
		_ = n.ClosePeer(peerID)
		return
	}
	if !g.overlay.signingSet.IsMember(pub) {
		logger.Infow("closing connection from non-signing-set peer", "peer", peerID)
		_ = n.ClosePeer(peerID)
	}
}

func (g *connectionGate) Disconnected(network.Network, network.Conn) {}

// btcecPubKeyFromBytes parses a compressed secp256k1 public key.
func btcecPubKeyFromBytes(b []byte) (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(b)
}
