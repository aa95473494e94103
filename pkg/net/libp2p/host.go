package libp2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/keep-network/sbtc-signer/pkg/net/key"
)

// NewHost builds a libp2p host bound to listenAddr and keyed by the
// signer's static network private key, and a gossipsub router over it.
// Both are required before NewOverlay can join the signing-set topic.
func NewHost(ctx context.Context, listenAddr string, privateKey *key.NetworkPrivate) (host.Host, *pubsub.PubSub, error) {
	libp2pPrivateKey, _ := networkKeyToLibp2pKeyPair(privateKey)

	h, err := libp2p.New(
		libp2p.Identity(libp2pPrivateKey),
		libp2p.ListenAddrStrings(listenAddr),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, nil, fmt.Errorf("create gossipsub router: %w", err)
	}

	return h, ps, nil
}
