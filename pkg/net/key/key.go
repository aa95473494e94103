// Package key provides the signer's network identity: a secp256k1
// keypair used to authenticate gossip messages and peer connections,
// independent of the underlying transport (libp2p or the in-memory
// local provider).
package key

import (
	"crypto/rand"

	"github.com/btcsuite/btcd/btcec/v2"
)

// NetworkPrivate is a signer's network identity private key.
type NetworkPrivate = btcec.PrivateKey

// NetworkPublic is a signer's network identity public key.
type NetworkPublic = btcec.PublicKey

// GenerateStaticNetworkKey creates a new random network keypair.
func GenerateStaticNetworkKey() (*NetworkPrivate, *NetworkPublic, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, err
	}
	return priv, priv.PubKey(), nil
}

// Marshal renders a network public key to its compressed byte form,
// the canonical on-wire identity used in SenderPublicKey fields.
func Marshal(publicKey *NetworkPublic) []byte {
	return publicKey.SerializeCompressed()
}
