package libp2p

import (
	"crypto/elliptic"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/keep-network/sbtc-signer/pkg/net/key"
)

var errUnrecognizedKeyType = errors.New("libp2p: unrecognized public key type")

// DefaultCurve is the default elliptic curve implementation used in the
// net/libp2p package. The libp2p network uses the secp256k1 curve and
// the specific implementation is provided by the btcec package.
var DefaultCurve elliptic.Curve = btcec.S256()

// networkKeyToLibp2pKeyPair converts a signer network keypair to the
// libp2p key pair that uses the libp2p-specific curve implementation.
func networkKeyToLibp2pKeyPair(
	privateKey *key.NetworkPrivate,
) (*libp2pcrypto.Secp256k1PrivateKey, *libp2pcrypto.Secp256k1PublicKey) {
	networkPrivateKey := libp2pcrypto.Secp256k1PrivateKey(*privateKey)
	networkPublicKey := libp2pcrypto.Secp256k1PublicKey(*privateKey.PubKey())

	return &networkPrivateKey, &networkPublicKey
}

// libp2pPublicKeyToNetworkPublicKey converts a libp2p network public key
// back to the signer's network public key type.
func libp2pPublicKeyToNetworkPublicKey(
	publicKey libp2pcrypto.PubKey,
) (*key.NetworkPublic, error) {
	secp256k1PublicKey, ok := publicKey.(*libp2pcrypto.Secp256k1PublicKey)
	if !ok {
		return nil, errUnrecognizedKeyType
	}
	return (*btcec.PublicKey)(secp256k1PublicKey), nil
}
