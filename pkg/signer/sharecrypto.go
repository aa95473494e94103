package signer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/hkdf"

	"github.com/keep-network/sbtc-signer/pkg/signererrors"
)

// shareCipher seals a participant's plaintext DKG private share before
// it is handed to store.Handle for persistence (spec §4.4 Finalize
// contract: "locally-encrypted private state"). The AES-256-GCM
// construction mirrors the example pack's mnemonic-at-rest encryption,
// but keys it from the signer's long-term network private key via
// HKDF rather than an operator password, since a signer node runs
// unattended and has no passphrase to prompt for.
type shareCipher struct {
	aead cipher.AEAD
}

func newShareCipher(networkKey *btcec.PrivateKey) (*shareCipher, error) {
	kdf := hkdf.New(sha256.New, networkKey.Serialize(), nil, []byte("sbtc-signer/dkg-share-seal"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, signererrors.Wrap(signererrors.Cryptographic, "derive dkg share encryption key", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Cryptographic, "init dkg share cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Cryptographic, "init dkg share gcm", err)
	}
	return &shareCipher{aead: aead}, nil
}

// encrypt seals plaintext with a fresh random nonce, prepended to the
// returned ciphertext so decrypt needs no side-channel for it.
func (c *shareCipher) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, signererrors.Wrap(signererrors.Cryptographic, "generate dkg share nonce", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt reverses encrypt. It has the shape pkg/dkg.Restore takes for
// its decrypt argument; nothing in this package calls it.
func (c *shareCipher) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, signererrors.New(signererrors.Cryptographic, "dkg share ciphertext too short")
	}
	nonce, ct := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Cryptographic, "decrypt dkg share", err)
	}
	return plaintext, nil
}
