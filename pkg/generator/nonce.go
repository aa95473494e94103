package generator

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Nonce is one pre-generated Schnorr nonce scalar, consumed by the
// signing state machine's per-input NonceCommit step (spec §4.4 step 3)
// so a signing round never blocks waiting on fresh randomness.
type Nonce struct {
	Scalar *btcec.ModNScalar
}

// NoncePersistence is a no-op persistence handle: nonces are single-use
// secrets that must never be written to disk or reused after a
// restart, so the pool always starts empty and regenerates from
// scratch.
type NoncePersistence struct{}

func (NoncePersistence) Save(*Nonce) error            { return nil }
func (NoncePersistence) Delete(*Nonce) error           { return nil }
func (NoncePersistence) ReadAll() ([]*Nonce, error)    { return nil, nil }

// NewNoncePool starts a background-filled pool of Schnorr nonces. It
// registers a fresh ProtocolLatch with scheduler and skips generating
// while that latch is engaged; the latch is not returned, so no caller
// can engage it and generation is not paused during signing rounds.
func NewNoncePool(scheduler *Scheduler, targetSize int) *ParameterPool[Nonce] {
	latch := NewProtocolLatch()
	scheduler.RegisterProtocol(latch)

	generate := func(ctx context.Context) *Nonce {
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if latch.isEngaged() {
				time.Sleep(time.Millisecond)
				continue
			}
			priv, err := btcec.NewPrivateKey()
			if err != nil {
				continue
			}
			var scalar btcec.ModNScalar
			scalar.SetByteSlice(priv.Serialize())
			return &Nonce{Scalar: &scalar}
		}
	}

	return NewParameterPool[Nonce](logger, scheduler, NoncePersistence{}, targetSize, generate, 0)
}

func (n Nonce) hex() string {
	b := n.Scalar.Bytes()
	return hex.EncodeToString(b[:])
}
