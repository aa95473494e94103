package dkg

import (
	"encoding/hex"
	"encoding/json"

	"github.com/keep-network/keep-common/pkg/persistence"

	"github.com/keep-network/sbtc-signer/pkg/signererrors"
	"github.com/keep-network/sbtc-signer/pkg/store/model"
)

// SharesStore persists EncryptedDkgShares rows to local disk, grounded
// on the teacher's use of keep-common's generic persistence.Handle for
// wallet signing material.
type SharesStore struct {
	handle persistence.Handle
}

func NewSharesStore(handle persistence.Handle) *SharesStore {
	return &SharesStore{handle: handle}
}

// Save persists shares under a filename keyed by its aggregate key, so
// a restarted participant can reconstruct its signing state machine
// without rerunning DKG (spec §4.4 persistence contract).
func (s *SharesStore) Save(shares *model.EncryptedDkgShares) error {
	payload, err := json.Marshal(shares)
	if err != nil {
		return signererrors.Wrap(signererrors.Configuration, "marshal dkg shares", err)
	}
	name := hex.EncodeToString(shares.AggregateKey[:]) + ".json"
	if err := s.handle.Save(payload, "", name); err != nil {
		return signererrors.Wrap(signererrors.Transient, "persist dkg shares", err)
	}
	return nil
}

// LoadAll reconstructs every persisted EncryptedDkgShares row, used at
// startup to repopulate in-memory signing readiness without requiring
// a fresh DKG round.
func (s *SharesStore) LoadAll() ([]*model.EncryptedDkgShares, error) {
	descriptors, err := s.handle.ReadAll()
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Transient, "read persisted dkg shares", err)
	}

	var out []*model.EncryptedDkgShares
	for _, d := range descriptors {
		content, _, err := d.Content()
		if err != nil {
			return nil, signererrors.Wrap(signererrors.Transient, "read dkg shares descriptor", err)
		}
		var shares model.EncryptedDkgShares
		if err := json.Unmarshal(content, &shares); err != nil {
			return nil, signererrors.Wrap(signererrors.Configuration, "unmarshal dkg shares", err)
		}
		out = append(out, &shares)
	}
	return out, nil
}

// Restore decrypts a persisted row's private share and returns the
// plaintext bytes. It does not rebuild a signing state machine or set
// an aggregate key.
func Restore(shares *model.EncryptedDkgShares, decrypt func([]byte) ([]byte, error)) ([]byte, error) {
	privateShareBytes, err := decrypt(shares.EncryptedPrivateShare)
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Cryptographic, "decrypt dkg private share", err)
	}
	return privateShareBytes, nil
}
