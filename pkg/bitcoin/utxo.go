package bitcoin

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"

	"github.com/keep-network/sbtc-signer/pkg/chain"
	"github.com/keep-network/sbtc-signer/pkg/signererrors"
	"github.com/keep-network/sbtc-signer/pkg/store/model"
)

// SignersScriptPubkey derives the taproot P2TR scriptPubKey for the
// aggregate key K: a key-path-only taproot output whose internal key is
// the BIP-341 tweak of K with an empty merkle root (spec §4.3).
func SignersScriptPubkey(aggregateKey *btcec.PublicKey) ([]byte, error) {
	tweaked := txscript.ComputeTaprootKeyNoScript(aggregateKey)
	return txscript.PayToTaprootScript(tweaked)
}

// TweakedAggregateKey returns the x-only, BIP-341 key-path-only tweaked
// aggregate public key K'.
func TweakedAggregateKey(aggregateKey *btcec.PublicKey) [32]byte {
	tweaked := txscript.ComputeTaprootKeyNoScript(aggregateKey)
	xonly, _ := schnorr.ParsePubKey(schnorr.SerializePubKey(tweaked))
	var out [32]byte
	copy(out[:], schnorr.SerializePubKey(xonly))
	return out
}

// Candidate is a confirmed transaction output considered by the signer
// UTXO resolver.
type Candidate struct {
	Outpoint        model.Outpoint
	ScriptPubkey    []byte
	AmountSats      uint64
	ConfirmedBlock  chain.Hash32
	ConfirmedHeight uint64
	// IsFirstOutput must be true: only the first output of its
	// transaction is considered (spec §4.3 condition 2).
	IsFirstOutput bool
	// SpentByLaterTx is true if a later canonical transaction's input
	// consumes this output (spec §4.3 condition 4).
	SpentByLaterTx bool
}

// ResolveSignerUtxo implements the signer-UTXO resolver of spec §4.3: the
// unique unspent output whose containing transaction is confirmed on the
// canonical chain, is the first output of that transaction, whose
// scriptPubKey matches the aggregate key's taproot scriptPubKey, that is
// not later spent, and among all such candidates has the greatest
// confirming-block height. Returns (nil, nil) if there are no candidates,
// and signererrors.ErrTooManySignerUtxos if more than one candidate
// survives filtering within the same (greatest) block.
func ResolveSignerUtxo(candidates []Candidate, aggregateKey *btcec.PublicKey) (*model.SignerUtxo, error) {
	wantScript, err := SignersScriptPubkey(aggregateKey)
	if err != nil {
		return nil, err
	}

	var filtered []Candidate
	for _, c := range candidates {
		if !c.IsFirstOutput || c.SpentByLaterTx {
			continue
		}
		if !bytes.Equal(c.ScriptPubkey, wantScript) {
			continue
		}
		filtered = append(filtered, c)
	}

	if len(filtered) == 0 {
		return nil, nil
	}

	var bestHeight uint64
	var atBest []Candidate
	for i, c := range filtered {
		if i == 0 || c.ConfirmedHeight > bestHeight {
			bestHeight = c.ConfirmedHeight
			atBest = []Candidate{c}
			continue
		}
		if c.ConfirmedHeight == bestHeight {
			atBest = append(atBest, c)
		}
	}

	if len(atBest) > 1 {
		return nil, signererrors.ErrTooManySignerUtxos
	}

	winner := atBest[0]
	xonly := TweakedAggregateKey(aggregateKey)
	return &model.SignerUtxo{
		Outpoint:     winner.Outpoint,
		AmountSats:   winner.AmountSats,
		AggregateKey: xonly,
	}, nil
}
