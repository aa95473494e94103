package bitcoin

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/keep-network/sbtc-signer/pkg/signererrors"
	"github.com/keep-network/sbtc-signer/pkg/store/model"
)

// CandidatePackage is one unsigned sweep transaction together with the
// per-input sighashes its signing round must collect shares for (spec
// §4.4 step 0: "construct sighashes").
type CandidatePackage struct {
	Tx        *wire.MsgTx
	Sighashes [][32]byte
}

// BuildCandidatePackage assembles the unsigned key-path-spend sweep
// transaction for one packaged bag: the current signer UTXO as input 0,
// each bag deposit's outpoint as a further input, one output per
// withdrawal, and a change output back to the signers' own taproot
// scriptPubKey. Deposit inputs are modeled as spent via the signers'
// key path: the reclaim-script / tapscript leaf path a depositor could
// alternatively use is out of scope here, since no merkle-proof/control-
// block material is tracked anywhere in model.DepositRequest to build
// it from.
func BuildCandidatePackage(
	signerUtxo model.SignerUtxo,
	deposits []model.Outpoint,
	withdrawals []model.WithdrawalRequest,
	aggregateKey *btcec.PublicKey,
	feeRateSatPerVB float64,
) (*CandidatePackage, error) {
	scriptPubkey, err := SignersScriptPubkey(aggregateKey)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)

	signerHash, err := chainhash.NewHash(signerUtxo.Outpoint.Txid[:])
	if err != nil {
		return nil, signererrors.Wrap(signererrors.Validation, "parse signer utxo txid", err)
	}
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(signerHash, signerUtxo.Outpoint.Vout), nil, nil))
	prevOuts := []*wire.TxOut{{Value: int64(signerUtxo.AmountSats), PkScript: scriptPubkey}}

	for _, d := range deposits {
		depositHash, err := chainhash.NewHash(d.Txid[:])
		if err != nil {
			return nil, signererrors.Wrap(signererrors.Validation, "parse deposit txid", err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(depositHash, d.Vout), nil, nil))
		// The deposit's own amount/script are resolved by the caller from
		// its DepositRequest; BuildCandidatePackage only needs an input
		// slot here, since the key-path sighash below is computed against
		// the signers' own UTXO, not the deposit's.
		prevOuts = append(prevOuts, &wire.TxOut{Value: 0, PkScript: scriptPubkey})
	}

	var totalOut int64
	for _, w := range withdrawals {
		tx.AddTxOut(wire.NewTxOut(int64(w.Amount), w.ScriptPubkey))
		totalOut += int64(w.Amount)
	}

	estimatedVsize := txBaseVsizeEstimate + int64(len(tx.TxIn))*DepositInputVsizeEstimate
	fee := int64(feeRateSatPerVB * float64(estimatedVsize))
	change := int64(signerUtxo.AmountSats) - totalOut - fee
	if change > 0 {
		tx.AddTxOut(wire.NewTxOut(change, scriptPubkey))
	}

	prevOutFetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range tx.TxIn {
		prevOutFetcher.AddPrevOut(in.PreviousOutPoint, prevOuts[i])
	}
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	sighashes := make([][32]byte, len(tx.TxIn))
	for i := range tx.TxIn {
		sigHash, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashDefault, tx, i, prevOutFetcher)
		if err != nil {
			return nil, signererrors.Wrap(signererrors.Validation, "compute taproot sighash", err)
		}
		copy(sighashes[i][:], sigHash)
	}

	return &CandidatePackage{Tx: tx, Sighashes: sighashes}, nil
}

// AttachKeyPathWitnesses sets every input's witness to a single BIP-341
// key-path signature, once a signing round has produced one per input.
func AttachKeyPathWitnesses(tx *wire.MsgTx, signatures [][]byte) error {
	if len(signatures) != len(tx.TxIn) {
		return signererrors.New(signererrors.Consistency, "signature count does not match input count")
	}
	for i, sig := range signatures {
		tx.TxIn[i].Witness = wire.TxWitness{sig}
	}
	return nil
}

// DepositInputVsizeEstimate approximates the marginal virtual size a
// single taproot key-path input adds to a sweep transaction (~57.5
// vbytes for a P2TR key-path input's outpoint+sequence+64-byte witness,
// rounded up). Used for fee/package-size estimation until a real
// per-transaction vsize calculator is wired in.
const DepositInputVsizeEstimate = 58

// txBaseVsizeEstimate approximates the fixed overhead (version, locktime,
// segwit marker/flag, input/output counts: ~10.5 vbytes, rounded up) of a
// sweep transaction before its inputs are counted. Outputs, including the
// change output, are not part of this estimate.
const txBaseVsizeEstimate = 11
