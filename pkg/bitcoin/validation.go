// Package bitcoin implements the request validator (spec §4.1), the
// transaction packagers (§4.2), and the signer-UTXO resolver (§4.3).
package bitcoin

import (
	"math/bits"

	logging "github.com/ipfs/go-log/v2"

	"github.com/keep-network/sbtc-signer/pkg/chain"
	"github.com/keep-network/sbtc-signer/pkg/store/model"
)

var logger = logging.Logger("sbtc-signer:bitcoin")

// DepositLocktimeBlockBuffer is the number of blocks of safety margin
// required between a sweep confirming and the depositor's reclaim path
// becoming spendable (spec §4.1 step 2).
const DepositLocktimeBlockBuffer = 6

// InputValidationResult is the outcome of validating one deposit input,
// per spec §4.1.
type InputValidationResult int

const (
	ResultOk InputValidationResult = iota
	ResultFeeTooHigh
	ResultCannotSignUtxo
	ResultTxNotOnBestChain
	ResultDepositUtxoSpent
	ResultLockTimeExpiry
	ResultNoVote
	ResultRejectedRequest
	ResultUnknown
	ResultUnsupportedLockTime
)

func (r InputValidationResult) String() string {
	switch r {
	case ResultOk:
		return "ok"
	case ResultFeeTooHigh:
		return "fee_too_high"
	case ResultCannotSignUtxo:
		return "cannot_sign_utxo"
	case ResultTxNotOnBestChain:
		return "tx_not_on_best_chain"
	case ResultDepositUtxoSpent:
		return "deposit_utxo_spent"
	case ResultLockTimeExpiry:
		return "lock_time_expiry"
	case ResultNoVote:
		return "no_vote"
	case ResultRejectedRequest:
		return "rejected_request"
	case ResultUnknown:
		return "unknown"
	case ResultUnsupportedLockTime:
		return "unsupported_lock_time"
	default:
		return "invalid"
	}
}

// WithdrawalValidationResult is the outcome of validating one withdrawal
// output.
type WithdrawalValidationResult int

const (
	WithdrawalResultUnknown WithdrawalValidationResult = iota
	// WithdrawalResultUnsupported is always returned today: the open
	// question in spec §9 says the full withdrawal predicate (amount vs
	// max_fee, locktime, vote checks) mirrors deposit validation but is
	// not present in the source this spec was distilled from, so we do
	// not guess it and return Unsupported unconditionally, matching
	// original_source/signer/src/bitcoin/validation.rs:734.
	WithdrawalResultUnsupported
)

func (r WithdrawalValidationResult) String() string {
	if r == WithdrawalResultUnsupported {
		return "unsupported"
	}
	return "unknown"
}

// DepositConfirmationStatus mirrors spec §4.1 step 1.
type DepositConfirmationStatus struct {
	Unconfirmed      bool
	SpentBy          *chain.Hash32 // nil unless spent
	ConfirmedHeight  uint64
	ConfirmedInBlock chain.Hash32
}

// FeeAssessor answers how much of a transaction's total fee a given
// outpoint's input is responsible for (proportional to vsize
// contribution), or reports it does not know about the outpoint.
type FeeAssessor interface {
	// AssessInputFee returns the assessed fee share for outpoint, or ok
	// false if outpoint is not one of the transaction's inputs.
	AssessInputFee(outpoint model.Outpoint, txFeeSats uint64) (assessedSats uint64, ok bool)
}

// DepositRequestReport is the status-report summary of a deposit request
// used for validation (spec §4.1).
type DepositRequestReport struct {
	Outpoint         model.Outpoint
	Status           DepositConfirmationStatus
	CanSign          *bool
	CanAccept        *bool
	Amount           uint64
	MaxFee           uint64
	LockTimeBlocks   uint32
	LockTimeIsBlocks bool
}

// Validate implements the deposit validation algorithm of spec §4.1,
// translated from
// original_source/signer/src/bitcoin/validation.rs:DepositRequestReport::validate.
func (r *DepositRequestReport) Validate(chainTipHeight uint64, tx FeeAssessor, txFeeSats uint64) InputValidationResult {
	var confirmedHeight uint64
	switch {
	case r.Status.Unconfirmed:
		return ResultTxNotOnBestChain
	case r.Status.SpentBy != nil:
		return ResultDepositUtxoSpent
	default:
		confirmedHeight = r.Status.ConfirmedHeight
	}

	if !r.LockTimeIsBlocks {
		return ResultUnsupportedLockTime
	}

	depositAge := saturatingSub(chainTipHeight, confirmedHeight)
	maxAge := uint64(saturatingSubU32(r.LockTimeBlocks, DepositLocktimeBlockBuffer))
	if depositAge >= maxAge {
		return ResultLockTimeExpiry
	}

	assessedSats, ok := tx.AssessInputFee(r.Outpoint, txFeeSats)
	if !ok {
		return ResultUnknown
	}
	maxAllowed := r.MaxFee
	if r.Amount < maxAllowed {
		maxAllowed = r.Amount
	}
	if assessedSats > maxAllowed {
		return ResultFeeTooHigh
	}

	switch {
	case r.CanAccept == nil:
		return ResultNoVote
	case !*r.CanAccept:
		return ResultRejectedRequest
	}

	switch {
	case r.CanSign == nil:
		return ResultNoVote
	case !*r.CanSign:
		return ResultCannotSignUtxo
	}

	return ResultOk
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func saturatingSubU32(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}

// WithdrawalRequestReport is the status-report summary of a withdrawal
// request used for validation.
type WithdrawalRequestReport struct {
	ID             model.QualifiedRequestID
	Amount         uint64
	MaxFee         uint64
	ScriptPubkey   []byte
}

// Validate always returns Unsupported; see WithdrawalResultUnsupported.
func (r *WithdrawalRequestReport) Validate(_ uint64, _ FeeAssessor, _ uint64) WithdrawalValidationResult {
	return WithdrawalResultUnsupported
}

// TxRequestIDs is a container for all deposits and withdrawals that are
// part of one transaction within a package.
type TxRequestIDs struct {
	Deposits    []model.Outpoint
	Withdrawals []model.QualifiedRequestID
}

// IsUnique checks that a transaction package does not contain duplicate
// deposits or withdrawals (spec §4.1 uniqueness precheck, property P6).
func IsUnique(packages []TxRequestIDs) bool {
	deposits := make(map[model.Outpoint]struct{})
	withdrawals := make(map[model.QualifiedRequestID]struct{})
	for _, reqs := range packages {
		for _, out := range reqs.Deposits {
			if _, seen := deposits[out]; seen {
				return false
			}
			deposits[out] = struct{}{}
		}
		for _, id := range reqs.Withdrawals {
			if _, seen := withdrawals[id]; seen {
				return false
			}
			withdrawals[id] = struct{}{}
		}
	}
	return true
}

// InputValidationOutcome pairs a sighash-identifying input with its
// validation result.
type InputValidationOutcome struct {
	Outpoint model.Outpoint
	Result   InputValidationResult
}

// OutputValidationOutcome pairs an output index with its withdrawal
// validation result.
type OutputValidationOutcome struct {
	OutputIndex int
	Result      WithdrawalValidationResult
}

// TxValidation is the outcome of validating one candidate transaction
// within a package: the per-input and per-output outcomes, and whether
// the transaction as a whole is valid.
type TxValidation struct {
	Inputs  []InputValidationOutcome
	Outputs []OutputValidationOutcome
	Valid   bool
}

// WillSign reports whether the signer will participate in signing the
// given input: the transaction must be valid as a whole, and the input's
// own result must be Ok.
func (v TxValidation) WillSign(outpoint model.Outpoint) bool {
	if !v.Valid {
		return false
	}
	for _, in := range v.Inputs {
		if in.Outpoint == outpoint {
			return in.Result == ResultOk
		}
	}
	return false
}

// ValidateTransaction computes the TxValidation for one candidate
// transaction given its per-input deposit reports and per-output
// withdrawal reports. A transaction is valid as a whole iff every deposit
// input is Ok or CannotSignUtxo, and every withdrawal output passes
// withdrawal validation (spec §4.1).
func ValidateTransaction(
	chainTipHeight uint64,
	tx FeeAssessor,
	txFeeSats uint64,
	deposits []*DepositRequestReport,
	withdrawals []*WithdrawalRequestReport,
) TxValidation {
	out := TxValidation{Valid: true}

	for _, d := range deposits {
		res := d.Validate(chainTipHeight, tx, txFeeSats)
		out.Inputs = append(out.Inputs, InputValidationOutcome{Outpoint: d.Outpoint, Result: res})
		if res != ResultOk && res != ResultCannotSignUtxo {
			out.Valid = false
		}
	}

	for i, w := range withdrawals {
		res := w.Validate(chainTipHeight, tx, txFeeSats)
		out.Outputs = append(out.Outputs, OutputValidationOutcome{OutputIndex: i, Result: res})
		out.Valid = false // no withdrawal result is currently a pass
	}

	return out
}

// votePopcount returns the number of set bits across the two-word vote
// bitmap (spec §9 bitmap representation: two 64-bit words).
func votePopcount(hi, lo uint64) int {
	return bits.OnesCount64(hi) + bits.OnesCount64(lo)
}
