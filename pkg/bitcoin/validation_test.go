package bitcoin

import (
	"testing"

	"github.com/keep-network/sbtc-signer/pkg/store/model"
)

// stubFeeAssessor implements FeeAssessor for a single known outpoint.
type stubFeeAssessor struct {
	known       model.Outpoint
	assessedSat uint64
}

func (s stubFeeAssessor) AssessInputFee(out model.Outpoint, _ uint64) (uint64, bool) {
	if out != s.known {
		return 0, false
	}
	return s.assessedSat, true
}

func boolPtr(b bool) *bool { return &b }

func happyPathReport() *DepositRequestReport {
	return &DepositRequestReport{
		Outpoint: model.Outpoint{Vout: 0},
		Status: DepositConfirmationStatus{
			ConfirmedHeight: 0,
		},
		CanSign:          boolPtr(true),
		CanAccept:        boolPtr(true),
		Amount:           100_000_000,
		MaxFee:           1<<64 - 1,
		LockTimeBlocks:   DepositLocktimeBlockBuffer + 3,
		LockTimeIsBlocks: true,
	}
}

// Scenario 2: happy-path deposit.
func TestValidateDeposit_HappyPath(t *testing.T) {
	report := happyPathReport()
	tx := stubFeeAssessor{known: report.Outpoint, assessedSat: 10_000}

	got := report.Validate(2, tx, 10_000)
	if got != ResultOk {
		t.Fatalf("expected Ok, got %s", got)
	}
}

// Scenario 3: fee too high by one sat.
func TestValidateDeposit_FeeTooHighByOneSat(t *testing.T) {
	report := happyPathReport()
	report.MaxFee = 9_999
	tx := stubFeeAssessor{known: report.Outpoint, assessedSat: 10_000}

	got := report.Validate(2, tx, 10_000)
	if got != ResultFeeTooHigh {
		t.Fatalf("expected FeeTooHigh, got %s", got)
	}
}

// B2: assessed_fee == min(max_fee, amount) -> Ok.
func TestValidateDeposit_FeeExactlyAtLimit(t *testing.T) {
	report := happyPathReport()
	report.MaxFee = 10_000
	tx := stubFeeAssessor{known: report.Outpoint, assessedSat: 10_000}

	got := report.Validate(2, tx, 10_000)
	if got != ResultOk {
		t.Fatalf("expected Ok at exact fee boundary, got %s", got)
	}
}

// Scenario 4: locktime expiry.
func TestValidateDeposit_LockTimeExpiry(t *testing.T) {
	report := happyPathReport()
	report.LockTimeBlocks = DepositLocktimeBlockBuffer + 2
	tx := stubFeeAssessor{known: report.Outpoint, assessedSat: 10_000}

	got := report.Validate(2, tx, 10_000)
	if got != ResultLockTimeExpiry {
		t.Fatalf("expected LockTimeExpiry, got %s", got)
	}
}

// B1: deposit_age == max_age -> LockTimeExpiry (boundary is >=, not >).
func TestValidateDeposit_LockTimeExpiryBoundary(t *testing.T) {
	report := happyPathReport()
	// max_age = locktime - buffer; choose locktime so max_age == chain
	// tip height - confirmed height exactly.
	report.Status.ConfirmedHeight = 0
	report.LockTimeBlocks = DepositLocktimeBlockBuffer + 2 // max_age = 2
	tx := stubFeeAssessor{known: report.Outpoint, assessedSat: 10_000}

	got := report.Validate(2, tx, 10_000) // deposit_age = 2 == max_age
	if got != ResultLockTimeExpiry {
		t.Fatalf("expected LockTimeExpiry at boundary, got %s", got)
	}
}

// Scenario 5: unknown prevout.
func TestValidateDeposit_UnknownPrevout(t *testing.T) {
	report := happyPathReport()
	tx := stubFeeAssessor{known: model.Outpoint{Vout: 99}, assessedSat: 10_000}

	got := report.Validate(2, tx, 10_000)
	if got != ResultUnknown {
		t.Fatalf("expected Unknown, got %s", got)
	}
}

// B3: time-unit locktime -> UnsupportedLockTime regardless of other fields.
func TestValidateDeposit_UnsupportedLockTime(t *testing.T) {
	report := happyPathReport()
	report.LockTimeIsBlocks = false
	tx := stubFeeAssessor{known: report.Outpoint, assessedSat: 10_000}

	got := report.Validate(2, tx, 10_000)
	if got != ResultUnsupportedLockTime {
		t.Fatalf("expected UnsupportedLockTime, got %s", got)
	}
}

// B4: a deposit not confirmed on the canonical chain is reported with
// Unconfirmed status -> TxNotOnBestChain.
func TestValidateDeposit_Unconfirmed(t *testing.T) {
	report := happyPathReport()
	report.Status = DepositConfirmationStatus{Unconfirmed: true}
	tx := stubFeeAssessor{known: report.Outpoint, assessedSat: 10_000}

	got := report.Validate(2, tx, 10_000)
	if got != ResultTxNotOnBestChain {
		t.Fatalf("expected TxNotOnBestChain, got %s", got)
	}
}

func TestValidateDeposit_NoVote(t *testing.T) {
	report := happyPathReport()
	report.CanAccept = nil
	tx := stubFeeAssessor{known: report.Outpoint, assessedSat: 10_000}

	got := report.Validate(2, tx, 10_000)
	if got != ResultNoVote {
		t.Fatalf("expected NoVote, got %s", got)
	}
}

func TestValidateDeposit_RejectedRequest(t *testing.T) {
	report := happyPathReport()
	report.CanAccept = boolPtr(false)
	tx := stubFeeAssessor{known: report.Outpoint, assessedSat: 10_000}

	got := report.Validate(2, tx, 10_000)
	if got != ResultRejectedRequest {
		t.Fatalf("expected RejectedRequest, got %s", got)
	}
}

func TestValidateDeposit_CannotSignUtxo(t *testing.T) {
	report := happyPathReport()
	report.CanSign = boolPtr(false)
	tx := stubFeeAssessor{known: report.Outpoint, assessedSat: 10_000}

	got := report.Validate(2, tx, 10_000)
	if got != ResultCannotSignUtxo {
		t.Fatalf("expected CannotSignUtxo, got %s", got)
	}
}

// CannotSignUtxo must not invalidate the whole transaction.
func TestValidateTransaction_CannotSignUtxoDoesNotInvalidate(t *testing.T) {
	cannotSign := happyPathReport()
	cannotSign.Outpoint = model.Outpoint{Vout: 1}
	cannotSign.CanSign = boolPtr(false)

	signable := happyPathReport()
	signable.Outpoint = model.Outpoint{Vout: 0}

	tx := multiFeeAssessor{
		model.Outpoint{Vout: 0}: 10_000,
		model.Outpoint{Vout: 1}: 10_000,
	}

	v := ValidateTransaction(2, tx, 10_000, []*DepositRequestReport{signable, cannotSign}, nil)
	if !v.Valid {
		t.Fatalf("expected transaction to remain valid with a CannotSignUtxo input")
	}
	if !v.WillSign(model.Outpoint{Vout: 0}) {
		t.Fatalf("expected signer to sign its own input")
	}
	if v.WillSign(model.Outpoint{Vout: 1}) {
		t.Fatalf("expected signer to abstain from the CannotSignUtxo input")
	}
}

type multiFeeAssessor map[model.Outpoint]uint64

func (m multiFeeAssessor) AssessInputFee(out model.Outpoint, _ uint64) (uint64, bool) {
	v, ok := m[out]
	return v, ok
}

// Scenario 1: duplicate rejection.
func TestIsUnique_DuplicateDeposit(t *testing.T) {
	dup := model.Outpoint{Txid: [32]byte{0x01}, Vout: 0}
	packages := []TxRequestIDs{{Deposits: []model.Outpoint{dup, dup}}}

	if IsUnique(packages) {
		t.Fatalf("expected duplicate deposit outpoint to fail uniqueness check")
	}
}

func TestIsUnique_NoDuplicates(t *testing.T) {
	packages := []TxRequestIDs{
		{Deposits: []model.Outpoint{{Vout: 0}, {Vout: 1}}},
		{Deposits: []model.Outpoint{{Vout: 2}}},
	}
	if !IsUnique(packages) {
		t.Fatalf("expected no duplicates to pass")
	}
}

func TestWithdrawalValidation_AlwaysUnsupported(t *testing.T) {
	w := &WithdrawalRequestReport{}
	if got := w.Validate(0, nil, 0); got != WithdrawalResultUnsupported {
		t.Fatalf("expected Unsupported, got %s", got)
	}
}
