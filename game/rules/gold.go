package rules

import "math"

// GoldKind tells deposits from withdrawals.
type GoldKind int

const (
	GoldDeposit GoldKind = iota
	GoldWithdraw
)

const (
	ReasonNotWholeNumber    = "Gold must be a whole number"
	ReasonNegativeGold      = "Gold must be non-negative"
	ReasonInsufficientFunds = "Insufficient funds for withdrawal"
	ReasonNoAmountRequested = "No amount requested"
	ReasonAmountTooLarge    = "Gold amount is too large"
	ReasonRequestDeclined   = "Request declined"
)

// MaxGoldAmount bounds a single deposit or withdrawal.
const MaxGoldAmount = math.MaxInt64 / 2

// GoldVerdict is the outcome of validating a deposit or withdrawal.
type GoldVerdict struct {
	Approved bool
	Reason   string
	// Delta is the signed change to apply to the balance when approved.
	Delta int64
}

// ValidateGoldAction checks a deposit or withdrawal against the current
// balance. The assumed-character check happens before this is called.
func ValidateGoldAction(kind GoldKind, balance int64, amount float64) GoldVerdict {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount != math.Trunc(amount) {
		return GoldVerdict{Reason: ReasonNotWholeNumber}
	}
	if amount < 0 {
		return GoldVerdict{Reason: ReasonNegativeGold}
	}
	// Keeps balance arithmetic clear of int64 overflow.
	if amount > MaxGoldAmount {
		return GoldVerdict{Reason: ReasonAmountTooLarge}
	}
	n := int64(amount)
	if kind == GoldWithdraw && balance-n < 0 {
		return GoldVerdict{Reason: ReasonInsufficientFunds}
	}
	if n == 0 {
		return GoldVerdict{Reason: ReasonNoAmountRequested}
	}
	if kind == GoldWithdraw {
		return GoldVerdict{Approved: true, Delta: -n}
	}
	return GoldVerdict{Approved: true, Delta: n}
}

// ClampBalance applies delta and never returns a negative balance.
func ClampBalance(balance, delta int64) int64 {
	next := balance + delta
	if next < 0 {
		return 0
	}
	return next
}
