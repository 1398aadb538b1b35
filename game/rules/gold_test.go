package rules

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateGoldAction(t *testing.T) {
	cases := []struct {
		name    string
		kind    GoldKind
		balance int64
		amount  float64
		want    GoldVerdict
	}{
		{"fractional", GoldDeposit, 0, 10.5, GoldVerdict{Reason: ReasonNotWholeNumber}},
		{"nan", GoldDeposit, 0, math.NaN(), GoldVerdict{Reason: ReasonNotWholeNumber}},
		{"negative", GoldDeposit, 0, -5, GoldVerdict{Reason: ReasonNegativeGold}},
		{"negative fractional", GoldWithdraw, 0, -0.5, GoldVerdict{Reason: ReasonNotWholeNumber}},
		{"over withdraw", GoldWithdraw, 10, 11, GoldVerdict{Reason: ReasonInsufficientFunds}},
		{"too large", GoldDeposit, 0, 1e19, GoldVerdict{Reason: ReasonAmountTooLarge}},
		{"too large withdraw", GoldWithdraw, 10, 1e19, GoldVerdict{Reason: ReasonAmountTooLarge}},
		{"limit", GoldDeposit, 0, float64(1 << 40), GoldVerdict{Approved: true, Delta: 1 << 40}},
		{"zero", GoldDeposit, 10, 0, GoldVerdict{Reason: ReasonNoAmountRequested}},
		{"zero withdraw", GoldWithdraw, 0, 0, GoldVerdict{Reason: ReasonNoAmountRequested}},
		{"deposit", GoldDeposit, 10, 5, GoldVerdict{Approved: true, Delta: 5}},
		{"withdraw all", GoldWithdraw, 10, 10, GoldVerdict{Approved: true, Delta: -10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidateGoldAction(tc.kind, tc.balance, tc.amount))
		})
	}
}

func TestClampBalance(t *testing.T) {
	assert.EqualValues(t, 15, ClampBalance(10, 5))
	assert.EqualValues(t, 0, ClampBalance(10, -11))
}
