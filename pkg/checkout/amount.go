package checkout

import (
	"fmt"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
)

const (
	// MinAmountCents is the smallest charge the processor accepts in EUR.
	MinAmountCents int64 = 50
	// MaxAmountCents is the processor's upper bound for a single charge.
	MaxAmountCents int64 = 99_999_999

	maxFeeBps = 10_000
)

// AmountViolationDetail is returned to callers when an amount is outside the charge bounds.
type AmountViolationDetail struct {
	AmountCents int64 `json:"amount_cents"`
	MinCents    int64 `json:"min_cents"`
	MaxCents    int64 `json:"max_cents"`
}

// ValidateAmount ensures amountCents can be charged in a single payment intent.
func ValidateAmount(amountCents int64) error {
	if amountCents >= MinAmountCents && amountCents <= MaxAmountCents {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInvalidAmount, fmt.Sprintf("amount %d outside chargeable range", amountCents)).WithDetails(AmountViolationDetail{
		AmountCents: amountCents,
		MinCents:    MinAmountCents,
		MaxCents:    MaxAmountCents,
	})
}

// PlatformFee returns total * feeBps / 10000 rounded half-up to the cent.
func PlatformFee(totalCents int64, feeBps int) (int64, error) {
	if totalCents < 0 {
		return 0, fmt.Errorf("negative total %d", totalCents)
	}
	if feeBps < 0 || feeBps > maxFeeBps {
		return 0, fmt.Errorf("fee basis points %d out of range", feeBps)
	}
	fee := decimal.NewFromInt(totalCents).
		Mul(decimal.NewFromInt(int64(feeBps))).
		Div(decimal.NewFromInt(maxFeeBps)).
		Round(0)
	return fee.IntPart(), nil
}

// NetPayout is what the seller receives after the stored platform fee.
func NetPayout(grossCents, feeCents int64) (int64, error) {
	if feeCents < 0 || feeCents > grossCents {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("platform fee %d exceeds gross %d", feeCents, grossCents))
	}
	return grossCents - feeCents, nil
}
