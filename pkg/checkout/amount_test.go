package checkout

import (
	"testing"

	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
)

func TestValidateAmountBounds(t *testing.T) {
	for _, amount := range []int64{MinAmountCents, 8500, MaxAmountCents} {
		if err := ValidateAmount(amount); err != nil {
			t.Fatalf("expected %d to be chargeable, got %v", amount, err)
		}
	}
	for _, amount := range []int64{0, 49, MaxAmountCents + 1} {
		err := ValidateAmount(amount)
		if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidAmount) {
			t.Fatalf("expected INVALID_AMOUNT for %d, got %v", amount, err)
		}
		details, ok := pkgerrors.As(err).Details().(AmountViolationDetail)
		if !ok || details.AmountCents != amount {
			t.Fatalf("expected violation details for %d, got %#v", amount, pkgerrors.As(err).Details())
		}
	}
}

func TestPlatformFeeRoundsHalfUp(t *testing.T) {
	cases := []struct {
		total int64
		bps   int
		want  int64
	}{
		{total: 8500, bps: 700, want: 595},
		{total: 150, bps: 700, want: 11},  // 10.5
		{total: 142, bps: 700, want: 10},  // 9.94
		{total: 7, bps: 700, want: 0},     // 0.49
		{total: 50, bps: 0, want: 0},
		{total: 99_999_999, bps: 700, want: 7_000_000},
	}
	for _, tc := range cases {
		got, err := PlatformFee(tc.total, tc.bps)
		if err != nil {
			t.Fatalf("fee(%d, %d): %v", tc.total, tc.bps, err)
		}
		if got != tc.want {
			t.Fatalf("fee(%d, %d) = %d, want %d", tc.total, tc.bps, got, tc.want)
		}
	}
}

func TestPlatformFeeRejectsBadInput(t *testing.T) {
	if _, err := PlatformFee(-1, 700); err == nil {
		t.Fatal("expected error for negative total")
	}
	if _, err := PlatformFee(100, 10_001); err == nil {
		t.Fatal("expected error for fee above 100%")
	}
}

func TestNetPayout(t *testing.T) {
	net, err := NetPayout(8500, 595)
	if err != nil || net != 7905 {
		t.Fatalf("expected 7905, got %d (%v)", net, err)
	}
	if _, err := NetPayout(100, 101); err == nil {
		t.Fatal("expected error when fee exceeds gross")
	}
}
