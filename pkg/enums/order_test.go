package enums

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSettlementClaim(t *testing.T) {
	require.Equal(t, "release", ClaimRelease.String())
	require.Equal(t, "refund", ClaimRefund.String())
	require.True(t, ClaimRefund.IsValid())
	require.False(t, SettlementClaim("transfer").IsValid())
}

func TestParsePayoutStatus(t *testing.T) {
	status, err := ParsePayoutStatus(PayoutReleased.String())
	require.NoError(t, err)
	require.Equal(t, PayoutReleased, status)

	_, err = ParsePayoutStatus("paid_out")
	require.Error(t, err)
}
