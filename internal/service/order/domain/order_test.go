package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOrderSettingsBlockedNow(t *testing.T) {
	t.Parallel()
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name     string
		settings OrderSettings
		blocked  bool
	}{
		{"not blocked", OrderSettings{}, false},
		{"blocked without deadline", OrderSettings{OrderingBlocked: true}, true},
		{"blocked until the future", OrderSettings{OrderingBlocked: true, BlockedUntil: &future}, true},
		{"block window expired", OrderSettings{OrderingBlocked: true, BlockedUntil: &past}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.blocked, tt.settings.BlockedNow(now))
		})
	}
}

func TestOrderSettingsPaymentAllowed(t *testing.T) {
	t.Parallel()

	open := OrderSettings{}
	require.True(t, open.PaymentAllowed("anything"))

	restricted := OrderSettings{AllowedPaymentMethods: []string{"card", "wallet"}}
	require.True(t, restricted.PaymentAllowed("wallet"))
	require.False(t, restricted.PaymentAllowed("cheque"))
}

func TestVoucherUsable(t *testing.T) {
	t.Parallel()
	max := 3

	require.False(t, (&Voucher{IsActive: false}).Usable())
	require.True(t, (&Voucher{IsActive: true}).Usable())
	require.True(t, (&Voucher{IsActive: true, UsedCount: 2, MaxUses: &max}).Usable())
	require.False(t, (&Voucher{IsActive: true, UsedCount: 3, MaxUses: &max}).Usable())
}

func TestCanTransitionTo(t *testing.T) {
	t.Parallel()
	order := &Order{Status: StatusProcessing}

	require.NoError(t, order.CanTransitionTo(StatusCancelled))
	// 任意跨状态跳转都放行，结算交给库存台账
	require.NoError(t, order.CanTransitionTo(StatusDelivered))

	err := order.CanTransitionTo(StatusProcessing)
	require.True(t, IsBusinessRule(err))
	require.Contains(t, err.Error(), "order is already PROCESSING")
}

func TestValidStatus(t *testing.T) {
	t.Parallel()
	require.True(t, ValidStatus(StatusShipped))
	require.False(t, ValidStatus("TELEPORTED"))
}
