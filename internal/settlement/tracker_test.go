package settlement_test

import (
	"context"
	"testing"

	"github.com/ksred/klear-funding/internal/settlement"
	"github.com/ksred/klear-funding/internal/testutil"
	"github.com/ksred/klear-funding/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func settledCampaign(t *testing.T, db *gorm.DB) *settlement.Settlement {
	t.Helper()
	testutil.SeedCampaign(t, db, "c1", 100_000, 100_000, types.CampaignStatusSucceeded)
	testutil.SeedAgreement(t, db, "c1", types.StakeholderPartner, "p1", "0.1")

	s, err := settlement.NewService(db, newResolver()).CreateSettlementIfTargetReached(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Len(t, s.Payouts, 3)
	return s
}

func TestMarkPayoutStatusDerivesAggregate(t *testing.T) {
	db := testutil.NewDB(t)
	s := settledCampaign(t, db)
	tracker := settlement.NewTracker(db)
	service := settlement.NewService(db, newResolver())
	ctx := context.Background()

	first := s.Payouts[0]
	paid, err := tracker.MarkPayoutStatus(ctx, first.PayoutID, settlement.PayoutStatusPaid, settlement.PayoutContext{GatewayReference: "ACH-1"})
	require.NoError(t, err)
	assert.Equal(t, settlement.PayoutStatusPaid, paid.Status)
	assert.Equal(t, "ACH-1", paid.GatewayReference)
	assert.NotNil(t, paid.PaidAt)
	assert.Equal(t, first.Amount, paid.Amount)

	current, err := service.GetSettlementByCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, settlement.AggregateStatusPartial, current.PayoutStatus)

	for _, p := range s.Payouts[1:] {
		_, err := tracker.MarkPayoutStatus(ctx, p.PayoutID, settlement.PayoutStatusPaid, settlement.PayoutContext{GatewayReference: "ACH-2"})
		require.NoError(t, err)
	}

	current, err = service.GetSettlementByCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, settlement.AggregateStatusPaid, current.PayoutStatus)

	// Amounts are untouched by status changes.
	for i, p := range current.Payouts {
		assert.Equal(t, s.Payouts[i].Amount, p.Amount)
	}
	assert.Equal(t, s.TotalRaised, current.TotalRaised)
	assert.Equal(t, s.CreatorShare, current.CreatorShare)
}

func TestMarkPayoutStatusFailure(t *testing.T) {
	db := testutil.NewDB(t)
	s := settledCampaign(t, db)
	tracker := settlement.NewTracker(db)
	ctx := context.Background()

	failed, err := tracker.MarkPayoutStatus(ctx, s.Payouts[1].PayoutID, settlement.PayoutStatusFailed, settlement.PayoutContext{FailureReason: "account closed"})
	require.NoError(t, err)
	assert.Equal(t, settlement.PayoutStatusFailed, failed.Status)
	assert.Equal(t, "account closed", failed.FailureReason)
	assert.NotNil(t, failed.FailedAt)

	for _, p := range []settlement.Payout{s.Payouts[0], s.Payouts[2]} {
		_, err := tracker.MarkPayoutStatus(ctx, p.PayoutID, settlement.PayoutStatusPaid, settlement.PayoutContext{})
		require.NoError(t, err)
	}

	current, err := settlement.NewService(db, newResolver()).GetSettlementByCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, settlement.AggregateStatusFailed, current.PayoutStatus)
}

func TestMarkPayoutStatusRejectsInvalidTransitions(t *testing.T) {
	db := testutil.NewDB(t)
	s := settledCampaign(t, db)
	tracker := settlement.NewTracker(db)
	ctx := context.Background()
	payoutID := s.Payouts[0].PayoutID

	_, err := tracker.MarkPayoutStatus(ctx, payoutID, settlement.PayoutStatusPending, settlement.PayoutContext{})
	assert.ErrorIs(t, err, types.ErrInvalidPayoutTransition)

	_, err = tracker.MarkPayoutStatus(ctx, payoutID, "REVERSED", settlement.PayoutContext{})
	assert.ErrorIs(t, err, types.ErrInvalidPayoutTransition)

	_, err = tracker.MarkPayoutStatus(ctx, payoutID, settlement.PayoutStatusPaid, settlement.PayoutContext{})
	require.NoError(t, err)

	// Terminal states do not move again.
	_, err = tracker.MarkPayoutStatus(ctx, payoutID, settlement.PayoutStatusFailed, settlement.PayoutContext{})
	assert.ErrorIs(t, err, types.ErrInvalidPayoutTransition)
	_, err = tracker.MarkPayoutStatus(ctx, payoutID, settlement.PayoutStatusPaid, settlement.PayoutContext{})
	assert.ErrorIs(t, err, types.ErrInvalidPayoutTransition)

	_, err = tracker.MarkPayoutStatus(ctx, "PAY_missing", settlement.PayoutStatusPaid, settlement.PayoutContext{})
	assert.ErrorIs(t, err, types.ErrPayoutNotFound)
}
