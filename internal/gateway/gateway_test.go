package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/ksred/klear-funding/internal/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var instantRail = []Rail{{ID: "TEST", Name: "Test Rail", SuccessRate: 1, Weight: 1}}

func TestSimulatorAlwaysAccepts(t *testing.T) {
	sim := NewSimulatorWithRails(instantRail, 1, 1)

	ref, err := sim.Disburse(context.Background(), &settlement.Payout{PayoutID: "PAY_1", Amount: 500})
	require.NoError(t, err)
	assert.Contains(t, ref, "TEST-")
}

func TestSimulatorDeclinesAsPayoutDeclined(t *testing.T) {
	sim := NewSimulatorWithRails(instantRail, 0, 1)

	_, err := sim.Disburse(context.Background(), &settlement.Payout{PayoutID: "PAY_1", Amount: 500})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeclined))
	assert.True(t, errors.Is(err, settlement.ErrPayoutDeclined))
}

func TestSimulatorZeroAmountNeedsNoTransfer(t *testing.T) {
	sim := NewSimulatorWithRails(instantRail, 0, 1)

	ref, err := sim.Disburse(context.Background(), &settlement.Payout{PayoutID: "PAY_0", Amount: 0})
	require.NoError(t, err)
	assert.Equal(t, "NOOP-PAY_0", ref)
}

func TestSimulatorHonoursCancellation(t *testing.T) {
	sim := NewSimulatorWithRails([]Rail{{ID: "SLOW", MinLatency: 1000, MaxLatency: 1000, SuccessRate: 1, Weight: 1}}, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Disburse(ctx, &settlement.Payout{PayoutID: "PAY_1", Amount: 500})
	assert.ErrorIs(t, err, context.Canceled)
}
