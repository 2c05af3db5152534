package shares

import (
	"context"
	"errors"
	"testing"

	"github.com/ksred/klear-funding/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	agreements []types.ShareAgreement
	err        error
}

func (s staticSource) ActiveAgreements(context.Context, string) ([]types.ShareAgreement, error) {
	return s.agreements, s.err
}

func agreement(kind, stakeholder, rate string) types.ShareAgreement {
	return types.ShareAgreement{
		AgreementID:   "AGR_" + stakeholder + "_" + rate,
		StakeholderID: stakeholder,
		Kind:          kind,
		Rate:          decimal.RequireFromString(rate),
		Active:        true,
	}
}

func TestResolveDefaultsAndGroups(t *testing.T) {
	resolver := NewResolver(decimal.RequireFromString("0.05"))
	campaign := &types.Campaign{CampaignID: "c1"}

	cfg, err := resolver.Resolve(context.Background(), staticSource{agreements: []types.ShareAgreement{
		agreement(types.StakeholderPartner, "p1", "0.1"),
		agreement(types.StakeholderCollaborator, "k1", "0.05"),
		agreement(types.StakeholderPartner, "p2", "0.2"),
	}}, campaign)
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("0.05").Equal(cfg.PlatformFeeRate))
	assert.False(t, cfg.FeeOverridden)
	require.Len(t, cfg.Partners, 2)
	assert.Equal(t, "p1", cfg.Partners[0].StakeholderID)
	assert.Equal(t, "p2", cfg.Partners[1].StakeholderID)
	require.Len(t, cfg.Collaborators, 1)
	assert.True(t, decimal.RequireFromString("0.35").Equal(cfg.TotalRate()))
}

func TestResolveCampaignFeeOverride(t *testing.T) {
	resolver := NewResolver(decimal.RequireFromString("0.05"))
	campaign := &types.Campaign{
		CampaignID:      "c1",
		PlatformFeeRate: decimal.NewNullDecimal(decimal.RequireFromString("0.02")),
	}

	cfg, err := resolver.Resolve(context.Background(), staticSource{}, campaign)
	require.NoError(t, err)
	assert.True(t, cfg.FeeOverridden)
	assert.True(t, decimal.RequireFromString("0.02").Equal(cfg.PlatformFeeRate))
	assert.Empty(t, cfg.Partners)
	assert.NotNil(t, cfg.Partners)
}

func TestResolveMergesDuplicateStakeholders(t *testing.T) {
	resolver := NewResolver(decimal.Zero)

	cfg, err := resolver.Resolve(context.Background(), staticSource{agreements: []types.ShareAgreement{
		agreement(types.StakeholderPartner, "p1", "0.1"),
		agreement(types.StakeholderPartner, "p1", "0.15"),
		// Same stakeholder under another kind stays separate.
		agreement(types.StakeholderCollaborator, "p1", "0.05"),
	}}, &types.Campaign{CampaignID: "c1"})
	require.NoError(t, err)

	require.Len(t, cfg.Partners, 1)
	assert.True(t, decimal.RequireFromString("0.25").Equal(cfg.Partners[0].Rate))
	require.Len(t, cfg.Collaborators, 1)
}

func TestResolvePassesOverAllocationThrough(t *testing.T) {
	resolver := NewResolver(decimal.Zero)

	cfg, err := resolver.Resolve(context.Background(), staticSource{agreements: []types.ShareAgreement{
		agreement(types.StakeholderPartner, "p1", "0.8"),
		agreement(types.StakeholderCollaborator, "k1", "0.4"),
	}}, &types.Campaign{CampaignID: "c1"})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.2").Equal(cfg.TotalRate()))
}

func TestResolveSkipsUnknownKindsAndInactive(t *testing.T) {
	inactive := agreement(types.StakeholderPartner, "old", "0.3")
	inactive.Active = false

	cfg, err := NewResolver(decimal.Zero).Resolve(context.Background(), staticSource{agreements: []types.ShareAgreement{
		agreement("SPONSOR", "s1", "0.1"),
		inactive,
	}}, &types.Campaign{CampaignID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, cfg.Partners)
	assert.Empty(t, cfg.Collaborators)
}

func TestResolveReturnsSourceError(t *testing.T) {
	boom := types.NewStorageError("load share agreements", errors.New("timeout"))
	_, err := NewResolver(decimal.Zero).Resolve(context.Background(), staticSource{err: boom}, &types.Campaign{CampaignID: "c1"})
	assert.ErrorIs(t, err, boom)
}
