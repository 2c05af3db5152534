package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ksred/klear-funding/internal/money"
	"github.com/ksred/klear-funding/internal/settlement"
	"github.com/ksred/klear-funding/internal/shares"
	"github.com/ksred/klear-funding/internal/testutil"
	"github.com/ksred/klear-funding/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newResolver() *shares.Resolver {
	return shares.NewResolver(decimal.RequireFromString("0.05"))
}

func countSettlements(t *testing.T, db *gorm.DB, campaignID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&settlement.Settlement{}).Where("campaign_id = ?", campaignID).Count(&n).Error)
	return n
}

func countPayouts(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&settlement.Payout{}).Count(&n).Error)
	return n
}

func payoutByKind(t *testing.T, s *settlement.Settlement, kind string) settlement.Payout {
	t.Helper()
	for _, p := range s.Payouts {
		if p.StakeholderKind == kind {
			return p
		}
	}
	t.Fatalf("no %s payout", kind)
	return settlement.Payout{}
}

func TestCreateSettlementBelowTarget(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCampaign(t, db, "c1", 1_000_000, 500_000, types.CampaignStatusLive)

	s, err := settlement.NewService(db, newResolver()).CreateSettlementIfTargetReached(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Zero(t, countSettlements(t, db, "c1"))
	assert.Zero(t, countPayouts(t, db))
}

func TestCreateSettlementWithPartner(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCampaign(t, db, "c1", 1_000_000, 1_200_000, types.CampaignStatusSucceeded)
	testutil.SeedAgreement(t, db, "c1", types.StakeholderPartner, "partner-1", "0.10")

	s, err := settlement.NewService(db, newResolver()).CreateSettlementIfTargetReached(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, money.Amount(1_200_000), s.TotalRaised)
	assert.Equal(t, money.Amount(60_000), s.PlatformFee)
	assert.Equal(t, money.Amount(1_140_000), s.NetAmount)
	assert.Equal(t, money.Amount(114_000), s.PartnerShareTotal)
	assert.Equal(t, money.Amount(1_026_000), s.CreatorShare)
	assert.Equal(t, settlement.AggregateStatusPending, s.PayoutStatus)

	require.Len(t, s.Payouts, 3)
	for _, p := range s.Payouts {
		assert.Equal(t, settlement.PayoutStatusPending, p.Status)
	}
	assert.Equal(t, s.TotalRaised, s.PayoutTotal())

	platform := payoutByKind(t, s, types.StakeholderPlatform)
	assert.Nil(t, platform.StakeholderID)
	assert.Equal(t, money.Amount(60_000), platform.Amount)

	creator := payoutByKind(t, s, types.StakeholderCreator)
	require.NotNil(t, creator.StakeholderID)
	assert.Equal(t, "creator-c1", *creator.StakeholderID)
	assert.True(t, decimal.RequireFromString("0.9").Equal(creator.Percentage))

	partner := payoutByKind(t, s, types.StakeholderPartner)
	assert.Equal(t, money.Amount(114_000), partner.Amount)

	stored, err := settlement.NewService(db, newResolver()).GetSettlementByCampaign(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, s.SettlementID, stored.SettlementID)
	assert.Len(t, stored.Payouts, 3)
}

func TestCreateSettlementIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCampaign(t, db, "c1", 100_000, 100_000, types.CampaignStatusSucceeded)
	service := settlement.NewService(db, newResolver())

	first, err := service.CreateSettlementIfTargetReached(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, first)

	// A later change to the inputs must not alter the existing settlement.
	testutil.SeedAgreement(t, db, "c1", types.StakeholderPartner, "late-partner", "0.5")

	second, err := service.CreateSettlementIfTargetReached(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.SettlementID, second.SettlementID)
	assert.Equal(t, first.CreatorShare, second.CreatorShare)
	assert.Len(t, second.Payouts, 2)
	assert.Equal(t, int64(1), countSettlements(t, db, "c1"))
}

func TestCreateSettlementConcurrentTriggers(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCampaign(t, db, "c1", 100_000, 150_000, types.CampaignStatusSucceeded)
	testutil.SeedAgreement(t, db, "c1", types.StakeholderCollaborator, "collab-1", "0.25")
	service := settlement.NewService(db, newResolver())

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := service.CreateSettlementIfTargetReached(context.Background(), "c1")
			errs[i] = err
			if s != nil {
				ids[i] = s.SettlementID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.NotEmpty(t, ids[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, int64(1), countSettlements(t, db, "c1"))
	assert.Equal(t, int64(3), countPayouts(t, db))
}

// hidingStore makes the in-transaction existence check miss a settlement that
// is already committed, so the insert runs into the unique constraint.
type hidingStore struct {
	settlement.Store
}

func (h hidingStore) Transaction(ctx context.Context, fn func(tx settlement.Store) error) error {
	return h.Store.Transaction(ctx, func(tx settlement.Store) error {
		return fn(hidingTx{Store: tx})
	})
}

type hidingTx struct {
	settlement.Store
}

func (hidingTx) GetSettlementByCampaign(context.Context, string) (*settlement.Settlement, error) {
	return nil, nil
}

func TestCreateSettlementReadsBackWinnerOnUniqueConflict(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCampaign(t, db, "c1", 100_000, 100_000, types.CampaignStatusSucceeded)

	winner, err := settlement.NewService(db, newResolver()).CreateSettlementIfTargetReached(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, winner)

	loser := settlement.NewServiceWithStore(hidingStore{Store: settlement.NewDatabase(db)}, newResolver())
	got, err := loser.CreateSettlementIfTargetReached(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, winner.SettlementID, got.SettlementID)
	assert.Equal(t, int64(1), countSettlements(t, db, "c1"))
	assert.Equal(t, int64(2), countPayouts(t, db))
}

func TestCreateSettlementInvalidShareConfigurationLeavesNoRows(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCampaign(t, db, "c1", 100_000, 100_000, types.CampaignStatusSucceeded)
	testutil.SeedAgreement(t, db, "c1", types.StakeholderPartner, "p1", "0.7")
	testutil.SeedAgreement(t, db, "c1", types.StakeholderCollaborator, "k1", "0.5")

	s, err := settlement.NewService(db, newResolver()).CreateSettlementIfTargetReached(context.Background(), "c1")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, types.ErrInvalidShareConfiguration)
	assert.Zero(t, countSettlements(t, db, "c1"))
	assert.Zero(t, countPayouts(t, db))
}

func TestCreateSettlementCampaignNotFound(t *testing.T) {
	db := testutil.NewDB(t)

	_, err := settlement.NewService(db, newResolver()).CreateSettlementIfTargetReached(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrCampaignNotFound)

	var storageErr *types.StorageError
	assert.False(t, errors.As(err, &storageErr))
}

func TestCreateSettlementStatusSignalAloneIsEligible(t *testing.T) {
	db := testutil.NewDB(t)
	// Marked SUCCEEDED although the cached total is short: status wins.
	testutil.SeedCampaign(t, db, "c1", 100_000, 80_000, types.CampaignStatusSucceeded)

	s, err := settlement.NewService(db, newResolver()).CreateSettlementIfTargetReached(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, money.Amount(80_000), s.TotalRaised)
}

func TestCreateSettlementDeductsGatewayFees(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCampaign(t, db, "c1", 100_000, 100_000, types.CampaignStatusSucceeded)
	testutil.SeedFunding(t, db, "c1", 60_000, 1_700, types.FundingStatusSucceeded)
	testutil.SeedFunding(t, db, "c1", 40_000, 1_200, types.FundingStatusSucceeded)
	// Refunded and failed transactions carry no fee into the settlement.
	testutil.SeedFunding(t, db, "c1", 10_000, 500, types.FundingStatusRefunded)
	testutil.SeedFunding(t, db, "c1", 10_000, 500, types.FundingStatusFailed)
	testutil.SeedAgreement(t, db, "c1", types.StakeholderPartner, "p1", "0.2")
	testutil.SeedAgreement(t, db, "c1", types.StakeholderCollaborator, "k1", "0.1")

	s, err := settlement.NewService(db, newResolver()).CreateSettlementIfTargetReached(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, money.Amount(5_000), s.PlatformFee)
	assert.Equal(t, money.Amount(2_900), s.GatewayFees)
	assert.Equal(t, money.Amount(92_100), s.NetAmount)
	assert.Equal(t, money.Amount(18_420), s.PartnerShareTotal)
	assert.Equal(t, money.Amount(9_210), s.CollaboratorShareTotal)
	assert.Equal(t, money.Amount(64_470), s.CreatorShare)
	assert.Len(t, s.Payouts, 4)
	assert.Equal(t, s.PlatformFee+s.NetAmount, s.PayoutTotal())
}

func TestCreateSettlementUsesCampaignFeeOverride(t *testing.T) {
	db := testutil.NewDB(t)
	c := testutil.SeedCampaign(t, db, "c1", 100_000, 100_000, types.CampaignStatusSucceeded)
	require.NoError(t, db.Model(c).Update("platform_fee_rate", decimal.RequireFromString("0.08")).Error)

	s, err := settlement.NewService(db, newResolver()).CreateSettlementIfTargetReached(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, money.Amount(8_000), s.PlatformFee)
	assert.True(t, decimal.RequireFromString("0.08").Equal(s.PlatformFeeRate))
}

func TestGetSettlementByCampaignNotFound(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCampaign(t, db, "c1", 100_000, 0, types.CampaignStatusLive)

	_, err := settlement.NewService(db, newResolver()).GetSettlementByCampaign(context.Background(), "c1")
	assert.ErrorIs(t, err, types.ErrSettlementNotFound)
}

func TestCreateSettlementStorageFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "campaigns"`).WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	s, err := settlement.NewService(db, newResolver()).CreateSettlementIfTargetReached(context.Background(), "c1")
	assert.Nil(t, s)

	var storageErr *types.StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "lock campaign", storageErr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}
