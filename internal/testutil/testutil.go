// Package testutil opens migrated databases for tests.
package testutil

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/klear-funding/internal/database"
	"github.com/ksred/klear-funding/internal/money"
	"github.com/ksred/klear-funding/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB returns a migrated sqlite database in a file under t.TempDir().
// Transactions begin IMMEDIATE so concurrent writers queue on the busy
// timeout instead of failing.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "funding.db")
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=10000&_journal_mode=WAL", path)

	db, err := database.NewDatabase(database.DriverSQLite, dsn)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

// SeedCampaign inserts a campaign with the given totals and status.
func SeedCampaign(t *testing.T, db *gorm.DB, campaignID string, target, current money.Amount, status string) *types.Campaign {
	t.Helper()

	now := time.Now()
	campaign := &types.Campaign{
		CampaignID:    campaignID,
		CreatorID:     "creator-" + campaignID,
		Title:         "Campaign " + campaignID,
		TargetAmount:  target,
		CurrentAmount: current,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, db.Create(campaign).Error)
	return campaign
}

// SeedFunding inserts a funding transaction.
func SeedFunding(t *testing.T, db *gorm.DB, campaignID string, amount, gatewayFee money.Amount, status string) *types.FundingTransaction {
	t.Helper()

	now := time.Now()
	tx := &types.FundingTransaction{
		TransactionID: "FTX_" + uuid.New().String(),
		CampaignID:    campaignID,
		BackerID:      "backer",
		Amount:        amount,
		GatewayFee:    gatewayFee,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, db.Create(tx).Error)
	return tx
}

// SeedAgreement inserts an active share agreement with rate given as a
// decimal string.
func SeedAgreement(t *testing.T, db *gorm.DB, campaignID, kind, stakeholderID, rate string) *types.ShareAgreement {
	t.Helper()

	now := time.Now()
	agreement := &types.ShareAgreement{
		AgreementID:   "AGR_" + uuid.New().String(),
		CampaignID:    campaignID,
		StakeholderID: stakeholderID,
		Kind:          kind,
		Rate:          decimal.RequireFromString(rate),
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, db.Create(agreement).Error)
	return agreement
}
