package consistency

import (
	"context"
	"errors"

	"github.com/ksred/klear-funding/internal/money"
	"github.com/ksred/klear-funding/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// ledgerResult is the aggregate of a campaign's succeeded funding transactions.
type ledgerResult struct {
	Total int64
	Count int64
}

// settlementTotals is the slice of a settlement row the validator compares.
type settlementTotals struct {
	SettlementID string
	TotalRaised  money.Amount
}

func (d *Database) GetCampaign(ctx context.Context, campaignID string) (*types.Campaign, error) {
	var campaign types.Campaign
	if err := d.db.WithContext(ctx).Where("campaign_id = ?", campaignID).First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrCampaignNotFound
		}
		return nil, types.NewStorageError("load campaign", err)
	}
	return &campaign, nil
}

// LedgerTotal sums succeeded funding transactions. Refunded and cancelled
// transactions drop out of the sum as soon as their status changes.
func (d *Database) LedgerTotal(ctx context.Context, campaignID string) (*ledgerResult, error) {
	var result ledgerResult

	query := `
		SELECT
			COALESCE(SUM(amount), 0) AS total,
			COUNT(*) AS count
		FROM funding_transactions
		WHERE campaign_id = ?
		AND status = ?`

	if err := d.db.WithContext(ctx).Raw(query, campaignID, types.FundingStatusSucceeded).Scan(&result).Error; err != nil {
		return nil, types.NewStorageError("sum funding ledger", err)
	}

	return &result, nil
}

// SettlementTotals returns nil when the campaign has no settlement.
func (d *Database) SettlementTotals(ctx context.Context, campaignID string) (*settlementTotals, error) {
	var totals settlementTotals
	if err := d.db.WithContext(ctx).
		Table("settlements").
		Select("settlement_id, total_raised").
		Where("campaign_id = ?", campaignID).
		Take(&totals).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, types.NewStorageError("load settlement totals", err)
	}
	return &totals, nil
}

// CampaignsToValidate lists campaigns with a cached total or a settlement.
func (d *Database) CampaignsToValidate(ctx context.Context) ([]string, error) {
	var ids []string
	if err := d.db.WithContext(ctx).
		Model(&types.Campaign{}).
		Where("current_amount <> 0 OR EXISTS (SELECT 1 FROM settlements WHERE settlements.campaign_id = campaigns.campaign_id)").
		Order("id ASC").
		Pluck("campaign_id", &ids).Error; err != nil {
		return nil, types.NewStorageError("list campaigns to validate", err)
	}
	return ids, nil
}
