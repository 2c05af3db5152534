package migrations

import (
	"github.com/ksred/klear-funding/internal/funding"
	"github.com/ksred/klear-funding/internal/types"
	"gorm.io/gorm"
)

// AddFundingLedger creates campaigns, their share agreements and the funding
// ledger.
func AddFundingLedger(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&types.Campaign{},
		&types.ShareAgreement{},
		&types.FundingTransaction{},
		&funding.IdempotencyRecord{},
	); err != nil {
		return err
	}

	indexes := []string{
		// Ledger sums filter on campaign and status
		`CREATE INDEX IF NOT EXISTS idx_funding_transactions_campaign_status
		 ON funding_transactions(campaign_id, status)`,

		`CREATE INDEX IF NOT EXISTS idx_share_agreements_campaign_active
		 ON share_agreements(campaign_id, active)`,

		`CREATE INDEX IF NOT EXISTS idx_idempotency_records_expires_at
		 ON idempotency_records(expires_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
