package migrations

import (
	"github.com/ksred/klear-funding/internal/settlement"
	"gorm.io/gorm"
)

// AddSettlements creates settlements and payouts. The unique index on
// settlements.campaign_id comes from the model tags.
func AddSettlements(db *gorm.DB) error {
	if err := db.AutoMigrate(&settlement.Settlement{}, &settlement.Payout{}); err != nil {
		return err
	}

	indexes := []string{
		// Dispatcher scans pending payouts oldest first
		`CREATE INDEX IF NOT EXISTS idx_payouts_status_created_at
		 ON payouts(status, created_at)`,

		`CREATE INDEX IF NOT EXISTS idx_settlements_payout_status
		 ON settlements(payout_status)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
