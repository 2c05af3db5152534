package shares

import (
	"context"
	"errors"

	"github.com/ksred/klear-funding/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
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

// ActiveAgreements returns the campaign's active agreements in creation order.
func (d *Database) ActiveAgreements(ctx context.Context, campaignID string) ([]types.ShareAgreement, error) {
	var agreements []types.ShareAgreement
	if err := d.db.WithContext(ctx).
		Where("campaign_id = ? AND active = ?", campaignID, true).
		Order("id ASC").
		Find(&agreements).Error; err != nil {
		return nil, types.NewStorageError("load share agreements", err)
	}
	return agreements, nil
}
