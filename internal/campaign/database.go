package campaign

import (
	"context"
	"errors"

	"github.com/ksred/klear-funding/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) Transaction(ctx context.Context, fn func(tx *Database) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Database{db: tx})
	})
}

func (d *Database) CreateCampaign(ctx context.Context, campaign *types.Campaign) error {
	if err := d.db.WithContext(ctx).Create(campaign).Error; err != nil {
		return types.NewStorageError("create campaign", err)
	}
	return nil
}

func (d *Database) GetCampaign(ctx context.Context, campaignID string) (*types.Campaign, error) {
	return d.findCampaign(d.db.WithContext(ctx), campaignID)
}

func (d *Database) LockCampaign(ctx context.Context, campaignID string) (*types.Campaign, error) {
	return d.findCampaign(d.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), campaignID)
}

func (d *Database) findCampaign(db *gorm.DB, campaignID string) (*types.Campaign, error) {
	var campaign types.Campaign
	if err := db.Where("campaign_id = ?", campaignID).First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrCampaignNotFound
		}
		return nil, types.NewStorageError("load campaign", err)
	}
	return &campaign, nil
}

func (d *Database) ListCampaigns(ctx context.Context, status string) ([]types.Campaign, error) {
	var campaigns []types.Campaign
	query := d.db.WithContext(ctx).Order("id ASC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&campaigns).Error; err != nil {
		return nil, types.NewStorageError("list campaigns", err)
	}
	return campaigns, nil
}

// UpdateStatus is guarded on the campaign still being in status from.
func (d *Database) UpdateStatus(ctx context.Context, campaign *types.Campaign, from string) error {
	result := d.db.WithContext(ctx).Model(&types.Campaign{}).
		Where("campaign_id = ? AND status = ?", campaign.CampaignID, from).
		Updates(map[string]interface{}{
			"status":     campaign.Status,
			"updated_at": campaign.UpdatedAt,
		})
	if result.Error != nil {
		return types.NewStorageError("update campaign status", result.Error)
	}
	if result.RowsAffected == 0 {
		return types.ErrInvalidCampaignTransition
	}
	return nil
}

func (d *Database) CreateAgreement(ctx context.Context, agreement *types.ShareAgreement) error {
	if err := d.db.WithContext(ctx).Create(agreement).Error; err != nil {
		return types.NewStorageError("create share agreement", err)
	}
	return nil
}

func (d *Database) GetAgreement(ctx context.Context, agreementID string) (*types.ShareAgreement, error) {
	var agreement types.ShareAgreement
	if err := d.db.WithContext(ctx).Where("agreement_id = ?", agreementID).First(&agreement).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrAgreementNotFound
		}
		return nil, types.NewStorageError("load share agreement", err)
	}
	return &agreement, nil
}

func (d *Database) ListAgreements(ctx context.Context, campaignID string, activeOnly bool) ([]types.ShareAgreement, error) {
	var agreements []types.ShareAgreement
	query := d.db.WithContext(ctx).Where("campaign_id = ?", campaignID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	if err := query.Order("id ASC").Find(&agreements).Error; err != nil {
		return nil, types.NewStorageError("list share agreements", err)
	}
	return agreements, nil
}

func (d *Database) DeactivateAgreement(ctx context.Context, agreement *types.ShareAgreement) error {
	if err := d.db.WithContext(ctx).Model(&types.ShareAgreement{}).
		Where("agreement_id = ?", agreement.AgreementID).
		Updates(map[string]interface{}{
			"active":     false,
			"updated_at": agreement.UpdatedAt,
		}).Error; err != nil {
		return types.NewStorageError("deactivate share agreement", err)
	}
	return nil
}
