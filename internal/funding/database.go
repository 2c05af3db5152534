package funding

import (
	"context"
	"errors"
	"time"

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

func (d *Database) LockCampaign(ctx context.Context, campaignID string) (*types.Campaign, error) {
	var campaign types.Campaign
	if err := d.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("campaign_id = ?", campaignID).
		First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrCampaignNotFound
		}
		return nil, types.NewStorageError("lock campaign", err)
	}
	return &campaign, nil
}

func (d *Database) SaveCampaignTotals(ctx context.Context, campaign *types.Campaign) error {
	if err := d.db.WithContext(ctx).Model(&types.Campaign{}).
		Where("campaign_id = ?", campaign.CampaignID).
		Updates(map[string]interface{}{
			"current_amount": campaign.CurrentAmount,
			"status":         campaign.Status,
			"updated_at":     campaign.UpdatedAt,
		}).Error; err != nil {
		return types.NewStorageError("update campaign totals", err)
	}
	return nil
}

func (d *Database) GetTransaction(ctx context.Context, transactionID string) (*types.FundingTransaction, error) {
	var tx types.FundingTransaction
	if err := d.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrFundingTransactionNotFound
		}
		return nil, types.NewStorageError("load funding transaction", err)
	}
	return &tx, nil
}

func (d *Database) LockTransaction(ctx context.Context, transactionID string) (*types.FundingTransaction, error) {
	var tx types.FundingTransaction
	if err := d.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id = ?", transactionID).
		First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrFundingTransactionNotFound
		}
		return nil, types.NewStorageError("lock funding transaction", err)
	}
	return &tx, nil
}

func (d *Database) ListTransactions(ctx context.Context, campaignID string) ([]types.FundingTransaction, error) {
	var txs []types.FundingTransaction
	if err := d.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("id ASC").
		Find(&txs).Error; err != nil {
		return nil, types.NewStorageError("list funding transactions", err)
	}
	return txs, nil
}

// UpdateTransactionStatus is guarded on the row still being in status from.
func (d *Database) UpdateTransactionStatus(ctx context.Context, transactionID, from, to string, at time.Time) error {
	result := d.db.WithContext(ctx).Model(&types.FundingTransaction{}).
		Where("transaction_id = ? AND status = ?", transactionID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": at,
		})
	if result.Error != nil {
		return types.NewStorageError("update funding transaction", result.Error)
	}
	if result.RowsAffected == 0 {
		return types.ErrInvalidFundingTransition
	}
	return nil
}

// CreateTransactionWithIdempotency creates the funding transaction and its
// idempotency record in one transaction. An expired record for the same key
// is replaced.
func (d *Database) CreateTransactionWithIdempotency(ctx context.Context, tx *types.FundingTransaction, idempotencyKey string, now, expiresAt time.Time) error {
	return d.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Where("idempotency_key = ? AND expires_at <= ?", idempotencyKey, now).
			Delete(&IdempotencyRecord{}).Error; err != nil {
			return err
		}

		if err := db.Create(tx).Error; err != nil {
			return err
		}

		record := IdempotencyRecord{
			IdempotencyKey: idempotencyKey,
			ResourceID:     tx.TransactionID,
			ResourceType:   "funding_transaction",
			ExpiresAt:      expiresAt,
		}
		return db.Create(&record).Error
	})
}

// GetIdempotencyRecord returns nil without error when the key is unknown.
func (d *Database) GetIdempotencyRecord(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, types.NewStorageError("load idempotency record", err)
	}
	return &record, nil
}

// DeleteExpiredIdempotencyRecords drops records whose TTL has passed.
func (d *Database) DeleteExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error) {
	result := d.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&IdempotencyRecord{})
	if result.Error != nil {
		return 0, types.NewStorageError("delete expired idempotency records", result.Error)
	}
	return result.RowsAffected, nil
}
