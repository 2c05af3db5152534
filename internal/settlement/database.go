package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ksred/klear-funding/internal/money"
	"github.com/ksred/klear-funding/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence boundary of the orchestrator and the tracker.
// Methods called on the Store handed to Transaction's callback run inside
// that transaction.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Store) error) error

	LockCampaign(ctx context.Context, campaignID string) (*types.Campaign, error)
	ActiveAgreements(ctx context.Context, campaignID string) ([]types.ShareAgreement, error)
	SumGatewayFees(ctx context.Context, campaignID string) (money.Amount, error)

	GetSettlement(ctx context.Context, settlementID string) (*Settlement, error)
	GetSettlementByCampaign(ctx context.Context, campaignID string) (*Settlement, error)
	CreateSettlement(ctx context.Context, settlement *Settlement) error
	UpdateSettlementPayoutStatus(ctx context.Context, settlementID, status string, at time.Time) error

	LockPayout(ctx context.Context, payoutID string) (*Payout, error)
	TransitionPayout(ctx context.Context, payout *Payout, from string) error
	ListPayouts(ctx context.Context, settlementID string) ([]Payout, error)
	PendingPayouts(ctx context.Context, limit int) ([]Payout, error)

	EligibleCampaignsWithoutSettlement(ctx context.Context) ([]string, error)
}

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Transaction runs fn in a database transaction. Returning an error from fn
// rolls back every write made through tx.
func (d *Database) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Database{db: tx})
	})
}

// LockCampaign reads the campaign row with SELECT ... FOR UPDATE. SQLite
// ignores the locking clause; there the connection opens transactions with
// BEGIN IMMEDIATE, which serializes writers instead.
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

// SumGatewayFees totals the gateway fees recorded on succeeded funding
// transactions.
func (d *Database) SumGatewayFees(ctx context.Context, campaignID string) (money.Amount, error) {
	var total int64
	if err := d.db.WithContext(ctx).
		Model(&types.FundingTransaction{}).
		Select("COALESCE(SUM(gateway_fee), 0)").
		Where("campaign_id = ? AND status = ?", campaignID, types.FundingStatusSucceeded).
		Scan(&total).Error; err != nil {
		return 0, types.NewStorageError("sum gateway fees", err)
	}
	return money.Amount(total), nil
}

func (d *Database) GetSettlement(ctx context.Context, settlementID string) (*Settlement, error) {
	var settlement Settlement
	if err := d.withPayouts(ctx).Where("settlement_id = ?", settlementID).First(&settlement).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrSettlementNotFound
		}
		return nil, types.NewStorageError("load settlement", err)
	}
	return &settlement, nil
}

// GetSettlementByCampaign returns nil without error when the campaign has no
// settlement yet.
func (d *Database) GetSettlementByCampaign(ctx context.Context, campaignID string) (*Settlement, error) {
	var settlement Settlement
	if err := d.withPayouts(ctx).Where("campaign_id = ?", campaignID).First(&settlement).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, types.NewStorageError("load settlement by campaign", err)
	}
	return &settlement, nil
}

// CreateSettlement inserts the settlement and its payouts. Call it through a
// transaction so both land or neither does.
func (d *Database) CreateSettlement(ctx context.Context, settlement *Settlement) error {
	db := d.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(settlement).Error; err != nil {
		return types.NewStorageError("create settlement", err)
	}
	if len(settlement.Payouts) == 0 {
		return nil
	}
	if err := db.Create(&settlement.Payouts).Error; err != nil {
		return types.NewStorageError("create payouts", err)
	}
	return nil
}

func (d *Database) UpdateSettlementPayoutStatus(ctx context.Context, settlementID, status string, at time.Time) error {
	result := d.db.WithContext(ctx).Model(&Settlement{}).
		Where("settlement_id = ?", settlementID).
		Updates(map[string]interface{}{
			"payout_status": status,
			"updated_at":    at,
		})

	if result.Error != nil {
		return types.NewStorageError("update settlement payout status", result.Error)
	}

	if result.RowsAffected == 0 {
		return types.ErrSettlementNotFound
	}

	return nil
}

func (d *Database) LockPayout(ctx context.Context, payoutID string) (*Payout, error) {
	var payout Payout
	if err := d.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("payout_id = ?", payoutID).
		First(&payout).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrPayoutNotFound
		}
		return nil, types.NewStorageError("lock payout", err)
	}
	return &payout, nil
}

// TransitionPayout writes the payout's status fields, guarded on the row still
// being in status from. The amount is never part of the update.
func (d *Database) TransitionPayout(ctx context.Context, payout *Payout, from string) error {
	result := d.db.WithContext(ctx).Model(&Payout{}).
		Where("payout_id = ? AND status = ?", payout.PayoutID, from).
		Updates(map[string]interface{}{
			"status":            payout.Status,
			"gateway_reference": payout.GatewayReference,
			"failure_reason":    payout.FailureReason,
			"paid_at":           payout.PaidAt,
			"failed_at":         payout.FailedAt,
			"updated_at":        payout.UpdatedAt,
		})

	if result.Error != nil {
		return types.NewStorageError("update payout", result.Error)
	}

	if result.RowsAffected == 0 {
		return types.ErrInvalidPayoutTransition
	}

	return nil
}

func (d *Database) ListPayouts(ctx context.Context, settlementID string) ([]Payout, error) {
	var payouts []Payout
	if err := d.db.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("id ASC").
		Find(&payouts).Error; err != nil {
		return nil, types.NewStorageError("list payouts", err)
	}
	return payouts, nil
}

func (d *Database) PendingPayouts(ctx context.Context, limit int) ([]Payout, error) {
	var payouts []Payout
	if err := d.db.WithContext(ctx).
		Where("status = ?", PayoutStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&payouts).Error; err != nil {
		return nil, types.NewStorageError("list pending payouts", err)
	}
	return payouts, nil
}

// EligibleCampaignsWithoutSettlement lists campaigns whose status or cached
// total says the target was reached but that have no settlement yet.
func (d *Database) EligibleCampaignsWithoutSettlement(ctx context.Context) ([]string, error) {
	var ids []string
	if err := d.db.WithContext(ctx).
		Model(&types.Campaign{}).
		Where("(status IN ? OR current_amount >= target_amount)", types.SettledStatuses).
		Where("NOT EXISTS (SELECT 1 FROM settlements WHERE settlements.campaign_id = campaigns.campaign_id)").
		Order("id ASC").
		Pluck("campaign_id", &ids).Error; err != nil {
		return nil, types.NewStorageError("list eligible campaigns", err)
	}
	return ids, nil
}

func (d *Database) withPayouts(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx).Preload("Payouts", func(db *gorm.DB) *gorm.DB {
		return db.Order("payouts.id ASC")
	})
}

// isUniqueViolation recognises a duplicate-key failure. gorm translates it to
// ErrDuplicatedKey when TranslateError is on; the message checks cover
// connections opened without it.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
