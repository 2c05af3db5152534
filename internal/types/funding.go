package types

import (
	"time"

	"github.com/ksred/klear-funding/internal/money"
	"github.com/shopspring/decimal"
)

// Campaign lifecycle statuses
const (
	CampaignStatusDraft     = "DRAFT"
	CampaignStatusLive      = "LIVE"
	CampaignStatusSucceeded = "SUCCEEDED"
	CampaignStatusFailed    = "FAILED"
	CampaignStatusExecuting = "EXECUTING"
	CampaignStatusCompleted = "COMPLETED"
)

// Funding transaction statuses
const (
	FundingStatusPending   = "PENDING"
	FundingStatusSucceeded = "SUCCEEDED"
	FundingStatusFailed    = "FAILED"
	FundingStatusRefunded  = "REFUNDED"
	FundingStatusCancelled = "CANCELLED"
)

// Stakeholder kinds. Agreements only carry PARTNER or COLLABORATOR.
const (
	StakeholderPlatform     = "PLATFORM"
	StakeholderCreator      = "CREATOR"
	StakeholderPartner      = "PARTNER"
	StakeholderCollaborator = "COLLABORATOR"
)

// SettledStatuses are the campaign statuses that mark the target as reached.
var SettledStatuses = []string{
	CampaignStatusSucceeded,
	CampaignStatusExecuting,
	CampaignStatusCompleted,
}

type Campaign struct {
	ID              uint                `gorm:"primaryKey" json:"-"`
	CampaignID      string              `gorm:"uniqueIndex;size:64;not null" json:"campaign_id"`
	CreatorID       string              `gorm:"size:64;not null" json:"creator_id"`
	Title           string              `json:"title"`
	TargetAmount    money.Amount        `gorm:"not null" json:"target_amount"`
	CurrentAmount   money.Amount        `gorm:"not null;default:0" json:"current_amount"`
	Status          string              `gorm:"size:16;index;not null" json:"status"` // DRAFT, LIVE, SUCCEEDED, FAILED, EXECUTING, COMPLETED
	PlatformFeeRate decimal.NullDecimal `gorm:"type:numeric(9,6)" json:"platform_fee_rate"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// StatusReached reports whether the lifecycle status says the target was met.
func (c *Campaign) StatusReached() bool {
	for _, s := range SettledStatuses {
		if c.Status == s {
			return true
		}
	}
	return false
}

// AmountReached reports whether the cached running total meets the target.
func (c *Campaign) AmountReached() bool {
	return c.CurrentAmount >= c.TargetAmount
}

// EligibleForSettlement is true once either signal says the target was reached.
func (c *Campaign) EligibleForSettlement() bool {
	return c.StatusReached() || c.AmountReached()
}

type FundingTransaction struct {
	ID            uint         `gorm:"primaryKey" json:"-"`
	TransactionID string       `gorm:"uniqueIndex;size:64;not null" json:"transaction_id"`
	CampaignID    string       `gorm:"size:64;not null" json:"campaign_id"`
	BackerID      string       `gorm:"size:64" json:"backer_id"`
	Amount        money.Amount `gorm:"not null" json:"amount"`
	GatewayFee    money.Amount `gorm:"not null;default:0" json:"gateway_fee"`
	Status        string       `gorm:"size:16;not null" json:"status"` // PENDING, SUCCEEDED, FAILED, REFUNDED, CANCELLED
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type ShareAgreement struct {
	ID            uint            `gorm:"primaryKey" json:"-"`
	AgreementID   string          `gorm:"uniqueIndex;size:64;not null" json:"agreement_id"`
	CampaignID    string          `gorm:"size:64;index;not null" json:"campaign_id"`
	StakeholderID string          `gorm:"size:64;not null" json:"stakeholder_id"`
	Kind          string          `gorm:"size:16;not null" json:"kind"` // PARTNER or COLLABORATOR
	Rate          decimal.Decimal `gorm:"type:numeric(9,6);not null" json:"rate"`
	Active        bool            `gorm:"not null" json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Share is one stakeholder's resolved rate of the net amount.
type Share struct {
	StakeholderID string          `json:"stakeholder_id"`
	Kind          string          `json:"kind"`
	Rate          decimal.Decimal `json:"rate"`
}
