package settlement

import (
	"time"

	"github.com/ksred/klear-funding/internal/money"
	"github.com/shopspring/decimal"
)

// Payout statuses. PAID and FAILED are terminal.
const (
	PayoutStatusPending = "PENDING"
	PayoutStatusPaid    = "PAID"
	PayoutStatusFailed  = "FAILED"
)

// Aggregate payout statuses of a settlement, derived from its payouts.
const (
	AggregateStatusPending = "PENDING"
	AggregateStatusPartial = "PARTIAL"
	AggregateStatusPaid    = "PAID"
	AggregateStatusFailed  = "FAILED"
)

// Settlement is the immutable split of a successful campaign's raised funds.
// Only PayoutStatus and UpdatedAt change after creation.
type Settlement struct {
	ID                     uint            `gorm:"primaryKey" json:"-"`
	SettlementID           string          `gorm:"uniqueIndex;size:64;not null" json:"settlement_id"`
	CampaignID             string          `gorm:"uniqueIndex;size:64;not null" json:"campaign_id"`
	TotalRaised            money.Amount    `gorm:"not null" json:"total_raised"`
	PlatformFeeRate        decimal.Decimal `gorm:"type:numeric(9,6);not null" json:"platform_fee_rate"`
	PlatformFee            money.Amount    `gorm:"not null" json:"platform_fee"`
	GatewayFees            money.Amount    `gorm:"not null" json:"gateway_fees"`
	NetAmount              money.Amount    `gorm:"not null" json:"net_amount"`
	CreatorShare           money.Amount    `gorm:"not null" json:"creator_share"`
	PartnerShareTotal      money.Amount    `gorm:"not null" json:"partner_share_total"`
	CollaboratorShareTotal money.Amount    `gorm:"not null" json:"collaborator_share_total"`
	PayoutStatus           string          `gorm:"size:16;not null" json:"payout_status"` // PENDING, PARTIAL, PAID, FAILED
	Payouts                []Payout        `gorm:"foreignKey:SettlementID;references:SettlementID" json:"payouts,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// Payout is one stakeholder's portion of a settlement.
type Payout struct {
	ID               uint            `gorm:"primaryKey" json:"-"`
	PayoutID         string          `gorm:"uniqueIndex;size:64;not null" json:"payout_id"`
	SettlementID     string          `gorm:"size:64;not null;uniqueIndex:idx_payouts_stakeholder,priority:1" json:"settlement_id"`
	StakeholderKind  string          `gorm:"size:16;not null;uniqueIndex:idx_payouts_stakeholder,priority:2" json:"stakeholder_kind"` // PLATFORM, CREATOR, PARTNER, COLLABORATOR
	StakeholderID    *string         `gorm:"size:64;uniqueIndex:idx_payouts_stakeholder,priority:3" json:"stakeholder_id"`        // nil for PLATFORM
	Amount           money.Amount    `gorm:"not null" json:"amount"`
	Percentage       decimal.Decimal `gorm:"type:numeric(9,6);not null" json:"percentage"`
	Status           string          `gorm:"size:16;index;not null" json:"status"` // PENDING, PAID, FAILED
	GatewayReference string          `gorm:"size:128" json:"gateway_reference,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	FailedAt         *time.Time      `json:"failed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// PayoutContext carries the gateway's confirmation details for a status change.
type PayoutContext struct {
	GatewayReference string `json:"gateway_reference"`
	FailureReason    string `json:"failure_reason"`
}

// SettlementResult is returned by the trigger endpoint. Eligible is false when
// the campaign has not reached its target yet.
type SettlementResult struct {
	Eligible   bool        `json:"eligible"`
	Settlement *Settlement `json:"settlement,omitempty"`
}

// PayoutTotal sums the payout amounts. For a consistent settlement this equals
// PlatformFee + NetAmount.
func (s *Settlement) PayoutTotal() money.Amount {
	var total money.Amount
	for _, p := range s.Payouts {
		total += p.Amount
	}
	return total
}

// derivePayoutStatus computes a settlement's aggregate status from its payouts.
func derivePayoutStatus(payouts []Payout) string {
	var paid, failed, pending int
	for _, p := range payouts {
		switch p.Status {
		case PayoutStatusPaid:
			paid++
		case PayoutStatusFailed:
			failed++
		default:
			pending++
		}
	}
	switch {
	case paid+failed == 0:
		return AggregateStatusPending
	case pending > 0:
		return AggregateStatusPartial
	case failed > 0:
		return AggregateStatusFailed
	default:
		return AggregateStatusPaid
	}
}
