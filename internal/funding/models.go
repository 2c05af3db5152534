package funding

import (
	"time"

	"github.com/ksred/klear-funding/internal/money"
	"github.com/ksred/klear-funding/internal/types"
)

// IdempotencyRecord maps a client's Idempotency-Key to the funding transaction
// it created.
type IdempotencyRecord struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	IdempotencyKey string    `gorm:"uniqueIndex;size:128;not null" json:"idempotency_key"`
	ResourceID     string    `gorm:"size:64;not null" json:"resource_id"`
	ResourceType   string    `gorm:"size:32;not null" json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordRequest is a backer's contribution as reported by the payment gateway.
type RecordRequest struct {
	CampaignID string       `json:"campaign_id"`
	BackerID   string       `json:"backer_id" binding:"required"`
	Amount     money.Amount `json:"amount" binding:"required"`
	GatewayFee money.Amount `json:"gateway_fee"`
}

const idempotencyTTL = 24 * time.Hour

// transitions lists the statuses each funding status may move to.
var transitions = map[string][]string{
	types.FundingStatusPending:   {types.FundingStatusSucceeded, types.FundingStatusFailed, types.FundingStatusCancelled},
	types.FundingStatusSucceeded: {types.FundingStatusRefunded},
}

func canTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
