// Package events carries funding-succeeded notifications to the settlement
// orchestrator, either over Kafka or in process.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ksred/klear-funding/internal/settlement"
	"github.com/rs/zerolog/log"
)

const EventFundingSucceeded = "funding.succeeded"

// ErrMalformedEvent marks a payload that can never be handled.
var ErrMalformedEvent = errors.New("malformed funding event")

// FundingEvent is the wire form of a funding-succeeded notification.
type FundingEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	CampaignID    string    `json:"campaign_id"`
	TransactionID string    `json:"transaction_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Decode parses and validates a FundingEvent payload.
func Decode(payload []byte) (*FundingEvent, error) {
	var event FundingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.EventType != EventFundingSucceeded {
		return nil, fmt.Errorf("%w: unexpected event type %q", ErrMalformedEvent, event.EventType)
	}
	if event.CampaignID == "" {
		return nil, fmt.Errorf("%w: missing campaign_id", ErrMalformedEvent)
	}
	return &event, nil
}

// SettlementTrigger is the orchestrator entry point events are delivered to.
type SettlementTrigger interface {
	CreateSettlementIfTargetReached(ctx context.Context, campaignID string) (*settlement.Settlement, error)
}

// DirectNotifier triggers settlement synchronously in the funding request's
// goroutine. It is used when no broker is configured.
type DirectNotifier struct {
	trigger SettlementTrigger
}

func NewDirectNotifier(trigger SettlementTrigger) *DirectNotifier {
	return &DirectNotifier{trigger: trigger}
}

func (n *DirectNotifier) FundingSucceeded(ctx context.Context, campaignID, transactionID string) error {
	s, err := n.trigger.CreateSettlementIfTargetReached(ctx, campaignID)
	if err != nil {
		return err
	}
	if s != nil {
		log.Debug().
			Str("campaign_id", campaignID).
			Str("transaction_id", transactionID).
			Str("settlement_id", s.SettlementID).
			Msg("settlement triggered in process")
	}
	return nil
}
