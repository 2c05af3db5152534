package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/ksred/klear-funding/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Tracker records gateway outcomes on payouts. It never moves money itself.
type Tracker struct {
	store Store
	now   func() time.Time
}

func NewTracker(gormDB *gorm.DB) *Tracker {
	return NewTrackerWithStore(NewDatabase(gormDB))
}

func NewTrackerWithStore(store Store) *Tracker {
	return &Tracker{
		store: store,
		now:   time.Now,
	}
}

// MarkPayoutStatus moves a PENDING payout to PAID or FAILED and re-derives the
// settlement's aggregate payout status in the same transaction. Both target
// statuses are terminal; any other transition fails with
// ErrInvalidPayoutTransition. The payout amount is never touched.
func (t *Tracker) MarkPayoutStatus(ctx context.Context, payoutID, status string, pctx PayoutContext) (*Payout, error) {
	logger := log.With().
		Str("payout_id", payoutID).
		Str("target_status", status).
		Str("service", "payout_tracker").
		Logger()

	if status != PayoutStatusPaid && status != PayoutStatusFailed {
		return nil, fmt.Errorf("%w: target status %q", types.ErrInvalidPayoutTransition, status)
	}

	var updated *Payout
	err := t.store.Transaction(ctx, func(tx Store) error {
		payout, err := tx.LockPayout(ctx, payoutID)
		if err != nil {
			return err
		}

		if payout.Status != PayoutStatusPending {
			return fmt.Errorf("%w: %s -> %s", types.ErrInvalidPayoutTransition, payout.Status, status)
		}

		now := t.now()
		payout.Status = status
		payout.UpdatedAt = now
		switch status {
		case PayoutStatusPaid:
			payout.PaidAt = &now
			payout.GatewayReference = pctx.GatewayReference
		case PayoutStatusFailed:
			payout.FailedAt = &now
			payout.GatewayReference = pctx.GatewayReference
			payout.FailureReason = pctx.FailureReason
		}

		if err := tx.TransitionPayout(ctx, payout, PayoutStatusPending); err != nil {
			return err
		}

		payouts, err := tx.ListPayouts(ctx, payout.SettlementID)
		if err != nil {
			return err
		}
		if err := tx.UpdateSettlementPayoutStatus(ctx, payout.SettlementID, derivePayoutStatus(payouts), now); err != nil {
			return err
		}

		updated = payout
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("payout status update rejected")
		return nil, types.NewStorageError("payout status transaction", err)
	}

	logger.Info().
		Str("settlement_id", updated.SettlementID).
		Int64("amount", updated.Amount.Int64()).
		Msg("payout status recorded")

	return updated, nil
}
