package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/klear-funding/internal/consistency"
	"github.com/rs/zerolog/log"
)

// ErrPayoutDeclined is returned by a PayoutGateway that refused a transfer.
// Any other gateway error leaves the payout PENDING for the next run.
var ErrPayoutDeclined = errors.New("payout declined by gateway")

// PayoutGateway moves a payout's money and returns the gateway reference.
type PayoutGateway interface {
	Disburse(ctx context.Context, payout *Payout) (string, error)
}

// ConsistencySweeper checks every campaign's ledger against its cached totals.
type ConsistencySweeper interface {
	ValidateAll(ctx context.Context) ([]*consistency.Report, error)
}

type Processor struct {
	service      *Service
	tracker      *Tracker
	gateway      PayoutGateway
	sweeper      ConsistencySweeper
	processDelay time.Duration // Time between processing runs
	batchSize    int
}

func NewProcessor(service *Service, tracker *Tracker, processDelay time.Duration) *Processor {
	if processDelay <= 0 {
		processDelay = 5 * time.Minute
	}
	return &Processor{
		service:      service,
		tracker:      tracker,
		processDelay: processDelay,
		batchSize:    100,
	}
}

// WithGateway enables payout dispatch through gateway.
func (p *Processor) WithGateway(gateway PayoutGateway) *Processor {
	p.gateway = gateway
	return p
}

// WithSweeper enables the periodic consistency sweep.
func (p *Processor) WithSweeper(sweeper ConsistencySweeper) *Processor {
	p.sweeper = sweeper
	return p
}

// Start begins the processing loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_processor").Logger()
	logger.Info().Dur("interval", p.processDelay).Msg("starting settlement processor")

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down settlement processor")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass: settle eligible campaigns, dispatch pending
// payouts and sweep for drift. Failures are logged per item and the pass
// carries on; nothing here retries a failed settlement transaction.
func (p *Processor) RunOnce(ctx context.Context) {
	logger := log.With().Str("component", "settlement_processor").Logger()

	if err := p.settleEligibleCampaigns(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to settle eligible campaigns")
	}

	if p.gateway != nil {
		if err := p.dispatchPendingPayouts(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to dispatch pending payouts")
		}
	}

	if p.sweeper != nil {
		if err := p.sweepConsistency(ctx); err != nil {
			logger.Error().Err(err).Msg("consistency sweep failed")
		}
	}
}

func (p *Processor) settleEligibleCampaigns(ctx context.Context) error {
	logger := log.With().Str("component", "settlement_processor").Logger()

	campaignIDs, err := p.service.store.EligibleCampaignsWithoutSettlement(ctx)
	if err != nil {
		return err
	}

	if len(campaignIDs) > 0 {
		logger.Info().Int("eligible_count", len(campaignIDs)).Msg("re-checking eligible campaigns")
	}

	for _, campaignID := range campaignIDs {
		settlement, err := p.service.CreateSettlementIfTargetReached(ctx, campaignID)
		if err != nil {
			logger.Error().
				Err(err).
				Str("campaign_id", campaignID).
				Msg("settlement re-check failed")
			continue
		}
		if settlement != nil {
			logger.Info().
				Str("campaign_id", campaignID).
				Str("settlement_id", settlement.SettlementID).
				Msg("settlement created by re-check")
		}
	}

	return nil
}

func (p *Processor) dispatchPendingPayouts(ctx context.Context) error {
	logger := log.With().Str("component", "settlement_processor").Logger()

	payouts, err := p.service.store.PendingPayouts(ctx, p.batchSize)
	if err != nil {
		return err
	}

	for i := range payouts {
		payout := &payouts[i]
		reference, err := p.gateway.Disburse(ctx, payout)
		switch {
		case err == nil:
			_, err = p.tracker.MarkPayoutStatus(ctx, payout.PayoutID, PayoutStatusPaid, PayoutContext{GatewayReference: reference})
		case errors.Is(err, ErrPayoutDeclined):
			_, err = p.tracker.MarkPayoutStatus(ctx, payout.PayoutID, PayoutStatusFailed, PayoutContext{
				GatewayReference: reference,
				FailureReason:    err.Error(),
			})
		default:
			logger.Warn().
				Err(err).
				Str("payout_id", payout.PayoutID).
				Msg("gateway unavailable, payout left pending")
			continue
		}
		if err != nil {
			logger.Error().
				Err(err).
				Str("payout_id", payout.PayoutID).
				Msg("failed to record payout outcome")
		}
	}

	return nil
}

// sweepConsistency logs drift. A single mismatch may be a funding commit
// racing the cached-total update, so it is reported, never remediated.
func (p *Processor) sweepConsistency(ctx context.Context) error {
	logger := log.With().Str("component", "settlement_processor").Logger()

	reports, err := p.sweeper.ValidateAll(ctx)
	if err != nil {
		return err
	}

	for _, report := range reports {
		if report.Consistent() {
			continue
		}
		logger.Warn().
			Str("campaign_id", report.CampaignID).
			Int64("ledger_total", report.LedgerTotal.Int64()).
			Int64("cached_delta", report.CachedDelta.Int64()).
			Int64("settlement_delta", report.SettlementDelta.Int64()).
			Bool("status_consistent", report.StatusConsistent).
			Msg("consistency drift detected")
	}

	return nil
}
