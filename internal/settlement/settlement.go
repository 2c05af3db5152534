package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/klear-funding/internal/breakdown"
	"github.com/ksred/klear-funding/internal/money"
	"github.com/ksred/klear-funding/internal/shares"
	"github.com/ksred/klear-funding/internal/types"
	"github.com/ksred/klear-funding/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// errSettlementExists aborts a creation transaction that lost the race on the
// campaign's unique settlement.
var errSettlementExists = errors.New("settlement already exists for campaign")

// Service creates settlements for campaigns that reached their target.
type Service struct {
	store    Store
	resolver *shares.Resolver
	now      func() time.Time
}

func NewService(gormDB *gorm.DB, resolver *shares.Resolver) *Service {
	return NewServiceWithStore(NewDatabase(gormDB), resolver)
}

// NewServiceWithStore creates a service over an arbitrary Store.
func NewServiceWithStore(store Store, resolver *shares.Resolver) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		now:      time.Now,
	}
}

// CreateSettlementIfTargetReached materializes the campaign's settlement
// exactly once. It returns nil without error while the campaign is not
// eligible, and the existing settlement, unchanged, on every later call.
//
// The work runs in one transaction holding the campaign row lock, so
// concurrent triggers for a campaign serialize. If the insert still hits the
// unique constraint on campaign_id, the transaction rolls back and the
// winner's settlement is read back and returned.
func (s *Service) CreateSettlementIfTargetReached(ctx context.Context, campaignID string) (*Settlement, error) {
	logger := log.With().
		Str("campaign_id", campaignID).
		Str("service", "settlement").
		Logger()

	var (
		result  *Settlement
		created bool
	)
	err := s.store.Transaction(ctx, func(tx Store) error {
		campaign, err := tx.LockCampaign(ctx, campaignID)
		if err != nil {
			return err
		}

		if !campaign.EligibleForSettlement() {
			logger.Debug().
				Int64("current_amount", campaign.CurrentAmount.Int64()).
				Int64("target_amount", campaign.TargetAmount.Int64()).
				Str("status", campaign.Status).
				Msg("campaign not yet eligible for settlement")
			return nil
		}

		existing, err := tx.GetSettlementByCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if existing != nil {
			logger.Debug().Str("settlement_id", existing.SettlementID).Msg("settlement already exists")
			result = existing
			return nil
		}

		cfg, err := s.resolver.Resolve(ctx, tx, campaign)
		if err != nil {
			return err
		}

		gatewayFees, err := tx.SumGatewayFees(ctx, campaignID)
		if err != nil {
			return err
		}

		b, err := breakdown.Compute(breakdown.Input{
			TotalRaised:     campaign.CurrentAmount,
			PlatformFeeRate: cfg.PlatformFeeRate,
			GatewayFees:     gatewayFees,
			Partners:        cfg.Partners,
			Collaborators:   cfg.Collaborators,
		})
		if err != nil {
			return fmt.Errorf("compute breakdown: %w", err)
		}

		settlement := s.buildSettlement(campaign, b)
		if err := tx.CreateSettlement(ctx, settlement); err != nil {
			if isUniqueViolation(err) {
				return errSettlementExists
			}
			return err
		}

		result = settlement
		created = true
		return nil
	})

	if errors.Is(err, errSettlementExists) {
		logger.Info().Msg("lost settlement creation race, reading back existing settlement")
		winner, readErr := s.store.GetSettlementByCampaign(ctx, campaignID)
		if readErr != nil {
			return nil, readErr
		}
		if winner == nil {
			return nil, types.NewStorageError("read back settlement", errors.New("unique conflict without a committed settlement"))
		}
		return winner, nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("settlement creation failed")
		if errors.Is(err, breakdown.ErrInvalidInput) {
			return nil, err
		}
		return nil, types.NewStorageError("settlement transaction", err)
	}

	if created {
		logger.Info().
			Str("settlement_id", result.SettlementID).
			Int64("total_raised", result.TotalRaised.Int64()).
			Int64("net_amount", result.NetAmount.Int64()).
			Int("payouts", len(result.Payouts)).
			Msg("settlement created")
	}

	return result, nil
}

// buildSettlement lays out the settlement row and one PENDING payout per
// stakeholder: the platform, the creator, then partners and collaborators in
// breakdown order.
func (s *Service) buildSettlement(campaign *types.Campaign, b *breakdown.Breakdown) *Settlement {
	now := s.now()
	settlementID := "STL_" + uuid.New().String()

	payouts := make([]Payout, 0, len(b.Items)+2)
	payouts = append(payouts, newPayout(settlementID, types.StakeholderPlatform, nil, b.PlatformFee, b.PlatformFeeRate, now))
	creatorID := campaign.CreatorID
	payouts = append(payouts, newPayout(settlementID, types.StakeholderCreator, &creatorID, b.CreatorShare, b.CreatorRate, now))
	for _, item := range b.Items {
		stakeholderID := item.StakeholderID
		payouts = append(payouts, newPayout(settlementID, item.Kind, &stakeholderID, item.Amount, item.Rate, now))
	}

	return &Settlement{
		SettlementID:           settlementID,
		CampaignID:             campaign.CampaignID,
		TotalRaised:            b.TotalRaised,
		PlatformFeeRate:        b.PlatformFeeRate,
		PlatformFee:            b.PlatformFee,
		GatewayFees:            b.GatewayFees,
		NetAmount:              b.NetAmount,
		CreatorShare:           b.CreatorShare,
		PartnerShareTotal:      b.PartnerShareTotal,
		CollaboratorShareTotal: b.CollaboratorShareTotal,
		PayoutStatus:           AggregateStatusPending,
		Payouts:                payouts,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// GetSettlement retrieves a settlement by ID
func (s *Service) GetSettlement(ctx context.Context, settlementID string) (*Settlement, error) {
	return s.store.GetSettlement(ctx, settlementID)
}

// GetSettlementByCampaign retrieves the settlement of a campaign
func (s *Service) GetSettlementByCampaign(ctx context.Context, campaignID string) (*Settlement, error) {
	settlement, err := s.store.GetSettlementByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return nil, types.ErrSettlementNotFound
	}
	return settlement, nil
}

// GinHandlers contains HTTP handlers for settlement endpoints
type GinHandlers struct {
	service *Service
	tracker *Tracker
}

func NewGinHandlers(service *Service, tracker *Tracker) *GinHandlers {
	return &GinHandlers{
		service: service,
		tracker: tracker,
	}
}

func (h *GinHandlers) CreateSettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		campaignID := c.Param("campaign_id")

		settlement, err := h.service.CreateSettlementIfTargetReached(c.Request.Context(), campaignID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, SettlementResult{
			Eligible:   settlement != nil,
			Settlement: settlement,
		})
	}
}

func (h *GinHandlers) GetSettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		settlement, err := h.service.GetSettlementByCampaign(c.Request.Context(), c.Param("campaign_id"))
		response.Handle(c, settlement, err)
	}
}

func (h *GinHandlers) MarkPayoutStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		payoutID := c.Param("payout_id")
		var request struct {
			Status           string `json:"status" binding:"required"`
			GatewayReference string `json:"gateway_reference"`
			FailureReason    string `json:"failure_reason"`
		}

		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		payout, err := h.tracker.MarkPayoutStatus(c.Request.Context(), payoutID, request.Status, PayoutContext{
			GatewayReference: request.GatewayReference,
			FailureReason:    request.FailureReason,
		})
		response.Handle(c, payout, err)
	}
}

func newPayout(settlementID, kind string, stakeholderID *string, amount money.Amount, rate decimal.Decimal, now time.Time) Payout {
	return Payout{
		PayoutID:        "PAY_" + uuid.New().String(),
		SettlementID:    settlementID,
		StakeholderKind: kind,
		StakeholderID:   stakeholderID,
		Amount:          amount,
		Percentage:      rate,
		Status:          PayoutStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
