// Package campaign administers campaigns and their share agreements.
package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/klear-funding/internal/money"
	"github.com/ksred/klear-funding/internal/types"
	"github.com/ksred/klear-funding/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// transitions lists the lifecycle moves an operator may make.
var transitions = map[string][]string{
	types.CampaignStatusDraft:     {types.CampaignStatusLive},
	types.CampaignStatusLive:      {types.CampaignStatusSucceeded, types.CampaignStatusFailed},
	types.CampaignStatusSucceeded: {types.CampaignStatusExecuting},
	types.CampaignStatusExecuting: {types.CampaignStatusCompleted},
}

// CreateRequest describes a new campaign.
type CreateRequest struct {
	CreatorID       string           `json:"creator_id" binding:"required"`
	Title           string           `json:"title"`
	TargetAmount    money.Amount     `json:"target_amount" binding:"required"`
	Status          string           `json:"status"`
	PlatformFeeRate *decimal.Decimal `json:"platform_fee_rate"`
}

// AgreementRequest describes a partner or collaborator share.
type AgreementRequest struct {
	StakeholderID string          `json:"stakeholder_id" binding:"required"`
	Kind          string          `json:"kind" binding:"required"`
	Rate          decimal.Decimal `json:"rate"`
}

type Service struct {
	db  *Database
	now func() time.Time
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:  NewDatabase(gormDB),
		now: time.Now,
	}
}

// CreateCampaign validates and stores a campaign in DRAFT or LIVE.
func (s *Service) CreateCampaign(ctx context.Context, req CreateRequest) (*types.Campaign, error) {
	if req.CreatorID == "" {
		return nil, fmt.Errorf("%w: creator is required", types.ErrInvalidCampaign)
	}
	if req.TargetAmount <= 0 {
		return nil, fmt.Errorf("%w: target amount must be positive", types.ErrInvalidCampaign)
	}

	status := req.Status
	if status == "" {
		status = types.CampaignStatusDraft
	}
	if status != types.CampaignStatusDraft && status != types.CampaignStatusLive {
		return nil, fmt.Errorf("%w: a new campaign starts DRAFT or LIVE, not %s", types.ErrInvalidCampaign, status)
	}

	now := s.now()
	campaign := &types.Campaign{
		CampaignID:   "CMP_" + uuid.New().String(),
		CreatorID:    req.CreatorID,
		Title:        req.Title,
		TargetAmount: req.TargetAmount,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.PlatformFeeRate != nil {
		if !inUnitInterval(*req.PlatformFeeRate) {
			return nil, fmt.Errorf("%w: platform fee rate %s outside [0,1]", types.ErrInvalidCampaign, req.PlatformFeeRate)
		}
		campaign.PlatformFeeRate = decimal.NewNullDecimal(*req.PlatformFeeRate)
	}

	if err := s.db.CreateCampaign(ctx, campaign); err != nil {
		return nil, err
	}

	log.Info().
		Str("campaign_id", campaign.CampaignID).
		Str("creator_id", campaign.CreatorID).
		Int64("target_amount", campaign.TargetAmount.Int64()).
		Msg("campaign created")

	return campaign, nil
}

func (s *Service) GetCampaign(ctx context.Context, campaignID string) (*types.Campaign, error) {
	return s.db.GetCampaign(ctx, campaignID)
}

func (s *Service) ListCampaigns(ctx context.Context, status string) ([]types.Campaign, error) {
	return s.db.ListCampaigns(ctx, status)
}

// UpdateStatus moves the campaign along its lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, campaignID, status string) (*types.Campaign, error) {
	var updated *types.Campaign
	err := s.db.Transaction(ctx, func(tx *Database) error {
		campaign, err := tx.LockCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if !allowed(campaign.Status, status) {
			return fmt.Errorf("%w: %s -> %s", types.ErrInvalidCampaignTransition, campaign.Status, status)
		}

		from := campaign.Status
		campaign.Status = status
		campaign.UpdatedAt = s.now()
		if err := tx.UpdateStatus(ctx, campaign, from); err != nil {
			return err
		}
		updated = campaign
		return nil
	})
	if err != nil {
		return nil, types.NewStorageError("campaign status transaction", err)
	}

	log.Info().
		Str("campaign_id", campaignID).
		Str("status", status).
		Msg("campaign status updated")

	return updated, nil
}

// AddShareAgreement attaches an active partner or collaborator share. It is
// rejected if the campaign's active rates would sum past 100%.
func (s *Service) AddShareAgreement(ctx context.Context, campaignID string, req AgreementRequest) (*types.ShareAgreement, error) {
	if req.Kind != types.StakeholderPartner && req.Kind != types.StakeholderCollaborator {
		return nil, fmt.Errorf("%w: kind must be PARTNER or COLLABORATOR, got %q", types.ErrInvalidShareConfiguration, req.Kind)
	}
	if !inUnitInterval(req.Rate) {
		return nil, fmt.Errorf("%w: rate %s outside [0,1]", types.ErrInvalidShareConfiguration, req.Rate)
	}

	var agreement *types.ShareAgreement
	err := s.db.Transaction(ctx, func(tx *Database) error {
		if _, err := tx.LockCampaign(ctx, campaignID); err != nil {
			return err
		}

		active, err := tx.ListAgreements(ctx, campaignID, true)
		if err != nil {
			return err
		}
		total := req.Rate
		for _, a := range active {
			total = total.Add(a.Rate)
		}
		if total.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: active shares would total %s", types.ErrInvalidShareConfiguration, total)
		}

		now := s.now()
		agreement = &types.ShareAgreement{
			AgreementID:   "AGR_" + uuid.New().String(),
			CampaignID:    campaignID,
			StakeholderID: req.StakeholderID,
			Kind:          req.Kind,
			Rate:          req.Rate,
			Active:        true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return tx.CreateAgreement(ctx, agreement)
	})
	if err != nil {
		return nil, types.NewStorageError("share agreement transaction", err)
	}

	log.Info().
		Str("campaign_id", campaignID).
		Str("agreement_id", agreement.AgreementID).
		Str("kind", agreement.Kind).
		Str("rate", agreement.Rate.String()).
		Msg("share agreement added")

	return agreement, nil
}

// DeactivateShareAgreement stops an agreement from taking part in future
// settlements. Existing settlements keep their payouts.
func (s *Service) DeactivateShareAgreement(ctx context.Context, agreementID string) (*types.ShareAgreement, error) {
	agreement, err := s.db.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if !agreement.Active {
		return agreement, nil
	}

	agreement.Active = false
	agreement.UpdatedAt = s.now()
	if err := s.db.DeactivateAgreement(ctx, agreement); err != nil {
		return nil, err
	}
	return agreement, nil
}

func (s *Service) ListShareAgreements(ctx context.Context, campaignID string) ([]types.ShareAgreement, error) {
	if _, err := s.db.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.db.ListAgreements(ctx, campaignID, false)
}

func allowed(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func inUnitInterval(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1))
}

// GinHandlers contains HTTP handlers for campaign endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func (h *GinHandlers) CreateCampaignHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		campaign, err := h.service.CreateCampaign(c.Request.Context(), req)
		response.Handle(c, campaign, err)
	}
}

func (h *GinHandlers) GetCampaignHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		campaign, err := h.service.GetCampaign(c.Request.Context(), c.Param("campaign_id"))
		response.Handle(c, campaign, err)
	}
}

func (h *GinHandlers) ListCampaignsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		campaigns, err := h.service.ListCampaigns(c.Request.Context(), c.Query("status"))
		response.Handle(c, campaigns, err)
	}
}

func (h *GinHandlers) UpdateStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		campaign, err := h.service.UpdateStatus(c.Request.Context(), c.Param("campaign_id"), request.Status)
		response.Handle(c, campaign, err)
	}
}

func (h *GinHandlers) AddShareAgreementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AgreementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		agreement, err := h.service.AddShareAgreement(c.Request.Context(), c.Param("campaign_id"), req)
		response.Handle(c, agreement, err)
	}
}

func (h *GinHandlers) DeactivateShareAgreementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agreement, err := h.service.DeactivateShareAgreement(c.Request.Context(), c.Param("agreement_id"))
		response.Handle(c, agreement, err)
	}
}

func (h *GinHandlers) ListShareAgreementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		agreements, err := h.service.ListShareAgreements(c.Request.Context(), c.Param("campaign_id"))
		response.Handle(c, agreements, err)
	}
}
