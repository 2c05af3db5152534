package shares

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-funding/internal/types"
	"github.com/ksred/klear-funding/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AgreementSource loads the active share agreements of a campaign. The
// settlement orchestrator passes its transaction-scoped store here.
type AgreementSource interface {
	ActiveAgreements(ctx context.Context, campaignID string) ([]types.ShareAgreement, error)
}

// Configuration is the fee and share input for one campaign's breakdown.
type Configuration struct {
	CampaignID      string          `json:"campaign_id"`
	PlatformFeeRate decimal.Decimal `json:"platform_fee_rate"`
	FeeOverridden   bool            `json:"fee_overridden"`
	Partners        []types.Share   `json:"partners"`
	Collaborators   []types.Share   `json:"collaborators"`
}

// Resolver turns stored agreements into breakdown shares.
type Resolver struct {
	defaultFeeRate decimal.Decimal
}

// NewResolver creates a resolver using defaultFeeRate when a campaign has no
// fee override of its own.
func NewResolver(defaultFeeRate decimal.Decimal) *Resolver {
	return &Resolver{defaultFeeRate: defaultFeeRate}
}

// DefaultFeeRate returns the platform-wide fee rate.
func (r *Resolver) DefaultFeeRate() decimal.Decimal {
	return r.defaultFeeRate
}

// Resolve builds the share configuration for campaign from src. Rates are
// passed through as stored; bounds and the 100% ceiling are enforced by the
// breakdown calculator so misconfiguration is reported, never clamped.
func (r *Resolver) Resolve(ctx context.Context, src AgreementSource, campaign *types.Campaign) (*Configuration, error) {
	agreements, err := src.ActiveAgreements(ctx, campaign.CampaignID)
	if err != nil {
		return nil, err
	}

	cfg := &Configuration{
		CampaignID:      campaign.CampaignID,
		PlatformFeeRate: r.defaultFeeRate,
		Partners:        []types.Share{},
		Collaborators:   []types.Share{},
	}
	if campaign.PlatformFeeRate.Valid {
		cfg.PlatformFeeRate = campaign.PlatformFeeRate.Decimal
		cfg.FeeOverridden = true
	}

	// One share per (kind, stakeholder): several active agreements for the
	// same stakeholder are added together.
	type key struct{ kind, stakeholder string }
	index := make(map[key]int)
	for _, agreement := range agreements {
		if !agreement.Active {
			continue
		}
		k := key{agreement.Kind, agreement.StakeholderID}
		var group *[]types.Share
		switch agreement.Kind {
		case types.StakeholderPartner:
			group = &cfg.Partners
		case types.StakeholderCollaborator:
			group = &cfg.Collaborators
		default:
			log.Warn().
				Str("campaign_id", campaign.CampaignID).
				Str("agreement_id", agreement.AgreementID).
				Str("kind", agreement.Kind).
				Msg("ignoring share agreement with unknown stakeholder kind")
			continue
		}
		if i, ok := index[k]; ok {
			(*group)[i].Rate = (*group)[i].Rate.Add(agreement.Rate)
			continue
		}
		index[k] = len(*group)
		*group = append(*group, types.Share{
			StakeholderID: agreement.StakeholderID,
			Kind:          agreement.Kind,
			Rate:          agreement.Rate,
		})
	}

	return cfg, nil
}

// TotalRate is the sum of all partner and collaborator rates.
func (c *Configuration) TotalRate() decimal.Decimal {
	total := decimal.Zero
	for _, s := range c.Partners {
		total = total.Add(s.Rate)
	}
	for _, s := range c.Collaborators {
		total = total.Add(s.Rate)
	}
	return total
}

// Service resolves share configurations by campaign id for admin callers.
type Service struct {
	db       *Database
	resolver *Resolver
}

func NewService(gormDB *gorm.DB, resolver *Resolver) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		resolver: resolver,
	}
}

// ResolveShares loads the campaign and its active agreements.
func (s *Service) ResolveShares(ctx context.Context, campaignID string) (*Configuration, error) {
	campaign, err := s.db.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, s.db, campaign)
}

// GinHandlers contains HTTP handlers for share configuration endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func (h *GinHandlers) ResolveSharesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := h.service.ResolveShares(c.Request.Context(), c.Param("campaign_id"))
		response.Handle(c, cfg, err)
	}
}
