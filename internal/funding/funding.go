// Package funding keeps the ledger of backer contributions and the running
// total cached on each campaign.
package funding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/klear-funding/internal/types"
	"github.com/ksred/klear-funding/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Notifier is told about every funding transaction that reached SUCCEEDED,
// after the change is committed.
type Notifier interface {
	FundingSucceeded(ctx context.Context, campaignID, transactionID string) error
}

// Service handles funding transactions and their effect on campaign totals
type Service struct {
	db       *Database
	notifier Notifier
	now      func() time.Time
}

func NewService(gormDB *gorm.DB, notifier Notifier) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		notifier: notifier,
		now:      time.Now,
	}
}

// RecordFunding stores a PENDING funding transaction for a LIVE campaign. A
// repeated idempotency key returns the transaction created first.
func (s *Service) RecordFunding(ctx context.Context, req RecordRequest, idempotencyKey string) (*types.FundingTransaction, error) {
	now := s.now()

	record, err := s.db.GetIdempotencyRecord(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if record != nil && record.ExpiresAt.After(now) {
		return s.db.GetTransaction(ctx, record.ResourceID)
	}

	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", types.ErrInvalidFunding)
	}
	if req.GatewayFee < 0 || req.GatewayFee > req.Amount {
		return nil, fmt.Errorf("%w: gateway fee must be between 0 and the amount", types.ErrInvalidFunding)
	}

	campaign, err := s.db.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != types.CampaignStatusLive {
		return nil, fmt.Errorf("%w: status %s", types.ErrCampaignNotAccepting, campaign.Status)
	}

	tx := &types.FundingTransaction{
		TransactionID: "FTX_" + uuid.New().String(),
		CampaignID:    req.CampaignID,
		BackerID:      req.BackerID,
		Amount:        req.Amount,
		GatewayFee:    req.GatewayFee,
		Status:        types.FundingStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.db.CreateTransactionWithIdempotency(ctx, tx, idempotencyKey, now, now.Add(idempotencyTTL)); err != nil {
		// A concurrent request with the same key committed first.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			record, readErr := s.db.GetIdempotencyRecord(ctx, idempotencyKey)
			if readErr == nil && record != nil {
				return s.db.GetTransaction(ctx, record.ResourceID)
			}
		}
		return nil, types.NewStorageError("create funding transaction", err)
	}

	log.Info().
		Str("campaign_id", tx.CampaignID).
		Str("transaction_id", tx.TransactionID).
		Int64("amount", tx.Amount.Int64()).
		Msg("funding transaction recorded")

	return tx, nil
}

// UpdateStatus applies a gateway outcome to a funding transaction. Success
// adds the amount to the campaign's cached total and marks a LIVE campaign
// SUCCEEDED once the total reaches its target; a refund takes the amount back
// off. The ledger and the cached total change in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, transactionID, status string) (*types.FundingTransaction, error) {
	logger := log.With().
		Str("transaction_id", transactionID).
		Str("target_status", status).
		Str("service", "funding").
		Logger()

	var (
		updated   *types.FundingTransaction
		campaign  *types.Campaign
		succeeded bool
	)
	err := s.db.Transaction(ctx, func(db *Database) error {
		tx, err := db.LockTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if !canTransition(tx.Status, status) {
			return fmt.Errorf("%w: %s -> %s", types.ErrInvalidFundingTransition, tx.Status, status)
		}

		now := s.now()
		if err := db.UpdateTransactionStatus(ctx, transactionID, tx.Status, status, now); err != nil {
			return err
		}
		tx.Status = status
		tx.UpdatedAt = now
		updated = tx

		if status != types.FundingStatusSucceeded && status != types.FundingStatusRefunded {
			return nil
		}

		c, err := db.LockCampaign(ctx, tx.CampaignID)
		if err != nil {
			return err
		}
		if status == types.FundingStatusSucceeded {
			c.CurrentAmount, err = c.CurrentAmount.Add(tx.Amount)
			if err == nil && c.Status == types.CampaignStatusLive && c.AmountReached() {
				c.Status = types.CampaignStatusSucceeded
			}
			succeeded = true
		} else {
			c.CurrentAmount, err = c.CurrentAmount.Sub(tx.Amount)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrInvalidFunding, err)
		}
		c.UpdatedAt = now
		campaign = c
		return db.SaveCampaignTotals(ctx, c)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("funding status update rejected")
		return nil, types.NewStorageError("funding status transaction", err)
	}

	if campaign != nil {
		logger.Info().
			Str("campaign_id", campaign.CampaignID).
			Int64("current_amount", campaign.CurrentAmount.Int64()).
			Str("campaign_status", campaign.Status).
			Msg("campaign total updated")
	}

	// The notifier runs after commit. Its failure is logged; the settlement
	// processor re-checks eligible campaigns on its own schedule.
	if succeeded && s.notifier != nil {
		if err := s.notifier.FundingSucceeded(ctx, updated.CampaignID, updated.TransactionID); err != nil {
			logger.Error().Err(err).Str("campaign_id", updated.CampaignID).Msg("failed to notify funding success")
		}
	}

	return updated, nil
}

func (s *Service) GetTransaction(ctx context.Context, transactionID string) (*types.FundingTransaction, error) {
	return s.db.GetTransaction(ctx, transactionID)
}

func (s *Service) ListTransactions(ctx context.Context, campaignID string) ([]types.FundingTransaction, error) {
	if _, err := s.db.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.db.ListTransactions(ctx, campaignID)
}

// PurgeExpiredKeys removes idempotency records past their TTL.
func (s *Service) PurgeExpiredKeys(ctx context.Context) (int64, error) {
	return s.db.DeleteExpiredIdempotencyRecords(ctx, s.now())
}

// GinHandlers contains HTTP handlers for funding endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RecordFundingHandler handles POST requests recording a contribution.
// Requires an Idempotency-Key header.
func (h *GinHandlers) RecordFundingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req RecordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		req.CampaignID = c.Param("campaign_id")

		tx, err := h.service.RecordFunding(c.Request.Context(), req, idempotencyKey)
		response.Handle(c, tx, err)
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

		tx, err := h.service.UpdateStatus(c.Request.Context(), c.Param("transaction_id"), request.Status)
		response.Handle(c, tx, err)
	}
}

func (h *GinHandlers) GetTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tx, err := h.service.GetTransaction(c.Request.Context(), c.Param("transaction_id"))
		response.Handle(c, tx, err)
	}
}

func (h *GinHandlers) ListTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		txs, err := h.service.ListTransactions(c.Request.Context(), c.Param("campaign_id"))
		response.Handle(c, txs, err)
	}
}
