package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/klear-funding/internal/auth"
	"github.com/ksred/klear-funding/internal/campaign"
	"github.com/ksred/klear-funding/internal/config"
	"github.com/ksred/klear-funding/internal/consistency"
	"github.com/ksred/klear-funding/internal/database"
	"github.com/ksred/klear-funding/internal/events"
	"github.com/ksred/klear-funding/internal/funding"
	"github.com/ksred/klear-funding/internal/gateway"
	"github.com/ksred/klear-funding/internal/settlement"
	"github.com/ksred/klear-funding/internal/shares"
	"github.com/ksred/klear-funding/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

type handlers struct {
	auth        *auth.GinHandlers
	campaign    *campaign.GinHandlers
	funding     *funding.GinHandlers
	shares      *shares.GinHandlers
	settlement  *settlement.GinHandlers
	consistency *consistency.GinHandlers
}

// main runs the settlement API, the background processor and, when brokers
// are configured, the funding event consumer
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authService := auth.NewService(cfg.JWTSecret, cfg.Operators)
	if cfg.Env != "production" {
		authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	}

	resolver := shares.NewResolver(cfg.PlatformFeeRate)
	settlementService := settlement.NewService(db, resolver)
	tracker := settlement.NewTracker(db)
	validator := consistency.NewValidator(db)

	// Funding success reaches the orchestrator through Kafka when brokers are
	// configured, otherwise in process.
	var notifier funding.Notifier = events.NewDirectNotifier(settlementService)
	if cfg.KafkaEnabled() {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicFundingSucceeded)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to create funding event publisher")
		}
		defer publisher.Close()
		notifier = publisher

		consumer, err := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopicFundingSucceeded, settlementService)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to create funding event consumer")
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				zlog.Error().Err(err).Msg("Funding event consumer stopped")
			}
		}()
	}

	fundingService := funding.NewService(db, notifier)
	campaignService := campaign.NewService(db)

	processor := settlement.NewProcessor(settlementService, tracker, cfg.ProcessorInterval).
		WithSweeper(validator)
	if cfg.SimulateGateway {
		processor.WithGateway(gateway.NewSimulator(cfg.GatewaySuccessRate, time.Now().UnixNano()))
	}
	go processor.Start(ctx)
	go purgeIdempotencyKeys(ctx, fundingService, time.Hour)

	router.Use(middleware.RateLimit())

	setupRoutes(router, authService, handlers{
		auth:        auth.NewGinHandlers(authService),
		campaign:    campaign.NewGinHandlers(campaignService),
		funding:     funding.NewGinHandlers(fundingService),
		shares:      shares.NewGinHandlers(shares.NewService(db, resolver)),
		settlement:  settlement.NewGinHandlers(settlementService, tracker),
		consistency: consistency.NewGinHandlers(validator),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.Port).Str("db_driver", cfg.DBDriver).Bool("kafka", cfg.KafkaEnabled()).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")
	cancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// - Auth routes: public token endpoint
// - Internal routes: operator tokens with the settlement admin permission
func setupRoutes(router *gin.Engine, authService *auth.Service, h handlers) {
	v1 := router.Group("/api/v1")
	{
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/token", h.auth.GenerateTokenHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.JWTAuth(authService, auth.PermissionSettlementAdmin))
		{
			internal.POST("/campaigns", h.campaign.CreateCampaignHandler())
			internal.GET("/campaigns", h.campaign.ListCampaignsHandler())
			internal.GET("/campaigns/:campaign_id", h.campaign.GetCampaignHandler())
			internal.POST("/campaigns/:campaign_id/status", h.campaign.UpdateStatusHandler())

			internal.POST("/campaigns/:campaign_id/agreements", h.campaign.AddShareAgreementHandler())
			internal.GET("/campaigns/:campaign_id/agreements", h.campaign.ListShareAgreementsHandler())
			internal.POST("/agreements/:agreement_id/deactivate", h.campaign.DeactivateShareAgreementHandler())
			internal.GET("/campaigns/:campaign_id/shares", h.shares.ResolveSharesHandler())

			internal.POST("/campaigns/:campaign_id/fundings", h.funding.RecordFundingHandler())
			internal.GET("/campaigns/:campaign_id/fundings", h.funding.ListTransactionsHandler())
			internal.GET("/fundings/:transaction_id", h.funding.GetTransactionHandler())
			internal.POST("/fundings/:transaction_id/status", h.funding.UpdateStatusHandler())

			internal.POST("/campaigns/:campaign_id/settlement", h.settlement.CreateSettlementHandler())
			internal.GET("/campaigns/:campaign_id/settlement", h.settlement.GetSettlementHandler())
			internal.POST("/payouts/:payout_id/status", h.settlement.MarkPayoutStatusHandler())

			internal.GET("/campaigns/:campaign_id/consistency", h.consistency.ValidateConsistencyHandler())
		}
	}
}

// purgeIdempotencyKeys drops expired funding idempotency keys every interval
func purgeIdempotencyKeys(ctx context.Context, service *funding.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := service.PurgeExpiredKeys(ctx)
			if err != nil {
				zlog.Error().Err(err).Msg("Failed to purge idempotency keys")
				continue
			}
			if n > 0 {
				zlog.Info().Int64("purged", n).Msg("Expired idempotency keys purged")
			}
		}
	}
}
