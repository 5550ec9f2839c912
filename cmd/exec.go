package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"style-analysis/config"
	"style-analysis/handlers"
	"style-analysis/models"
	"style-analysis/security"
	"style-analysis/services"
	"style-analysis/services/provider"
	"style-analysis/services/provider/dashscope"
	"style-analysis/services/provider/replicate"
	"style-analysis/utils"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
)

func Start() error {
	app := pocketbase.New()

	cfg := config.LoadConfig()

	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// PubNub for user-facing queue notifications
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	var pn *pubnub.PubNub
	if cfg.PubNubPublishKey != "" {
		pn = pubnub.NewPubNub(pnConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := buildProviderRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer registry.Close(context.Background())

	// Services
	queueService := services.NewQueueService(cfg, redisClient)
	creditService := services.NewCreditService(app, cfg)
	moderationService := services.NewModerationService()
	notifier := services.NewNotifier(pn)
	analysisService := services.NewAnalysisService(app, cfg, queueService, creditService, moderationService, notifier, registry)

	// Handlers
	queueHandler := handlers.NewQueueHandler(app, cfg, queueService, analysisService)
	analysisHandler := handlers.NewAnalysisHandler(app, analysisService)
	adminHandler := handlers.NewAdminHandler(app, queueService, analysisService, redisClient)
	webhookHandler := handlers.NewWebhookHandler(app, cfg, analysisService, registry)

	rateLimiter := security.NewRateLimiter(redisClient, cfg.SubmitRateLimit, cfg.SubmitRateWindow)

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	go handleShutdown(cancel, queueService)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		analysisService.Start(ctx)

		// restore runs before any route can accept a submission, so fresh
		// ids never collide with ids carried over from the previous process
		restoreQueueState(app, queueService)

		if cfg.EnableMetrics {
			go serveMetrics(cfg.MetricsPort)
		}

		// Analysis endpoints
		e.Router.POST("/api/v1/analysis", analysisHandler.Submit).BindFunc(rateLimiter.SubmitRateLimit())
		e.Router.GET("/api/v1/analysis/{id}", analysisHandler.Get)
		e.Router.POST("/api/v1/analysis/{id}/cancel", analysisHandler.Cancel)

		// Queue status
		e.Router.GET("/api/analysis/queue/status", queueHandler.GetQueueStatus).BindFunc(rateLimiter.AntiBot())

		// Provider webhook
		e.Router.POST("/api/v1/webhooks/vision", webhookHandler.HandleVisionWebhook)

		// Admin endpoints
		e.Router.GET("/api/v1/admin/queue-dashboard", adminHandler.GetQueueDashboard)
		e.Router.GET("/api/v1/admin/queue-details", adminHandler.GetQueueDetails)
		e.Router.POST("/api/v1/admin/remove-from-queue", adminHandler.RemoveFromQueue)
		e.Router.POST("/api/v1/admin/force-promote", adminHandler.ForcePromote)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

func buildProviderRegistry(ctx context.Context, cfg *config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry(provider.NewFactory())

	switch cfg.VisionProvider {
	case string(provider.ProviderDashscope):
		err := registry.Register(ctx, provider.ProviderDashscope, &dashscope.Config{
			BaseURL:   cfg.DashscopeBaseURL,
			APIKey:    cfg.DashscopeAPIKey,
			PNSubKey:  cfg.DashscopePNSubKey,
			PNUUID:    cfg.InstanceID,
			PNChannel: cfg.DashscopePNChannel,
		})
		if err != nil {
			return nil, err
		}
	default:
		err := registry.Register(ctx, provider.ProviderReplicate, &replicate.Config{
			BaseURL:       cfg.ReplicateBaseURL,
			Token:         cfg.ReplicateToken,
			Model:         cfg.ReplicateModel,
			WebhookURL:    cfg.WebhookBaseURL + "/api/v1/webhooks/vision",
			WebhookSecret: cfg.WebhookSecret,
		})
		if err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Printf("Metrics listening on :%s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}

// restoreQueueState rebuilds the in-memory queue from analyses that were
// live when the previous process exited. Entries come back in creation
// order so queue positions are preserved.
func restoreQueueState(app *pocketbase.PocketBase, queueService *services.QueueService) {
	log.Println("Restoring queue state from database...")

	var records []dbx.NullStringMap
	if err := app.DB().NewQuery(
		"SELECT id, user, status, queue_id, created FROM analyses WHERE status IN ('pending', 'processing') ORDER BY queue_id ASC",
	).All(&records); err != nil {
		log.Printf("Error fetching live analyses: %v", err)
		return
	}

	restored := 0
	for _, record := range records {
		queueID, err := dbxInt(record, "queue_id")
		if err != nil {
			continue
		}

		createdAt := time.Now()
		if ts, err := time.Parse("2006-01-02 15:04:05.000Z", record["created"].String); err == nil {
			createdAt = ts
		}

		entry := models.QueueEntry{
			ID:        queueID,
			UserID:    record["user"].String,
			RecordID:  record["id"].String,
			Status:    models.AnalysisStatus(record["status"].String),
			CreatedAt: createdAt,
		}
		if entry.Status == models.StatusPending {
			entry.IsQueued = true
			entry.QueuedAt = &createdAt
		} else {
			now := time.Now()
			entry.StartedAt = &now
		}

		if err := queueService.AddToQueue(entry); err != nil {
			slog.Warn("skipping queue entry on restore", "queue_id", queueID, "error", err)
			continue
		}
		queueService.BumpNextID(queueID)
		restored++
	}

	log.Printf("Queue state restoration completed, %d entries restored", restored)
}

func dbxInt(record dbx.NullStringMap, key string) (int64, error) {
	v := record[key]
	if !v.Valid {
		return 0, os.ErrNotExist
	}
	return strconv.ParseInt(v.String, 10, 64)
}

// handleShutdown drains background workers before the process exits.
func handleShutdown(cancel context.CancelFunc, queueService *services.QueueService) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
	queueService.Shutdown()
}
