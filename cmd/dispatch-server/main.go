// cmd/dispatch-server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"delivery-core/internal/common/aws"
	"delivery-core/internal/common/config"
	"delivery-core/internal/common/database"
	"delivery-core/internal/common/logger"
	"delivery-core/internal/common/observability"
	"delivery-core/internal/common/retry"
	"delivery-core/internal/identity"
	"delivery-core/internal/notification"
	"delivery-core/internal/realtime"
	"delivery-core/internal/tracking"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting dispatch server...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()

	if err := pg.EnsureSchema(ctx); err != nil {
		zapLog.Fatal("schema setup failed", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry (relay only) ---
	var redis *database.RedisClient
	if cfg.Realtime.RelayEnabled {
		err = retryWithBackoff(func() error {
			var err error
			redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redis.Close()
		zapLog.Info("Redis connected successfully")
	}

	// --- Init Elasticsearch with retry (audit mirror only) ---
	var (
		auditor  notification.Auditor
		searcher notification.AuditSearcher
	)
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		if err := esClient.EnsureIndex(ctx, cfg.Notifications.AuditIndex, notification.AuditMapping); err != nil {
			zapLog.Warn("audit index setup failed, mirror writes may use dynamic mapping", zap.Error(err))
		}
		audit := notification.NewAuditIndex(esClient.Client, cfg.Notifications.AuditIndex)
		auditor, searcher = audit, audit
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Realtime ---
	namespaces := make([]string, 0, len(identity.RecipientTypes))
	for _, rt := range identity.RecipientTypes {
		namespaces = append(namespaces, string(rt))
	}
	rt := realtime.NewServer(cfg.Realtime, namespaces, log)
	if redis != nil {
		if err := realtime.NewRelay(rt, redis, log).Start(ctx); err != nil {
			zapLog.Fatal("realtime relay failed", zap.Error(err))
		}
	}

	pushers := make(map[identity.RecipientType]notification.LivePusher, len(identity.RecipientTypes))
	for _, recipientType := range identity.RecipientTypes {
		pushers[recipientType] = rt.Hub(string(recipientType))
	}

	// --- Channel adapters ---
	directory := identity.NewClient(cfg.Identity, log)
	adapters := []notification.ChannelAdapter{notification.NewInAppChannel()}

	if cfg.Notifications.Email.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("failed to create SES client", zap.Error(err))
		}
		adapters = append(adapters, notification.NewEmailChannel(sesClient, cfg.Notifications.Email.FromEmail, log))
	}

	if cfg.Notifications.SMS.Enabled || cfg.Notifications.Push.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("failed to create SNS client", zap.Error(err))
		}
		if cfg.Notifications.SMS.Enabled {
			sms := cfg.Notifications.SMS
			adapters = append(adapters, notification.NewSMSChannel(snsClient, sms.DefaultCountryCode, sms.MinDigits, sms.SenderID, log))
		}
		if cfg.Notifications.Push.Enabled {
			adapters = append(adapters, notification.NewPushChannel(snsClient, directory, cfg.Notifications.Push.PlatformApplicationARN, log))
		}
	}
	zapLog.Info("Channel adapters configured", zap.Int("count", len(adapters)))

	// --- Notification engine ---
	guard := retry.New(
		cfg.Guard.MaxAttempts,
		config.GetDuration(cfg.Guard.Timeout),
		config.GetDuration(cfg.Guard.Backoff),
		log,
	)
	store := notification.NewStore(pg)
	inapp := notification.NewInAppDelivery(pushers, store, guard, log)
	dispatcher := notification.NewDispatcher(
		notification.NewResolver(directory, log),
		adapters,
		store,
		inapp,
		auditor,
		notification.DispatcherConfig{
			MaxConcurrency:  cfg.Server.MaxConcurrency,
			DispatchTimeout: config.GetDuration(cfg.Server.DispatchTimeout),
		},
		log,
	)

	// --- Order tracking ---
	trackingService := tracking.NewService(tracking.NewStore(pg), rt, log)
	rt.SetLocationHandler(trackingService)

	// --- HTTP ---
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), obs.Middleware(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pg.Ping(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	notification.NewHandler(dispatcher, inapp, store, searcher, log).RegisterRoutes(api)
	tracking.NewHandler(trackingService, log).RegisterRoutes(api)
	rt.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining connections...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	rt.Shutdown()
	trackingService.Wait()
	stop()

	zapLog.Info("Dispatch server stopped gracefully")
}
