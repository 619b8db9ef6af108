package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/stageflow_backend/config"
	"bitbucket.org/mmdatafocus/stageflow_backend/handlers"
	"bitbucket.org/mmdatafocus/stageflow_backend/middlewares"
	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"bitbucket.org/mmdatafocus/stageflow_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("API_PORT_2")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// A broken workflow file is a deploy error; fail before opening the port.
	workflowConfig, directory, err := config.LoadWorkflowConfig()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "workflow config"}).Fatal(err.Error())
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// The engine is published once the database is connected. Until then app endpoints return 503.
	var engine atomic.Pointer[workflow.Engine]

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.ReadinessGate(func() bool { return engine.Load() != nil }))

	corsConfig := cors.DefaultConfig()
	// In production the allowlist must come from CORS_ALLOWED_ORIGINS; elsewhere any origin is allowed.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders(middlewares.HeaderToken, middlewares.HeaderUserId, middlewares.HeaderCorrelationId, "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", middlewares.HeaderCorrelationId)
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.SessionMiddleware(config.GetRedisDB))

	// Optional rate limiting backed by Redis.
	// Env: RATE_LIMIT_ENABLED=true, RATE_LIMIT_WINDOW_SECONDS=60, RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := positiveIntFromEnv("RATE_LIMIT_MAX_REQUESTS", 600)
		windowSec := positiveIntFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)
		rateLimiter := middlewares.NewRateLimiter(config.GetRedisDB, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.ErrorLogger(logger))
	r.Use(gin.Recovery())

	handlers.NewHandler(engine.Load).RegisterRoutes(r)
	r.NoRoute(handlers.NotFound)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can lock tables on a busy database; run it as a separate job there.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	notifier, stopNotifier := newNotifier(sigCtx, logger)
	defer stopNotifier()

	deps := workflow.Dependencies{
		DB:        db,
		Config:    workflowConfig,
		Auth:      directory,
		Directory: directory,
		Notifier:  notifier,
		Logger:    logger,
	}
	if lockClient := config.GetRedisLock(); lockClient != nil {
		deps.Locker = workflow.NewRedisDecisionLocker(lockClient, logger)
	}
	e, err := workflow.NewEngine(deps)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "workflow engine"}).Fatal(err.Error())
	}
	engine.Store(e)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("serving workflow API on http://localhost:", port, "/api/v1")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// newNotifier publishes to Pub/Sub when a project is configured and logs events otherwise.
func newNotifier(ctx context.Context, logger *logrus.Logger) (workflow.Notifier, func()) {
	client, err := config.GetClient(ctx)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("notifications are logged only: " + err.Error())
		return workflow.LogNotifier{Logger: logger}, func() {}
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, config.NotificationTopic())
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("notifications are logged only: " + err.Error())
		_ = client.Close()
		return workflow.LogNotifier{Logger: logger}, func() {}
	}
	notifier := workflow.NewPubSubNotifier(topic, logger)
	return notifier, func() {
		notifier.Stop()
		_ = client.Close()
	}
}

func positiveIntFromEnv(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
