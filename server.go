package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/opsbridge/incidents_backend/classifier"
	"github.com/opsbridge/incidents_backend/config"
	"github.com/opsbridge/incidents_backend/models"
	"github.com/opsbridge/incidents_backend/queue"
	"github.com/opsbridge/incidents_backend/utils"
	"github.com/opsbridge/incidents_backend/workflow"
)

const defaultPort = "8080"

// RateLimiter is a fixed-window, per-client-IP limiter backed by Redis.
// Best-effort: correctness of the workflow never depends on it.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func createIncidentHandler(gateway *workflow.IntakeGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload workflow.IncidentPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "description is required"})
			return
		}

		idempotencyKey := c.GetHeader("Idempotency-Key")
		workflowRunId, err := gateway.SubmitIncident(c.Request.Context(), idempotencyKey, payload)
		if errors.Is(err, workflow.ErrMissingIdempotencyKey) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key header is required"})
			return
		}
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "createIncidentHandler", "submit incident", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit incident"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"workflowRunId": workflowRunId})
	}
}

// getWorkflowRunHandler is the query surface for asynchronous outcomes:
// failure is only observable through status=FAILED here.
func getWorkflowRunHandler(db func() *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow run id"})
			return
		}

		var run models.WorkflowRun
		err = db().WithContext(c.Request.Context()).First(&run, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow run not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load workflow run"})
			return
		}

		c.JSON(http.StatusOK, run)
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the platform considers the process
	// healthy. Until the DB is ready, app endpoints return 503.
	r := gin.New()
	r.Use(gin.Recovery())

	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header("x-correlation-id", cid)
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production require an explicit allowlist; allow all elsewhere.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Idempotency-Key", "x-correlation-id")
	r.Use(cors.New(corsConfig))

	// Optional rate limiting.
	// Env: RATE_LIMIT_ENABLED, RATE_LIMIT_WINDOW_SECONDS, RATE_LIMIT_MAX_REQUESTS.
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDRESS")})
		limit := envInt64("RATE_LIMIT_MAX_REQUESTS", 600)
		window := time.Duration(envInt64("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
		r.Use(NewRateLimiter(client, limit, window).RateLimitMiddleware)
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	channel, err := queue.FromEnv(sigCtx)
	if err != nil {
		logger.Panicf("delivery channel init: %v", err)
	}
	enqueuer := workflow.NewEnqueuer(channel)
	gateway := workflow.NewIntakeGateway(db, enqueuer)

	llmClient := classifier.NewOllamaClientFromEnv()
	incidentClassifier := classifier.New(llmClient, "ollama", llmClient.Model())
	processor := workflow.NewProcessor(db, incidentClassifier)

	r.POST("/incidents", createIncidentHandler(gateway))
	r.GET("/workflow-runs/:id", getWorkflowRunHandler(config.GetDB))

	// Background workers share one cancellation context.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("WORKER_ENABLED")), "false") {
		consumer := workflow.NewConsumer(channel, processor)
		consumer.MaxMessages = int(envInt64("WORKER_MAX_MESSAGES", 10))
		concurrency := int(envInt64("WORKER_CONCURRENCY", 1))
		for i := 0; i < concurrency; i++ {
			go consumer.Run(workerCtx)
		}
		logger.WithFields(logrus.Fields{"concurrency": concurrency}).Info("workflow consumer started")
	}

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SWEEPER_ENABLED")), "false") {
		go workflow.NewRequeueSweeper(db, enqueuer).Run(workerCtx)
	}

	logger.Info("server started on port " + port)

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first; abandoned leased messages become
	// redeliverable after their visibility timeout.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if stoppable, ok := channel.(interface{ Stop() }); ok {
		stoppable.Stop()
	}
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

func envInt64(name string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
