package workflow

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/opsbridge/incidents_backend/config"
	"github.com/opsbridge/incidents_backend/models"
)

// RequeueSweeper republishes work items for runs that look stuck: intake
// commits the run before publishing, so a publish failure (or a message lost
// to queue retention) leaves a non-terminal run with no message in flight.
// Republishing is always safe: delivery is at-least-once and handlers are
// idempotent, so the worst case is a redundant no-op delivery.
type RequeueSweeper struct {
	DB       *gorm.DB
	Enqueuer *Enqueuer

	Interval   time.Duration
	StuckAfter time.Duration
	BatchSize  int
}

func NewRequeueSweeper(db *gorm.DB, enqueuer *Enqueuer) *RequeueSweeper {
	return &RequeueSweeper{
		DB:         db,
		Enqueuer:   enqueuer,
		Interval:   envDuration("SWEEPER_INTERVAL_SECONDS", time.Minute),
		StuckAfter: envDuration("SWEEPER_STUCK_AFTER_SECONDS", 5*time.Minute),
		BatchSize:  50,
	}
}

func (s *RequeueSweeper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.Interval):
		}
	}
}

func (s *RequeueSweeper) sweepOnce(ctx context.Context) int {
	logger := config.GetLogger()
	cutoff := time.Now().Add(-s.StuckAfter)

	var runs []models.WorkflowRun
	err := s.DB.WithContext(ctx).
		Where("status IN ?", []models.WorkflowStatus{models.WorkflowStatusPending, models.WorkflowStatusInProgress}).
		Where("updated_at <= ?", cutoff).
		Order("id ASC").
		Limit(s.BatchSize).
		Find(&runs).Error
	if err != nil {
		config.LogError(logger, "requeueSweeper.go", "sweepOnce", "find stuck workflow runs", nil, err)
		return 0
	}

	requeued := 0
	for _, run := range runs {
		if err := s.Enqueuer.EnqueueWorkflow(ctx, run.ID); err != nil {
			config.LogError(logger, "requeueSweeper.go", "sweepOnce", "requeue workflow run", run.ID, err)
			continue
		}
		logger.Warnf("requeued stuck workflow run %d (status=%s step=%s)", run.ID, run.Status, run.CurrentStep)
		requeued++
	}
	return requeued
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
