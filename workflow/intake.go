package workflow

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/opsbridge/incidents_backend/config"
	"github.com/opsbridge/incidents_backend/models"
)

// IncidentPayload is the client-supplied incident report.
type IncidentPayload struct {
	Description string `json:"description" binding:"required" validate:"required,max=10000"`
}

// IntakeGateway accepts incident reports and guarantees at-most-one workflow
// run per idempotency key, no matter how often or how concurrently the same
// logical request arrives.
type IntakeGateway struct {
	db       *gorm.DB
	enqueuer *Enqueuer
}

func NewIntakeGateway(db *gorm.DB, enqueuer *Enqueuer) *IntakeGateway {
	return &IntakeGateway{db: db, enqueuer: enqueuer}
}

// SubmitIncident persists the incident and its workflow run, binds them to
// the idempotency key, and publishes the first work item after the
// transaction commits. A repeated or racing submission returns the existing
// run id without creating anything.
func (g *IntakeGateway) SubmitIncident(ctx context.Context, idempotencyKey string, payload IncidentPayload) (int, error) {
	logger := config.GetLogger()

	if strings.TrimSpace(idempotencyKey) == "" {
		return 0, ErrMissingIdempotencyKey
	}

	// Fast path: the key already exists, return the winner's run id.
	if runID, found, err := g.lookupKey(ctx, idempotencyKey); err != nil {
		return 0, err
	} else if found {
		logger.WithFields(config.FieldsFromContext(ctx)).
			Infof("idempotency key already bound, returning workflow run %d", runID)
		return runID, nil
	}

	var workflowRunID int
	txErr := models.TransactionWithHooks(ctx, g.db, func(ctx context.Context, tx *gorm.DB) error {
		incident := models.Incident{Description: payload.Description}
		if err := tx.Create(&incident).Error; err != nil {
			return err
		}

		run := models.WorkflowRun{
			IncidentID:  incident.ID,
			CurrentStep: models.WorkflowStepPayloadValidation,
			Status:      models.WorkflowStatusPending,
		}
		if err := tx.Create(&run).Error; err != nil {
			return err
		}

		// The key insert is the linearization point. Losing the race rolls
		// back the incident and run created above.
		key := models.IdempotencyKey{Key: idempotencyKey, WorkflowRunID: run.ID}
		if err := tx.Create(&key).Error; err != nil {
			if models.IsDuplicateKeyErr(err) {
				return errDuplicateKeyRace
			}
			return err
		}

		workflowRunID = run.ID
		models.RegisterCommitHook(ctx, func(ctx context.Context) {
			// Publish failure after commit cannot be undone; log and leave
			// the run for the requeue sweeper or manual replay.
			if err := g.enqueuer.EnqueueWorkflow(ctx, run.ID); err != nil {
				config.LogError(logger, "intake.go", "SubmitIncident", "enqueue after commit", run.ID, err)
			}
		})
		return nil
	})

	if errors.Is(txErr, errDuplicateKeyRace) {
		logger.WithFields(config.FieldsFromContext(ctx)).
			Warnf("duplicate idempotency key %q, returning winner's workflow run", idempotencyKey)
		runID, found, err := g.lookupKey(ctx, idempotencyKey)
		if err != nil {
			return 0, err
		}
		if !found {
			// Key vanished between collision and re-read; callers retry.
			return 0, errDuplicateKeyRace
		}
		return runID, nil
	}
	if txErr != nil {
		return 0, txErr
	}
	return workflowRunID, nil
}

func (g *IntakeGateway) lookupKey(ctx context.Context, idempotencyKey string) (int, bool, error) {
	var key models.IdempotencyKey
	err := g.db.WithContext(ctx).Where("`key` = ?", idempotencyKey).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return key.WorkflowRunID, true, nil
}
