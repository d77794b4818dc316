package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/opsbridge/incidents_backend/classifier"
	"github.com/opsbridge/incidents_backend/config"
	"github.com/opsbridge/incidents_backend/models"
	"github.com/opsbridge/incidents_backend/utils"
)

// StepResult tells the consumer what to do with the message that triggered
// processing: Ack deletes it, RequeueNext publishes a work item for the
// run's next step.
type StepResult struct {
	Ack         bool
	RequeueNext bool
}

// IncidentClassifier is the classification boundary as the engine sees it.
// Classify is best-effort and never fails.
type IncidentClassifier interface {
	Classify(ctx context.Context, description string) classifier.Result
	Provider() string
	ModelName() string
}

var validate = validator.New()

// Processor owns the step state machine:
//
//	PENDING x PAYLOAD_VALIDATION       -> IN_PROGRESS x INCIDENT_CLASSIFICATION
//	IN_PROGRESS x INCIDENT_CLASSIFICATION -> IN_PROGRESS x TICKET_CREATION
//	IN_PROGRESS x TICKET_CREATION      -> COMPLETED x TICKET_CREATION
//	any step -> FAILED on an unrecovered handler error
//
// The whole lookup-dispatch-persist sequence runs in one transaction per
// invocation. Terminal runs are never touched again.
type Processor struct {
	db         *gorm.DB
	classifier IncidentClassifier
}

func NewProcessor(db *gorm.DB, incidentClassifier IncidentClassifier) *Processor {
	return &Processor{db: db, classifier: incidentClassifier}
}

// ProcessWorkflowRun advances the run by one step. On a handler error the
// transaction rolls back and the run is marked FAILED in an independent
// transaction; the message is acked once FAILED is durably recorded (a later
// redelivery against a terminal run is a no-op) and left for retry only when
// the FAILED write itself could not be persisted.
func (p *Processor) ProcessWorkflowRun(ctx context.Context, workflowRunId int) StepResult {
	logger := config.GetLogger()
	ctx = utils.SetWorkflowRunIdInContext(ctx, workflowRunId)

	var result StepResult
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run models.WorkflowRun
		err := tx.First(&run, workflowRunId).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(config.FieldsFromContext(ctx)).
				Warnf("workflow run %d not found, dropping message", workflowRunId)
			result = StepResult{Ack: true}
			return nil
		}
		if err != nil {
			return err
		}

		if run.Status.IsTerminal() {
			logger.WithFields(config.FieldsFromContext(ctx)).
				Warnf("workflow run %d already %s, dropping message", workflowRunId, run.Status)
			result = StepResult{Ack: true}
			return nil
		}

		switch run.CurrentStep {
		case models.WorkflowStepPayloadValidation:
			result, err = p.processPayloadValidation(ctx, tx, &run)
		case models.WorkflowStepIncidentClassification:
			result, err = p.processIncidentClassification(ctx, tx, &run)
		case models.WorkflowStepTicketCreation:
			result, err = p.processTicketCreation(ctx, tx, &run)
		default:
			// Corrupt step value: drop rather than loop forever.
			logger.WithFields(config.FieldsFromContext(ctx)).
				Warnf("workflow run %d has unknown step %q, dropping message", workflowRunId, run.CurrentStep)
			result = StepResult{Ack: true}
		}
		return err
	})

	if err != nil {
		config.LogError(logger, "processor.go", "ProcessWorkflowRun", "step handler failed", workflowRunId, err)
		if failErr := MarkWorkflowRunFailed(ctx, p.db, workflowRunId); failErr != nil {
			config.LogError(logger, "processor.go", "ProcessWorkflowRun", "mark workflow run failed", workflowRunId, failErr)
			// FAILED is not durable yet; leave the message for redelivery.
			return StepResult{}
		}
		return StepResult{Ack: true}
	}
	return result
}

func (p *Processor) processPayloadValidation(ctx context.Context, tx *gorm.DB, run *models.WorkflowRun) (StepResult, error) {
	config.GetLogger().WithFields(config.FieldsFromContext(ctx)).
		Infof("processing payload validation for workflow run %d", run.ID)

	var incident models.Incident
	if err := tx.First(&incident, run.IncidentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StepResult{}, fmt.Errorf("%w: id %d", ErrIncidentNotFound, run.IncidentID)
		}
		return StepResult{}, err
	}

	if err := validate.Struct(IncidentPayload{Description: incident.Description}); err != nil {
		return StepResult{}, fmt.Errorf("incident %d payload invalid: %w", incident.ID, err)
	}

	if err := tx.Model(run).Update("status", models.WorkflowStatusInProgress).Error; err != nil {
		return StepResult{}, err
	}
	if err := tx.Model(run).Update("current_step", models.WorkflowStepIncidentClassification).Error; err != nil {
		return StepResult{}, err
	}
	return StepResult{Ack: true, RequeueNext: true}, nil
}

func (p *Processor) processIncidentClassification(ctx context.Context, tx *gorm.DB, run *models.WorkflowRun) (StepResult, error) {
	logger := config.GetLogger()
	logger.WithFields(config.FieldsFromContext(ctx)).
		Infof("processing incident classification for workflow run %d", run.ID)

	// Reprocessing guard: a previous delivery may have classified and then
	// died before deleting its message.
	var existing models.IncidentClassification
	err := tx.Where("workflow_run_id = ?", run.ID).First(&existing).Error
	if err == nil {
		logger.WithFields(config.FieldsFromContext(ctx)).
			Infof("classification already exists for workflow run %d, skipping", run.ID)
		return StepResult{Ack: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return StepResult{}, err
	}

	var incident models.Incident
	if err := tx.First(&incident, run.IncidentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StepResult{}, fmt.Errorf("%w: id %d", ErrIncidentNotFound, run.IncidentID)
		}
		return StepResult{}, err
	}

	verdict := p.classifier.Classify(ctx, incident.Description)

	record := models.IncidentClassification{
		WorkflowRunID: run.ID,
		IncidentID:    incident.ID,
		Category:      verdict.Category,
		Priority:      verdict.Priority,
		Summary:       verdict.Summary,
		ModelProvider: p.classifier.Provider(),
		ModelName:     p.classifier.ModelName(),
		RawResponse:   verdict.RawResponse,
	}
	if err := tx.Create(&record).Error; err != nil {
		if models.IsDuplicateKeyErr(err) {
			// A concurrent delivery classified first; its transaction also
			// advances the step.
			logger.WithFields(config.FieldsFromContext(ctx)).
				Warnf("concurrent classification for workflow run %d, skipping", run.ID)
			return StepResult{Ack: true}, nil
		}
		return StepResult{}, err
	}

	if err := tx.Model(run).Update("current_step", models.WorkflowStepTicketCreation).Error; err != nil {
		return StepResult{}, err
	}
	return StepResult{Ack: true, RequeueNext: true}, nil
}

func (p *Processor) processTicketCreation(ctx context.Context, tx *gorm.DB, run *models.WorkflowRun) (StepResult, error) {
	logger := config.GetLogger()
	logger.WithFields(config.FieldsFromContext(ctx)).
		Infof("processing ticket creation for workflow run %d", run.ID)

	// Reprocessing guard: the ticket may exist from a delivery that died
	// between creating it and deleting its message.
	var existingTicket models.Ticket
	err := tx.Where("workflow_run_id = ?", run.ID).First(&existingTicket).Error
	if err == nil {
		logger.WithFields(config.FieldsFromContext(ctx)).
			Infof("ticket already exists for workflow run %d, completing", run.ID)
		if err := tx.Model(run).Update("status", models.WorkflowStatusCompleted).Error; err != nil {
			return StepResult{}, err
		}
		return StepResult{Ack: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return StepResult{}, err
	}

	var incident models.Incident
	if err := tx.First(&incident, run.IncidentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StepResult{}, fmt.Errorf("%w: id %d", ErrIncidentNotFound, run.IncidentID)
		}
		return StepResult{}, err
	}

	// A missing classification here is a state invariant violation, not a
	// retryable condition.
	var classification models.IncidentClassification
	if err := tx.Where("workflow_run_id = ?", run.ID).First(&classification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StepResult{}, fmt.Errorf("%w: workflow run %d", ErrClassificationNotFound, run.ID)
		}
		return StepResult{}, err
	}

	ticket := models.Ticket{
		IncidentID:    incident.ID,
		WorkflowRunID: run.ID,
		Title:         fmt.Sprintf("[%s] [%s] %s", classification.Priority, classification.Category, classification.Summary),
		Description:   incident.Description,
		Status:        models.TicketStatusOpen,
	}
	if err := tx.Create(&ticket).Error; err != nil {
		return StepResult{}, err
	}

	if err := tx.Model(run).Update("status", models.WorkflowStatusCompleted).Error; err != nil {
		return StepResult{}, err
	}

	// Last step: no further work item.
	return StepResult{Ack: true}, nil
}
