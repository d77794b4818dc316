package workflow

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/opsbridge/incidents_backend/models"
)

// MarkWorkflowRunFailed records terminal failure in its own transaction so it
// survives the rollback of the step transaction that caused it. A run that
// already reached a terminal status is left untouched.
func MarkWorkflowRunFailed(ctx context.Context, db *gorm.DB, workflowRunId int) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run models.WorkflowRun
		if err := tx.First(&run, workflowRunId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Nothing to fail; the caller drops the message anyway.
				return nil
			}
			return err
		}
		if run.Status.IsTerminal() {
			return nil
		}
		return tx.Model(&run).Update("status", models.WorkflowStatusFailed).Error
	})
}
