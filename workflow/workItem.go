package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opsbridge/incidents_backend/config"
	"github.com/opsbridge/incidents_backend/queue"
)

// WorkItem is the wire payload. It deliberately carries only a pointer to the
// workflow run: all state is re-read from the database on receipt, so a
// redelivered message always reflects current authoritative state.
type WorkItem struct {
	WorkflowRunID int `json:"workflowRunId"`
}

func (w WorkItem) ToJSON() ([]byte, error) {
	return json.Marshal(w)
}

func WorkItemFromJSON(data []byte) (WorkItem, error) {
	var item WorkItem
	if err := json.Unmarshal(data, &item); err != nil {
		return WorkItem{}, fmt.Errorf("parse work item: %w", err)
	}
	if item.WorkflowRunID <= 0 {
		return WorkItem{}, fmt.Errorf("parse work item: missing workflowRunId")
	}
	return item, nil
}

// Enqueuer publishes work items to the delivery channel.
type Enqueuer struct {
	channel queue.Channel
}

func NewEnqueuer(channel queue.Channel) *Enqueuer {
	return &Enqueuer{channel: channel}
}

func (e *Enqueuer) EnqueueWorkflow(ctx context.Context, workflowRunId int) error {
	body, err := WorkItem{WorkflowRunID: workflowRunId}.ToJSON()
	if err != nil {
		return err
	}

	msgID, err := e.channel.Publish(ctx, body)
	if err != nil {
		return fmt.Errorf("publish work item for workflow run %d: %w", workflowRunId, err)
	}

	config.GetLogger().WithFields(config.FieldsFromContext(ctx)).WithFields(logrus.Fields{
		"workflow_run_id": workflowRunId,
		"message_id":      msgID,
	}).Info("enqueued workflow run")
	return nil
}
