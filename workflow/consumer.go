package workflow

import (
	"context"
	"time"

	"github.com/opsbridge/incidents_backend/config"
	"github.com/opsbridge/incidents_backend/queue"
	"github.com/opsbridge/incidents_backend/utils"
)

// Consumer polls the delivery channel and drives the processor. It never
// terminates on transient errors; transport failures are logged and followed
// by a short backoff. Multiple Run goroutines may share one Consumer: every
// unit of work is keyed by workflow run id and handling is idempotent.
type Consumer struct {
	Channel   queue.Channel
	Processor *Processor
	Enqueuer  *Enqueuer

	MaxMessages int
	Backoff     time.Duration
}

func NewConsumer(channel queue.Channel, processor *Processor) *Consumer {
	return &Consumer{
		Channel:     channel,
		Processor:   processor,
		Enqueuer:    NewEnqueuer(channel),
		MaxMessages: 10,
		Backoff:     time.Second,
	}
}

// Run polls until ctx is cancelled. In-flight leased messages abandoned at
// shutdown become redeliverable after their visibility timeout; no drain
// protocol is needed because handlers are idempotent.
func (c *Consumer) Run(ctx context.Context) {
	logger := config.GetLogger()
	for {
		select {
		case <-ctx.Done():
			logger.Info("workflow consumer stopping")
			return
		default:
		}

		msgs, err := c.Channel.Receive(ctx, c.MaxMessages)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("workflow consumer stopping")
				return
			}
			config.LogError(logger, "consumer.go", "Run", "receive messages", nil, err)
			select {
			case <-ctx.Done():
			case <-time.After(c.Backoff):
			}
			continue
		}

		for _, msg := range msgs {
			c.handleOne(ctx, msg)
		}
	}
}

func (c *Consumer) handleOne(ctx context.Context, msg queue.Message) {
	logger := config.GetLogger()

	item, err := WorkItemFromJSON(msg.Body)
	if err != nil {
		// Malformed messages are unrecoverable; delete so they don't clog
		// the queue.
		config.LogError(logger, "consumer.go", "handleOne", "malformed work item, dropping", string(msg.Body), err)
		c.ack(ctx, msg)
		return
	}

	ctx = utils.SetWorkflowRunIdInContext(ctx, item.WorkflowRunID)
	result := c.Processor.ProcessWorkflowRun(ctx, item.WorkflowRunID)

	// Publish the next step before deleting the trigger: if the publish is
	// lost, redelivery of the undeleted message re-drives the run.
	if result.RequeueNext {
		if err := c.Enqueuer.EnqueueWorkflow(ctx, item.WorkflowRunID); err != nil {
			config.LogError(logger, "consumer.go", "handleOne", "enqueue next step", item.WorkflowRunID, err)
		}
	}

	if result.Ack {
		c.ack(ctx, msg)
		return
	}
	if err := c.Channel.Nack(ctx, msg); err != nil {
		config.LogError(logger, "consumer.go", "handleOne", "nack message", msg.ID, err)
	}
}

func (c *Consumer) ack(ctx context.Context, msg queue.Message) {
	if err := c.Channel.Ack(ctx, msg); err != nil {
		// Redelivery of an acked-but-not-deleted message is safe; the
		// terminal-state guard and artifact checks make it a no-op.
		config.LogError(config.GetLogger(), "consumer.go", "ack", "delete message", msg.ID, err)
	}
}
