// Package queue abstracts the durable delivery channel that drives the
// workflow engine. The channel is at-least-once and unordered: it carries a
// pointer to a workflow run, never a snapshot of its state, and every
// consumer-side effect is made safe by idempotent handlers rather than by
// transport guarantees.
package queue

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Message is one leased delivery. The receipt is adapter-private (SQS receipt
// handle, Pub/Sub message, memory lease id).
type Message struct {
	ID      string
	Body    []byte
	receipt any
}

// Channel is the delivery-channel port.
//
// Receive leases up to max messages; a leased message that is neither acked
// nor nacked becomes visible again after the adapter's visibility timeout.
// Ack deletes the message. Nack asks for redelivery; adapters where lease
// expiry alone drives redelivery (SQS) may treat it as a no-op.
type Channel interface {
	Publish(ctx context.Context, body []byte) (string, error)
	Receive(ctx context.Context, max int) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
	Nack(ctx context.Context, msg Message) error
}

// FromEnv builds the channel selected by QUEUE_BACKEND (sqs | pubsub |
// memory). SQS is the default.
func FromEnv(ctx context.Context) (Channel, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("QUEUE_BACKEND")))
	switch backend {
	case "", "sqs":
		return NewSQSChannelFromEnv(ctx)
	case "pubsub":
		return NewPubSubChannelFromEnv(ctx)
	case "memory":
		return NewMemoryChannelFromEnv(), nil
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", backend)
	}
}
