package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/opsbridge/incidents_backend/config"
)

// PubSubChannel adapts Google Pub/Sub to the pull-shaped Channel port. The
// streaming Receive callback is pumped into a bounded buffer; the consumer
// loop pulls from that buffer and acks or nacks each message explicitly. The
// subscription's ack deadline plays the visibility-timeout role.
type PubSubChannel struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	wait time.Duration
	msgs chan *pubsub.Message

	pumpOnce   sync.Once
	pumpCancel context.CancelFunc
}

func NewPubSubChannelFromEnv(ctx context.Context) (*PubSubChannel, error) {
	projectID := pubsubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	topicName := strings.TrimSpace(os.Getenv("PUBSUB_TOPIC"))
	subName := strings.TrimSpace(os.Getenv("PUBSUB_SUBSCRIPTION"))
	if topicName == "" || subName == "" {
		return nil, errors.New("PUBSUB_TOPIC and PUBSUB_SUBSCRIPTION are required")
	}

	var opts []option.ClientOption
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	visibility := time.Duration(envInt32("WORKER_VISIBILITY_TIMEOUT_SECONDS", 30)) * time.Second
	topic, err := createTopicIfNotExists(ctx, client, topicName)
	if err != nil {
		return nil, err
	}
	sub, err := createSubscriptionIfNotExists(ctx, client, subName, topic, visibility)
	if err != nil {
		return nil, err
	}

	maxOutstanding := int(envInt32("WORKER_MAX_MESSAGES", 10))
	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	// Cap lease extension so an abandoned message expires back to the queue
	// instead of being extended indefinitely.
	sub.ReceiveSettings.MaxExtension = visibility

	return &PubSubChannel{
		topic: topic,
		sub:   sub,
		wait:  time.Duration(envInt32("WORKER_WAIT_SECONDS", 10)) * time.Second,
		msgs:  make(chan *pubsub.Message, maxOutstanding),
	}, nil
}

func pubsubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

func createTopicIfNotExists(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

func createSubscriptionIfNotExists(ctx context.Context, c *pubsub.Client, name string, topic *pubsub.Topic, ackDeadline time.Duration) (*pubsub.Subscription, error) {
	sub := c.Subscription(name)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription exists: %w", err)
	}
	if ok {
		return sub, nil
	}
	sub, err = c.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: ackDeadline,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription %q: %w", name, err)
	}
	return sub, nil
}

func (c *PubSubChannel) Publish(ctx context.Context, body []byte) (string, error) {
	result := c.topic.Publish(ctx, &pubsub.Message{Data: body})
	return result.Get(ctx)
}

func (c *PubSubChannel) startPump() {
	c.pumpOnce.Do(func() {
		pumpCtx, cancel := context.WithCancel(context.Background())
		c.pumpCancel = cancel
		go func() {
			err := c.sub.Receive(pumpCtx, func(ctx context.Context, m *pubsub.Message) {
				select {
				case c.msgs <- m:
				case <-ctx.Done():
					m.Nack()
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				config.LogError(config.GetLogger(), "pubsub.go", "startPump", "sub.Receive", nil, err)
			}
		}()
	})
}

func (c *PubSubChannel) Receive(ctx context.Context, max int) ([]Message, error) {
	c.startPump()
	if max <= 0 {
		max = 1
	}

	var msgs []Message
	timer := time.NewTimer(c.wait)
	defer timer.Stop()

	// Block up to the long-poll window for the first message, then drain
	// whatever is already buffered.
	select {
	case m := <-c.msgs:
		msgs = append(msgs, wrapPubSubMessage(m))
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for len(msgs) < max {
		select {
		case m := <-c.msgs:
			msgs = append(msgs, wrapPubSubMessage(m))
		default:
			return msgs, nil
		}
	}
	return msgs, nil
}

func wrapPubSubMessage(m *pubsub.Message) Message {
	return Message{ID: m.ID, Body: m.Data, receipt: m}
}

func (c *PubSubChannel) Ack(ctx context.Context, msg Message) error {
	m, ok := msg.receipt.(*pubsub.Message)
	if !ok {
		return errors.New("message has no pubsub receipt")
	}
	m.Ack()
	return nil
}

func (c *PubSubChannel) Nack(ctx context.Context, msg Message) error {
	m, ok := msg.receipt.(*pubsub.Message)
	if !ok {
		return errors.New("message has no pubsub receipt")
	}
	m.Nack()
	return nil
}

// Stop cancels the background receive pump. Buffered, unacked messages are
// redelivered after the ack deadline elapses.
func (c *PubSubChannel) Stop() {
	if c.pumpCancel != nil {
		c.pumpCancel()
	}
}
