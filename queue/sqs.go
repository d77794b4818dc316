package queue

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/opsbridge/incidents_backend/config"
)

// SQSChannel drives the workflow off an SQS queue. Redelivery comes from the
// visibility timeout: an unacked message reappears after the lease expires,
// so Nack needs no API call.
type SQSChannel struct {
	client            *sqs.Client
	queueName         string
	waitSeconds       int32
	visibilitySeconds int32

	// Queue URL resolution is idempotent and cheap to repeat, so a plain
	// mutex-guarded cache is enough; a failed resolution is retried on the
	// next call instead of being cached.
	urlMu    sync.Mutex
	queueURL string
}

func NewSQSChannel(client *sqs.Client, queueName string, waitSeconds, visibilitySeconds int32) *SQSChannel {
	return &SQSChannel{
		client:            client,
		queueName:         queueName,
		waitSeconds:       waitSeconds,
		visibilitySeconds: visibilitySeconds,
	}
}

func NewSQSChannelFromEnv(ctx context.Context) (*SQSChannel, error) {
	queueName := strings.TrimSpace(os.Getenv("SQS_QUEUE_NAME"))
	if queueName == "" {
		return nil, errors.New("SQS_QUEUE_NAME is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSpace(os.Getenv("SQS_ENDPOINT_URL"))
	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		// Local development against LocalStack / ElasticMQ.
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return NewSQSChannel(
		client,
		queueName,
		envInt32("WORKER_WAIT_SECONDS", 10),
		envInt32("WORKER_VISIBILITY_TIMEOUT_SECONDS", 30),
	), nil
}

func (c *SQSChannel) resolveQueueURL(ctx context.Context) (string, error) {
	c.urlMu.Lock()
	defer c.urlMu.Unlock()

	if c.queueURL != "" {
		return c.queueURL, nil
	}

	out, err := c.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(c.queueName),
	})
	if err != nil {
		return "", err
	}
	c.queueURL = aws.ToString(out.QueueUrl)
	config.GetLogger().WithField("queue_url", c.queueURL).Info("resolved sqs queue url")
	return c.queueURL, nil
}

func (c *SQSChannel) Publish(ctx context.Context, body []byte) (string, error) {
	queueURL, err := c.resolveQueueURL(ctx)
	if err != nil {
		return "", err
	}

	out, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

func (c *SQSChannel) Receive(ctx context.Context, max int) ([]Message, error) {
	queueURL, err := c.resolveQueueURL(ctx)
	if err != nil {
		return nil, err
	}

	if max <= 0 || max > 10 {
		max = 10
	}
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     c.waitSeconds,
		VisibilityTimeout:   c.visibilitySeconds,
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			ID:      aws.ToString(m.MessageId),
			Body:    []byte(aws.ToString(m.Body)),
			receipt: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

func (c *SQSChannel) Ack(ctx context.Context, msg Message) error {
	receipt, ok := msg.receipt.(string)
	if !ok || receipt == "" {
		return errors.New("message has no sqs receipt handle")
	}

	queueURL, err := c.resolveQueueURL(ctx)
	if err != nil {
		return err
	}

	_, err = c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	return err
}

// Nack leaves the message leased; it becomes visible again when the
// visibility timeout elapses, which also spaces out retries.
func (c *SQSChannel) Nack(ctx context.Context, msg Message) error {
	return nil
}

func envInt32(name string, fallback int32) int32 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return int32(n)
}
