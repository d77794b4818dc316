package queue

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryChannel is an in-process delivery channel with real visibility
// timeouts. It backs tests and QUEUE_BACKEND=memory local development; the
// lease semantics intentionally mirror SQS so consumer behavior is portable.
type MemoryChannel struct {
	mu         sync.Mutex
	items      map[string]*memoryItem
	order      []string
	wait       time.Duration
	visibility time.Duration
	pollEvery  time.Duration
}

type memoryItem struct {
	id        string
	body      []byte
	visibleAt time.Time
}

func NewMemoryChannel(wait, visibility time.Duration) *MemoryChannel {
	return &MemoryChannel{
		items:      map[string]*memoryItem{},
		wait:       wait,
		visibility: visibility,
		pollEvery:  5 * time.Millisecond,
	}
}

func NewMemoryChannelFromEnv() *MemoryChannel {
	wait := 1 * time.Second
	visibility := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("WORKER_VISIBILITY_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			visibility = time.Duration(n) * time.Second
		}
	}
	return NewMemoryChannel(wait, visibility)
}

func (c *MemoryChannel) Publish(ctx context.Context, body []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	c.items[id] = &memoryItem{id: id, body: append([]byte(nil), body...)}
	c.order = append(c.order, id)
	return id, nil
}

func (c *MemoryChannel) Receive(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(c.wait)
	for {
		if msgs := c.lease(max); len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollEvery):
		}
	}
}

func (c *MemoryChannel) lease(max int) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var msgs []Message
	for _, id := range c.order {
		item, ok := c.items[id]
		if !ok || item.visibleAt.After(now) {
			continue
		}
		item.visibleAt = now.Add(c.visibility)
		msgs = append(msgs, Message{ID: item.id, Body: append([]byte(nil), item.body...), receipt: item.id})
		if len(msgs) >= max {
			break
		}
	}
	return msgs
}

func (c *MemoryChannel) Ack(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, msg.ID)
	return nil
}

// Nack makes the message visible again immediately instead of waiting out the
// lease, which keeps retry-path tests fast.
func (c *MemoryChannel) Nack(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[msg.ID]; ok {
		item.visibleAt = time.Time{}
	}
	return nil
}

// Size reports how many messages are stored (leased or visible). Test helper.
func (c *MemoryChannel) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
