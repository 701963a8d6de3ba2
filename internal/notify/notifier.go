// Package notify pushes job events to a Redis channel so the admin UI and the
// on-call tooling can surface toasts without polling. Publishing is
// best-effort: a failed publish is logged and counted, never surfaced to the
// user whose mutation already committed.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"field-dispatch/internal/telemetry"
)

// Event kinds published on the channel.
const (
	KindJobCreated      = "job_created"
	KindJobUpdated      = "job_updated"
	KindJobAssigned     = "job_assigned"
	KindReceiptAttached = "receipt_attached"
	KindJobShared       = "job_shared"
	KindJobStale        = "job_stale"
)

// Event is the wire format published to subscribers.
type Event struct {
	Kind      string    `json:"kind"`
	JobID     string    `json:"job_id"`
	JobNumber string    `json:"job_number"`
	Field     string    `json:"field,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier informs subscribers of committed operations.
type Notifier interface {
	Publish(ctx context.Context, e Event) error
}

// RedisNotifier publishes events on a single pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		telemetry.NotifyFailures.Inc()
		slog.Warn("event publish failed", "kind", e.Kind, "job_id", e.JobID, "err", err)
		return err
	}
	return nil
}

// Nop discards events; used in tests and configs without Redis.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
