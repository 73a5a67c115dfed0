// Package events publishes scheduling state changes to the downstream
// audit/notification sink. Publishing is fire-and-forget: a sink outage must
// never fail a booking.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	// Stream is the Redis stream consumed by the notification workers.
	Stream = "scheduling.events"

	// Retained entries; older ones are trimmed on write.
	maxStreamLen = 100_000
)

const (
	AppointmentCreated   = "appointment.created"
	AppointmentUpdated   = "appointment.updated"
	AppointmentCheckedIn = "appointment.checked_in"
	AppointmentStarted   = "appointment.in_progress"
	AppointmentCompleted = "appointment.completed"
	AppointmentCancelled = "appointment.cancelled"
	VisitCreated         = "visit.created"
)

// Publisher emits domain events. Implementations must not return errors to
// the caller; delivery problems are their own to log.
type Publisher interface {
	Publish(ctx context.Context, event string, payload map[string]any)
}

type redisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher publishes events to a capped Redis stream.
func NewRedisPublisher(client *redis.Client) Publisher {
	return &redisPublisher{client: client}
}

func (p *redisPublisher) Publish(ctx context.Context, event string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal event payload")
		return
	}

	// Detach from the request context so a caller disconnect after commit
	// does not drop the event.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	err = p.client.XAdd(pubCtx, &redis.XAddArgs{
		Stream: Stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{
			"event":   event,
			"payload": string(data),
		},
	}).Err()
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("publish event")
	}
}

type nopPublisher struct{}

// NewNopPublisher returns a publisher that drops everything. Used when no
// Redis address is configured and in tests.
func NewNopPublisher() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, string, map[string]any) {}
