package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// EventsChannel is the pub/sub channel other processes subscribe to.
const EventsChannel = "donations:events"

// EventPublisher mirrors donation events onto a Redis channel. It is used as
// a forwarder sink; the Redis client itself is owned by the caller.
type EventPublisher struct {
	rdb *goredis.Client
}

func NewEventPublisher(rdb *goredis.Client) *EventPublisher {
	return &EventPublisher{rdb: rdb}
}

func (p *EventPublisher) Name() string {
	return "redis"
}

func (p *EventPublisher) Connect(ctx context.Context) error {
	if err := p.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (p *EventPublisher) Deliver(ctx context.Context, ev domain.DonationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.rdb.Publish(ctx, EventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close is a no-op: the shared client is closed at shutdown.
func (p *EventPublisher) Close() error {
	return nil
}
