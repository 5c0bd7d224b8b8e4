package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultEventTTL is how long a processed webhook event id is remembered.
const DefaultEventTTL = 24 * time.Hour

// EventLog remembers processed provider event ids.
type EventLog struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewEventLog creates an event log with the given retention.
func NewEventLog(rdb redis.UniversalClient, ttl time.Duration) *EventLog {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	return &EventLog{rdb: rdb, ttl: ttl}
}

func eventKey(provider, eventID string) string {
	return keyPrefix + "webhook:" + provider + ":" + eventID
}

// Seen reports whether the event was already processed.
func (l *EventLog) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	n, err := l.rdb.Exists(ctx, eventKey(provider, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return n > 0, nil
}

// Mark records the event as processed.
func (l *EventLog) Mark(ctx context.Context, provider, eventID string) error {
	if err := l.rdb.Set(ctx, eventKey(provider, eventID), time.Now().Unix(), l.ttl).Err(); err != nil {
		return fmt.Errorf("mark webhook event: %w", err)
	}
	return nil
}
