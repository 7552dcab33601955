package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "offload:result:"

// Deduper records job IDs whose results reached the internal work queue so
// redelivered results are not published again inside the window.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDeduper(client *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &Deduper{client: client, ttl: ttl}
}

// Seen reports whether jobID was marked within the window.
func (d *Deduper) Seen(ctx context.Context, jobID string) (bool, error) {
	if jobID == "" {
		return false, errors.New("job id cannot be empty")
	}

	n, err := d.client.Exists(ctx, keyPrefix+jobID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Mark records jobID as published. Call only after the publish succeeded.
func (d *Deduper) Mark(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job id cannot be empty")
	}
	if err := d.client.Set(ctx, keyPrefix+jobID, "1", d.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (d *Deduper) Health(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}
