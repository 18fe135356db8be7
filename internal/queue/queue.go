// Package queue wraps the Redis list primitives the ingestion pipeline and
// worker use to hand off jobs: LPUSH to enqueue, BRPOP to dequeue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/memoryd/memoryd/internal/apperr"
)

// Queue is the minimal Redis-list contract the ingestion pipeline and
// worker depend on.
type Queue struct {
	client *redis.Client
	list   string
}

// Connect opens a Redis connection and verifies it with a Ping, retrying
// briefly so a worker starting alongside Redis doesn't lose the race. An
// empty redisURI is a Fatal: nothing downstream can enqueue without it.
func Connect(ctx context.Context, redisURI, list string) (*Queue, error) {
	if redisURI == "" {
		return nil, apperr.Fatalf("queue: REDIS_URI is not configured")
	}
	opts, err := redis.ParseURL(redisURI)
	if err != nil {
		return nil, apperr.Fatalf("queue: invalid redis URI: %v", err)
	}
	client := redis.NewClient(opts)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Second
	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}
	if err := backoff.Retry(ping, backoff.WithContext(bo, ctx)); err != nil {
		_ = client.Close()
		return nil, apperr.Fatalf("queue: redis ping failed: %v", err)
	}
	return &Queue{client: client, list: list}, nil
}

// Enqueue LPUSHes a JSON-encoded payload onto the queue's list.
func (q *Queue) Enqueue(ctx context.Context, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}
	return q.client.LPush(ctx, q.list, b).Err()
}

// Dequeue blocks for up to blockFor waiting for a job, returning (nil, nil)
// on timeout.
func (q *Queue) Dequeue(ctx context.Context, blockFor time.Duration) (map[string]any, error) {
	res, err := q.client.BRPop(ctx, blockFor, q.list).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPop returns [listName, value]; unwrap the payload.
	if len(res) < 2 {
		return nil, fmt.Errorf("queue: unexpected BRPOP reply shape")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(res[1]), &payload); err != nil {
		return nil, fmt.Errorf("queue: unmarshal payload: %w", err)
	}
	return payload, nil
}

// Close releases the underlying Redis client.
func (q *Queue) Close() error { return q.client.Close() }
