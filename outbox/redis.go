// Package outbox holds submissions whose background create failed so they
// can be replayed once the backend is reachable again.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"civicpulse-be/models"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
)

// DefaultKey is the Redis list used when none is configured.
const DefaultKey = "outbox:issues"

// Redis is a FIFO of BSON-encoded issues kept in a Redis list. New entries
// are pushed on the left and claimed from the right. A claimed entry moves
// to a processing list in the same command and stays there until it is
// acked or released, so a crash mid-replay leaves it in Redis.
type Redis struct {
	client     *redis.Client
	key        string
	processing string

	mu      sync.Mutex
	claimed map[string][]byte
}

func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{
		client:     client,
		key:        key,
		processing: key + ":processing",
		claimed:    make(map[string][]byte),
	}
}

func (r *Redis) Push(ctx context.Context, issue models.Issue) error {
	raw, err := bson.Marshal(issue)
	if err != nil {
		return fmt.Errorf("failed to encode outbox entry: %w", err)
	}
	if err := r.client.LPush(ctx, r.key, []byte(raw)).Err(); err != nil {
		return fmt.Errorf("failed to push outbox entry: %w", err)
	}
	return nil
}

// Claim moves the oldest entry to the processing list and returns it. It
// returns nil when the outbox is empty.
func (r *Redis) Claim(ctx context.Context) (*models.Issue, error) {
	raw, err := r.client.LMove(ctx, r.key, r.processing, "RIGHT", "LEFT").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim outbox entry: %w", err)
	}

	var issue models.Issue
	if err := bson.Unmarshal(raw, &issue); err != nil {
		// Unreadable entries would block the queue forever.
		r.client.LRem(ctx, r.processing, 1, raw)
		return nil, fmt.Errorf("failed to decode outbox entry: %w", err)
	}

	r.mu.Lock()
	r.claimed[issue.ID] = raw
	r.mu.Unlock()
	return &issue, nil
}

// Ack drops a claimed entry for good.
func (r *Redis) Ack(ctx context.Context, issue models.Issue) error {
	raw, err := r.take(issue)
	if err != nil {
		return err
	}
	if err := r.client.LRem(ctx, r.processing, 1, raw).Err(); err != nil {
		r.keep(issue.ID, raw)
		return fmt.Errorf("failed to ack outbox entry: %w", err)
	}
	return nil
}

// Release puts a claimed entry back at the head of the queue so it is
// retried first.
func (r *Redis) Release(ctx context.Context, issue models.Issue) error {
	raw, err := r.take(issue)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, r.processing, 1, raw)
		pipe.RPush(ctx, r.key, raw)
		return nil
	})
	if err != nil {
		r.keep(issue.ID, raw)
		return fmt.Errorf("failed to release outbox entry: %w", err)
	}
	return nil
}

// Recover returns entries left in the processing list by a previous run to
// the head of the queue. Call it before the first replay.
func (r *Redis) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := r.client.LMove(ctx, r.processing, r.key, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover outbox entries: %w", err)
		}
		moved++
	}
}

// Len returns the number of queued entries, claimed ones excluded.
func (r *Redis) Len(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key).Result()
}

func (r *Redis) take(issue models.Issue) ([]byte, error) {
	r.mu.Lock()
	raw, ok := r.claimed[issue.ID]
	delete(r.claimed, issue.ID)
	r.mu.Unlock()
	if ok {
		return raw, nil
	}

	// Not claimed through this instance. The encoding is stable.
	encoded, err := bson.Marshal(issue)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outbox entry: %w", err)
	}
	return encoded, nil
}

func (r *Redis) keep(id string, raw []byte) {
	r.mu.Lock()
	r.claimed[id] = raw
	r.mu.Unlock()
}
