package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"civicpulse-be/backend"
	"civicpulse-be/models"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
)

// Notifier delivers a notification to a user's inbox.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Inbox stores notifications in the backend and, when a Redis client is
// configured, publishes each one on a per-user channel for live clients.
type Inbox struct {
	backend backend.Backend
	redis   *redis.Client
	prefix  string
	now     func() time.Time
}

func NewInbox(b backend.Backend, rdb *redis.Client, channelPrefix string) *Inbox {
	if channelPrefix == "" {
		channelPrefix = "notifications"
	}
	return &Inbox{backend: b, redis: rdb, prefix: channelPrefix, now: time.Now}
}

// Channel returns the pub/sub channel for userID.
func (i *Inbox) Channel(userID string) string {
	return i.prefix + ":" + userID
}

func (i *Inbox) Notify(ctx context.Context, n models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = i.now()
	}

	id, err := i.backend.Create(ctx, backend.Notifications, n)
	if err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	n.ID = id

	if i.redis == nil {
		return nil
	}
	payload, err := bson.MarshalExtJSON(n, false, false)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := i.redis.Publish(ctx, i.Channel(n.UserID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// List returns the user's notifications, newest first.
func (i *Inbox) List(ctx context.Context, userID string) ([]models.Notification, error) {
	docs, err := i.backend.Query(ctx, backend.Notifications, backend.Filter{backend.Eq("userId", userID)})
	if err != nil {
		return nil, err
	}

	notifications := make([]models.Notification, 0, len(docs))
	for _, raw := range docs {
		var n models.Notification
		if err := backend.Decode(raw, &n); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	sort.SliceStable(notifications, func(a, b int) bool {
		return notifications[a].CreatedAt.After(notifications[b].CreatedAt)
	})
	return notifications, nil
}
