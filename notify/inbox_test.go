package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"civicpulse-be/backend"
	"civicpulse-be/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestInboxNotify_StoresAndLists(t *testing.T) {
	inbox := NewInbox(backend.NewMemory(), nil, "")
	ctx := context.Background()

	err := inbox.Notify(ctx, models.Notification{UserID: "u1", Kind: models.RewardNotification, Points: 10})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	_ = inbox.Notify(ctx, models.Notification{UserID: "u2", Kind: models.PenaltyNotification})

	list, err := inbox.List(ctx, "u1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(list))
	}
	if list[0].ID == "" || list[0].Points != 10 || list[0].CreatedAt.IsZero() {
		t.Errorf("unexpected notification %+v", list[0])
	}
}

func TestInboxNotify_PublishesToUserChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	inbox := NewInbox(backend.NewMemory(), rdb, "inbox")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rdb.Subscribe(ctx, inbox.Channel("u1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	err := inbox.Notify(ctx, models.Notification{UserID: "u1", Title: "Report received"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("expected a published message, got %v", err)
	}
	if msg.Channel != "inbox:u1" {
		t.Errorf("unexpected channel %q", msg.Channel)
	}
	if !strings.Contains(msg.Payload, "Report received") {
		t.Errorf("unexpected payload %q", msg.Payload)
	}
}
