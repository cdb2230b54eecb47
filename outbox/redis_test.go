package outbox

import (
	"context"
	"testing"

	"civicpulse-be/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestOutbox(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, ""), mr
}

func listLen(t *testing.T, mr *miniredis.Miniredis, key string) int {
	t.Helper()
	if !mr.Exists(key) {
		return 0
	}
	items, err := mr.List(key)
	if err != nil {
		t.Fatalf("list %s: %v", key, err)
	}
	return len(items)
}

func TestRedisOutbox_FIFO(t *testing.T) {
	box, _ := newTestOutbox(t)
	ctx := context.Background()

	for _, title := range []string{"first", "second"} {
		if err := box.Push(ctx, models.Issue{ID: "local-" + title, Title: title, LikedBy: []string{}}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if n, _ := box.Len(ctx); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}

	issue, err := box.Claim(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if issue == nil || issue.Title != "first" || issue.ID != "local-first" {
		t.Fatalf("expected the oldest entry, got %+v", issue)
	}
}

func TestRedisOutbox_ClaimedEntryStaysInRedisUntilAcked(t *testing.T) {
	box, mr := newTestOutbox(t)
	ctx := context.Background()

	_ = box.Push(ctx, models.Issue{ID: "local-a", Title: "queued"})
	issue, err := box.Claim(ctx)
	if err != nil || issue == nil {
		t.Fatalf("claim: %+v %v", issue, err)
	}
	if n, _ := box.Len(ctx); n != 0 {
		t.Errorf("expected claimed entry to leave the queue, got %d", n)
	}
	if got := listLen(t, mr, DefaultKey+":processing"); got != 1 {
		t.Fatalf("expected claimed entry in the processing list, got %d", got)
	}

	if err := box.Ack(ctx, *issue); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if got := listLen(t, mr, DefaultKey+":processing"); got != 0 {
		t.Errorf("expected ack to drop the entry, got %d", got)
	}
}

func TestRedisOutbox_ReleaseGoesToHead(t *testing.T) {
	box, mr := newTestOutbox(t)
	ctx := context.Background()

	_ = box.Push(ctx, models.Issue{ID: "local-retry", Title: "retry"})
	claimed, _ := box.Claim(ctx)
	_ = box.Push(ctx, models.Issue{ID: "local-queued", Title: "queued"})

	if err := box.Release(ctx, *claimed); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := listLen(t, mr, DefaultKey+":processing"); got != 0 {
		t.Errorf("expected released entry to leave the processing list, got %d", got)
	}

	issue, _ := box.Claim(ctx)
	if issue == nil || issue.Title != "retry" {
		t.Errorf("expected released entry first, got %+v", issue)
	}
}

// A replayer that dies between claim and ack leaves the entry behind for
// the next process.
func TestRedisOutbox_RecoverAfterCrash(t *testing.T) {
	crashed, mr := newTestOutbox(t)
	ctx := context.Background()

	_ = crashed.Push(ctx, models.Issue{ID: "local-a", Title: "a"})
	_ = crashed.Push(ctx, models.Issue{ID: "local-b", Title: "b"})
	_ = crashed.Push(ctx, models.Issue{ID: "local-c", Title: "c"})
	_, _ = crashed.Claim(ctx)
	_, _ = crashed.Claim(ctx)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	restarted := NewRedis(client, "")

	moved, err := restarted.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if moved != 2 {
		t.Errorf("expected 2 recovered entries, got %d", moved)
	}
	if n, _ := restarted.Len(ctx); n != 3 {
		t.Fatalf("expected 3 queued entries, got %d", n)
	}

	var order []string
	for {
		issue, err := restarted.Claim(ctx)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if issue == nil {
			break
		}
		order = append(order, issue.Title)
		if err := restarted.Ack(ctx, *issue); err != nil {
			t.Fatalf("ack: %v", err)
		}
	}
	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestRedisOutbox_ClaimEmpty(t *testing.T) {
	box, _ := newTestOutbox(t)

	issue, err := box.Claim(context.Background())
	if err != nil || issue != nil {
		t.Errorf("expected nil, nil on empty outbox, got %+v %v", issue, err)
	}
}
