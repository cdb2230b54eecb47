package reputation

import (
	"context"
	"errors"
	"testing"

	"civicpulse-be/backend"
	"civicpulse-be/models"
)

type mockNotifier struct {
	sent []models.Notification
	err  error
}

func (m *mockNotifier) Notify(ctx context.Context, n models.Notification) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

func newTestLedger(t *testing.T, user models.User) (*Ledger, *backend.Memory, *mockNotifier) {
	t.Helper()
	b := backend.NewMemory()
	if _, err := b.Create(context.Background(), backend.Users, user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	n := &mockNotifier{}
	return NewLedger(b, n), b, n
}

func TestRankFor(t *testing.T) {
	tests := []struct {
		reports int
		rank    string
	}{
		{0, "Newcomer"},
		{4, "Newcomer"},
		{5, "Active Citizen"},
		{14, "Active Citizen"},
		{15, "Civic Champion"},
		{29, "Civic Champion"},
		{30, "Community Guardian"},
		{500, "Community Guardian"},
		{-1, "Newcomer"},
	}
	for _, tt := range tests {
		if got := RankFor(tt.reports); got != tt.rank {
			t.Errorf("RankFor(%d) = %q, expected %q", tt.reports, got, tt.rank)
		}
	}
}

func TestRewardReport_Success(t *testing.T) {
	ledger, _, notifier := newTestLedger(t, models.User{ID: "u1", Rank: "Newcomer", ReportCount: 4, Reputation: 40})
	ctx := context.Background()

	err := ledger.RewardReport(ctx, "u1", models.Issue{ID: "issue-1", Title: "Pothole"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	user, err := ledger.Profile(ctx, "u1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if user.Reputation != 40+ReportReward {
		t.Errorf("expected reputation %d, got %d", 40+ReportReward, user.Reputation)
	}
	if user.ReportCount != 5 {
		t.Errorf("expected report count 5, got %d", user.ReportCount)
	}
	if user.Rank != "Active Citizen" {
		t.Errorf("expected rank to be recomputed, got %q", user.Rank)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.sent))
	}
	n := notifier.sent[0]
	if n.Kind != models.RewardNotification || n.UserID != "u1" || n.IssueID != "issue-1" || n.Points != ReportReward {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestRewardReport_UnknownUser(t *testing.T) {
	ledger, _, notifier := newTestLedger(t, models.User{ID: "u1"})

	err := ledger.RewardReport(context.Background(), "ghost", models.Issue{})
	if !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Error("expected no notification for an unknown user")
	}
}

func TestPenalizeDeletion(t *testing.T) {
	ledger, _, notifier := newTestLedger(t, models.User{ID: "u1", Reputation: 5})
	ctx := context.Background()

	if err := ledger.PenalizeDeletion(ctx, "u1", models.Issue{ID: "i1", Title: "Graffiti"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	user, _ := ledger.Profile(ctx, "u1")
	if user.Reputation != 5-DeletionPenalty {
		t.Errorf("expected reputation %d, got %d", 5-DeletionPenalty, user.Reputation)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Kind != models.PenaltyNotification {
		t.Errorf("expected a penalty notification, got %+v", notifier.sent)
	}
}

func TestTrust(t *testing.T) {
	ledger, _, _ := newTestLedger(t, models.User{ID: "u1", Verified: true, Rank: "Civic Champion", CivicID: "CIV-0042"})

	trust, err := ledger.Trust(context.Background(), "u1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !trust.Verified || trust.Rank != "Civic Champion" || trust.CivicID != "CIV-0042" {
		t.Errorf("unexpected snapshot %+v", trust)
	}

	if _, err := ledger.Trust(context.Background(), "ghost"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
