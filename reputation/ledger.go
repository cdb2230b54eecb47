// Package reputation keeps reporter standing: points earned for confirmed
// reports, points lost for deletions, and the rank derived from the
// lifetime report count.
package reputation

import (
	"context"
	"fmt"
	"time"

	"civicpulse-be/backend"
	"civicpulse-be/models"
	"civicpulse-be/notify"
)

const (
	// ReportReward is granted when a report reaches the backend.
	ReportReward = 10
	// DeletionPenalty is deducted from whoever deletes an issue.
	DeletionPenalty = 15
)

var ranks = []struct {
	minReports int
	name       string
}{
	{30, "Community Guardian"},
	{15, "Civic Champion"},
	{5, "Active Citizen"},
	{0, "Newcomer"},
}

// RankFor returns the rank earned by a lifetime report count.
func RankFor(reports int) string {
	for _, r := range ranks {
		if reports >= r.minReports {
			return r.name
		}
	}
	return ranks[len(ranks)-1].name
}

// Ledger applies reputation changes to profiles in the users collection.
type Ledger struct {
	backend  backend.Backend
	notifier notify.Notifier
	now      func() time.Time
}

func NewLedger(b backend.Backend, n notify.Notifier) *Ledger {
	return &Ledger{backend: b, notifier: n, now: time.Now}
}

// Profile loads a user profile.
func (l *Ledger) Profile(ctx context.Context, userID string) (*models.User, error) {
	raw, err := l.backend.Get(ctx, backend.Users, userID)
	if err != nil {
		return nil, err
	}
	var user models.User
	if err := backend.Decode(raw, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Trust returns the reporter's current trust attributes.
func (l *Ledger) Trust(ctx context.Context, userID string) (models.ReporterSnapshot, error) {
	user, err := l.Profile(ctx, userID)
	if err != nil {
		return models.ReporterSnapshot{}, err
	}
	return user.Trust(), nil
}

// RewardReport credits the reporter for a report the backend accepted,
// bumps their report count, re-ranks them and sends a reward notice.
func (l *Ledger) RewardReport(ctx context.Context, userID string, issue models.Issue) error {
	err := l.adjust(ctx, userID, backend.Mutation{
		Inc: map[string]int{"reputation": ReportReward, "reportCount": 1},
		Set: backend.Fields{"updatedAt": l.now()},
	})
	if err != nil {
		return err
	}

	user, err := l.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if rank := RankFor(user.ReportCount); rank != user.Rank {
		if err := l.backend.Update(ctx, backend.Users, userID, backend.Fields{"rank": rank}); err != nil {
			return fmt.Errorf("failed to update rank: %w", err)
		}
	}

	return l.notifier.Notify(ctx, models.Notification{
		UserID:  userID,
		Kind:    models.RewardNotification,
		Title:   "Report received",
		Message: fmt.Sprintf("You earned %d points for reporting %q.", ReportReward, issue.Title),
		IssueID: issue.ID,
		Points:  ReportReward,
	})
}

// PenalizeDeletion deducts the deletion penalty from the acting user and
// sends a penalty notice.
func (l *Ledger) PenalizeDeletion(ctx context.Context, userID string, issue models.Issue) error {
	err := l.adjust(ctx, userID, backend.Mutation{
		Inc: map[string]int{"reputation": -DeletionPenalty},
		Set: backend.Fields{"updatedAt": l.now()},
	})
	if err != nil {
		return err
	}

	return l.notifier.Notify(ctx, models.Notification{
		UserID:  userID,
		Kind:    models.PenaltyNotification,
		Title:   "Report deleted",
		Message: fmt.Sprintf("%d points were deducted for deleting %q.", DeletionPenalty, issue.Title),
		IssueID: issue.ID,
		Points:  -DeletionPenalty,
	})
}

func (l *Ledger) adjust(ctx context.Context, userID string, m backend.Mutation) error {
	matched, err := l.backend.Apply(ctx, backend.Users, userID, nil, m)
	if err != nil {
		return fmt.Errorf("failed to adjust reputation: %w", err)
	}
	if !matched {
		return fmt.Errorf("user %s: %w", userID, backend.ErrNotFound)
	}
	return nil
}
