package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"civicpulse-be/backend"
	"civicpulse-be/models"
	"civicpulse-be/priority"

	"github.com/sirupsen/logrus"
)

// UpvoteOutcome reports whether an upvote counted.
type UpvoteOutcome int

const (
	UpvoteApplied UpvoteOutcome = iota
	// UpvoteAlreadyActioned means the user had already upvoted the issue.
	UpvoteAlreadyActioned
)

func (o UpvoteOutcome) String() string {
	switch o {
	case UpvoteApplied:
		return "applied"
	case UpvoteAlreadyActioned:
		return "already_actioned"
	}
	return "unknown"
}

type UpvoteResult struct {
	Outcome UpvoteOutcome
	// Synced is true when the backend confirmed the outcome.
	Synced bool
	Issue  models.Issue
}

func (r UpvoteResult) Applied() bool { return r.Outcome == UpvoteApplied }

// Upvote adds userID's vote to the issue at most once and recomputes its
// priority from the new count. A repeated vote is reported as
// UpvoteAlreadyActioned, never as an error. Deleted issues reject votes
// with ErrDeleted.
//
// Local-only records are settled in the cache. Persisted records are
// re-checked against the backend and written with a guarded increment, so a
// replay from the same user cannot double count. Two devices racing on the
// same user can both pass their local check; the backend guard keeps the
// stored count correct but each device's cache may briefly disagree.
func (s *IssueStore) Upvote(ctx context.Context, ref models.IssueRef, userID string) (UpvoteResult, error) {
	ref, err := s.load(ctx, ref)
	if err != nil {
		return UpvoteResult{}, err
	}

	s.mu.Lock()
	e, ok := s.entries[s.resolveLocked(ref)]
	if !ok {
		s.mu.Unlock()
		return UpvoteResult{}, fmt.Errorf("issue %s: %w", ref, ErrNotFound)
	}
	if e.issue.Status == models.Deleted {
		s.mu.Unlock()
		return UpvoteResult{}, fmt.Errorf("issue %s: %w", ref, ErrDeleted)
	}
	if e.issue.LikedByUser(userID) {
		snapshot := e.issue.Clone()
		s.mu.Unlock()
		return UpvoteResult{Outcome: UpvoteAlreadyActioned, Issue: snapshot}, nil
	}
	e.issue.Upvotes++
	e.issue.LikedBy = append(e.issue.LikedBy, userID)
	e.issue.UpdatedAt = s.now()
	e.issue.Reprioritize()
	optimistic := e.issue.Clone()
	ref = e.ref
	s.mu.Unlock()

	switch r := ref.(type) {
	case models.LocalID:
		return UpvoteResult{Outcome: UpvoteApplied, Issue: optimistic}, nil
	case models.PersistedID:
		return s.syncUpvote(ctx, r, userID, optimistic)
	default:
		return UpvoteResult{}, fmt.Errorf("issue %v: %w", ref, ErrNotFound)
	}
}

func (s *IssueStore) syncUpvote(ctx context.Context, id models.PersistedID, userID string, optimistic models.Issue) (UpvoteResult, error) {
	current, applied, err := s.castVote(ctx, id, userID, optimistic.UpdatedAt)
	switch {
	case errors.Is(err, ErrNotFound):
		s.forget(id)
		return UpvoteResult{}, err
	case errors.Is(err, ErrDeleted):
		s.replace(id, current)
		return UpvoteResult{}, err
	case err != nil:
		s.log.WithFields(logrus.Fields{
			"issue_ref": id.String(),
			"user_id":   userID,
			"error":     err.Error(),
		}).Warn("Backend upvote failed, upvote kept locally")
		return UpvoteResult{Outcome: UpvoteApplied, Issue: optimistic}, nil
	}

	s.replace(id, current)
	if !applied {
		return UpvoteResult{Outcome: UpvoteAlreadyActioned, Synced: true, Issue: current}, nil
	}
	return UpvoteResult{Outcome: UpvoteApplied, Synced: true, Issue: current}, nil
}

// maxWriteAttempts bounds the compare-and-set loops below. A write only
// misses when another one landed, so this is the number of competing
// writers a caller tolerates before giving up.
const maxWriteAttempts = 32

var errContended = errors.New("issue kept changing, write abandoned")

// castVote records userID's vote in one guarded write. The write only lands
// if the stored count and category are still the ones the new priority was
// computed from, so priority never lags the count it describes. It returns
// the stored issue and whether this call added the vote.
func (s *IssueStore) castVote(ctx context.Context, id models.PersistedID, userID string, at time.Time) (models.Issue, bool, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := s.fetch(ctx, id)
		if err != nil {
			return models.Issue{}, false, err
		}
		if current.Status == models.Deleted {
			return current, false, fmt.Errorf("issue %s: %w", id, ErrDeleted)
		}
		if current.LikedByUser(userID) {
			return current, false, nil
		}

		next := current.Clone()
		next.Upvotes++
		next.LikedBy = append(next.LikedBy, userID)
		next.UpdatedAt = at
		next.Reprioritize()

		bctx, cancel := context.WithTimeout(ctx, s.timeout)
		matched, err := s.backend.Apply(bctx, backend.Issues, id.String(),
			backend.Filter{
				backend.Eq("upvotes", current.Upvotes),
				backend.Eq("category", current.Category),
				backend.Ne("likedBy", userID),
				backend.Ne("status", models.Deleted),
			},
			backend.Mutation{
				Inc:      map[string]int{"upvotes": 1},
				AddToSet: backend.Fields{"likedBy": userID},
				Set: backend.Fields{
					"priority":       next.Priority,
					"priorityReason": next.PriorityReason,
					"updatedAt":      at,
				},
			})
		cancel()
		if err != nil {
			return models.Issue{}, false, err
		}
		if !matched {
			continue
		}

		if stored, err := s.fetch(ctx, id); err == nil {
			return stored, true, nil
		}
		return next, true, nil
	}
	return models.Issue{}, false, fmt.Errorf("upvote on %s: %w", id, errContended)
}

// settlePriority rewrites the stored priority from the stored category and
// count, guarded on both so a concurrent vote or edit forces a recompute.
func (s *IssueStore) settlePriority(ctx context.Context, id models.PersistedID) (models.Issue, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := s.fetch(ctx, id)
		if err != nil {
			return models.Issue{}, err
		}
		tier, reason := priority.Compute(current.Category, current.Upvotes)
		if tier == current.Priority && reason == current.PriorityReason {
			return current, nil
		}

		bctx, cancel := context.WithTimeout(ctx, s.timeout)
		matched, err := s.backend.Apply(bctx, backend.Issues, id.String(),
			backend.Filter{
				backend.Eq("upvotes", current.Upvotes),
				backend.Eq("category", current.Category),
			},
			backend.Mutation{Set: backend.Fields{"priority": tier, "priorityReason": reason}})
		cancel()
		if err != nil {
			return models.Issue{}, err
		}
		if matched {
			current.Priority, current.PriorityReason = tier, reason
			return current, nil
		}
	}
	return models.Issue{}, fmt.Errorf("priority of %s: %w", id, errContended)
}
