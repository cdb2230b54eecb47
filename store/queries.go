package store

import (
	"context"
	"fmt"
	"math"

	"civicpulse-be/backend"
	"civicpulse-be/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ListOptions narrows a listing. Zero values mean no restriction.
type ListOptions struct {
	ReportedBy string
	Category   string
}

func (o ListOptions) matches(issue *models.Issue) bool {
	if issue.Status == models.Deleted {
		return false
	}
	if o.ReportedBy != "" && issue.ReportedBy != o.ReportedBy {
		return false
	}
	if o.Category != "" && issue.Category != o.Category {
		return false
	}
	return true
}

func (o ListOptions) filter() backend.Filter {
	f := backend.Filter{backend.Ne("status", models.Deleted)}
	if o.ReportedBy != "" {
		f = append(f, backend.Eq("reportedBy", o.ReportedBy))
	}
	if o.Category != "" {
		f = append(f, backend.Eq("category", o.Category))
	}
	return f
}

// ListAll returns every non-deleted issue, newest first.
func (s *IssueStore) ListAll(ctx context.Context) []models.Issue {
	return s.List(ctx, ListOptions{})
}

// ListByReporter returns the reporter's non-deleted issues, newest first.
func (s *IssueStore) ListByReporter(ctx context.Context, userID string) []models.Issue {
	return s.List(ctx, ListOptions{ReportedBy: userID})
}

// List refreshes the cache from the backend and returns the matching
// non-deleted issues, including ones not yet persisted. When the backend is
// unreachable the cached records are served.
func (s *IssueStore) List(ctx context.Context, opts ListOptions) []models.Issue {
	remote, err := s.query(ctx, opts.filter())
	if err != nil {
		s.log.WithField("error", err.Error()).Warn("Backend query failed, serving cached issues")
	} else {
		s.absorb(remote, opts == ListOptions{})
	}

	s.mu.Lock()
	issues := make([]models.Issue, 0, len(s.entries))
	for _, e := range s.entries {
		if opts.matches(&e.issue) {
			issues = append(issues, e.issue.Clone())
		}
	}
	s.mu.Unlock()

	sortNewest(issues)
	return issues
}

func (s *IssueStore) query(ctx context.Context, f backend.Filter) ([]models.Issue, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	docs, err := s.backend.Query(ctx, backend.Issues, f)
	if err != nil {
		return nil, err
	}
	issues := make([]models.Issue, 0, len(docs))
	for _, raw := range docs {
		var issue models.Issue
		if err := backend.Decode(raw, &issue); err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// absorb replaces cached persisted records with the backend's copies. With
// prune set, persisted records the backend no longer lists are evicted.
func (s *IssueStore) absorb(remote []models.Issue, prune bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[models.PersistedID]bool, len(remote))
	for _, issue := range remote {
		if _, settling := s.settlingLocked(issue); settling {
			continue
		}
		id := models.PersistedID(issue.ID)
		seen[id] = true
		s.entries[id] = &entry{ref: id, issue: issue}
	}
	if !prune {
		return
	}
	for ref := range s.entries {
		if id, ok := ref.(models.PersistedID); ok && !seen[id] {
			delete(s.entries, ref)
		}
	}
}

// Dashboard aggregates non-deleted issues.
type Dashboard struct {
	Total        int64  `json:"total"`
	Open         int64  `json:"open"`
	InProgress   int64  `json:"inProgress"`
	Resolved     int64  `json:"resolved"`
	ResolvedRate string `json:"resolvedRate"`
}

// DashboardCounts counts the backend's issues plus reports still waiting
// for their create, so the totals agree with ListAll. A report whose create
// has landed but is not yet settled can be counted twice for that moment.
// On backend failure it returns a zeroed dashboard alongside the error.
func (s *IssueStore) DashboardCounts(ctx context.Context) (Dashboard, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, f backend.Filter) {
		g.Go(func() error {
			n, err := s.backend.Count(gctx, backend.Issues, f)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}
	count(&d.Total, backend.Filter{backend.Ne("status", models.Deleted)})
	count(&d.Open, backend.Filter{backend.Eq("status", models.Open)})
	count(&d.InProgress, backend.Filter{backend.Eq("status", models.InProgress)})
	count(&d.Resolved, backend.Filter{backend.Eq("status", models.Resolved)})

	if err := g.Wait(); err != nil {
		s.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("Dashboard counts unavailable")
		return Dashboard{ResolvedRate: ResolutionRate(0, 0)}, fmt.Errorf("dashboard counts: %w", err)
	}
	s.countLocal(&d)
	d.ResolvedRate = ResolutionRate(d.Resolved, d.Total)
	return d, nil
}

func (s *IssueStore) countLocal(d *Dashboard) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ref, e := range s.entries {
		if _, local := ref.(models.LocalID); !local {
			continue
		}
		switch e.issue.Status {
		case models.Deleted:
			continue
		case models.Open:
			d.Open++
		case models.InProgress:
			d.InProgress++
		case models.Resolved:
			d.Resolved++
		}
		d.Total++
	}
}

// ResolutionRate formats resolved/total as a rounded percentage, "0%" when
// there is nothing to resolve.
func ResolutionRate(resolved, total int64) string {
	if total <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%d%%", int64(math.Round(float64(resolved)*100/float64(total))))
}
