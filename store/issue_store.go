// Package store owns the issue collection. Every mutation lands in a
// process-local cache first so callers see it immediately, then travels to
// the backend under a bounded timeout. Backend trouble on a write is logged
// and the local state stands.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"civicpulse-be/backend"
	"civicpulse-be/logger"
	"civicpulse-be/models"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds each backend round trip.
const DefaultTimeout = 8 * time.Second

var (
	// ErrNotFound is returned for issues neither cached nor known to the backend.
	ErrNotFound = backend.ErrNotFound
	// ErrDeleted is returned when voting on a soft-deleted issue.
	ErrDeleted = errors.New("issue is deleted")
)

// Profiles is the reporter-profile collaborator.
type Profiles interface {
	Trust(ctx context.Context, userID string) (models.ReporterSnapshot, error)
	RewardReport(ctx context.Context, userID string, issue models.Issue) error
	PenalizeDeletion(ctx context.Context, userID string, issue models.Issue) error
}

// Outbox keeps submissions whose background create failed. A claimed entry
// stays owned by the outbox until it is acked or released.
type Outbox interface {
	Push(ctx context.Context, issue models.Issue) error
	Claim(ctx context.Context) (*models.Issue, error)
	Ack(ctx context.Context, issue models.Issue) error
	Release(ctx context.Context, issue models.Issue) error
}

type Options struct {
	// Timeout bounds each backend call. Zero means DefaultTimeout.
	Timeout time.Duration
	// Outbox is optional. Without one a failed background create is lost
	// once the process exits.
	Outbox Outbox
	Logger *logrus.Entry
}

// SubmitInput carries the reporter-supplied fields of a new issue.
type SubmitInput struct {
	Title       string
	Description string
	Category    string
	Location    string
	ImageURL    *string
	Latitude    *float64
	Longitude   *float64
	ReportedBy  string
}

// Changes lists editable fields; nil means unchanged.
type Changes struct {
	Title       *string
	Description *string
	Category    *string
}

type entry struct {
	ref   models.IssueRef
	issue models.Issue
}

// IssueStore is safe for concurrent use. All cache access goes through mu,
// so mutations are applied in call order.
type IssueStore struct {
	backend  backend.Backend
	profiles Profiles
	outbox   Outbox
	log      *logrus.Entry
	timeout  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[models.IssueRef]*entry
	aliases map[models.LocalID]models.PersistedID

	pending sync.WaitGroup
}

func New(b backend.Backend, p Profiles, opts Options) *IssueStore {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.WithComponent("issue_store")
	}
	return &IssueStore{
		backend:  b,
		profiles: p,
		outbox:   opts.Outbox,
		log:      opts.Logger,
		timeout:  opts.Timeout,
		now:      time.Now,
		entries:  make(map[models.IssueRef]*entry),
		aliases:  make(map[models.LocalID]models.PersistedID),
	}
}

// Submit files a new issue. The returned record is already visible to
// every reader of the store; the backend create runs in the background.
func (s *IssueStore) Submit(ctx context.Context, in SubmitInput) models.Issue {
	trust := s.snapshotTrust(ctx, in.ReportedBy)

	now := s.now()
	id := models.NewLocalID()
	issue := models.Issue{
		ID:          id.String(),
		LocalRef:    id.String(),
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Upvotes:     0,
		LikedBy:     []string{},
		Status:      models.Open,
		Location:    in.Location,
		ImageURL:    in.ImageURL,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		ReportedBy:  in.ReportedBy,
		Reporter:    trust,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	issue.Reprioritize()

	s.mu.Lock()
	s.entries[id] = &entry{ref: id, issue: issue.Clone()}
	s.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.persist(bg, id, issue.Clone()); err != nil {
			s.log.WithFields(logrus.Fields{
				"issue_ref": id.String(),
				"error":     err.Error(),
			}).Warn("Background create failed, report kept locally")
			s.enqueue(bg, id)
		}
	}()

	return issue
}

func (s *IssueStore) snapshotTrust(ctx context.Context, userID string) models.ReporterSnapshot {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	trust, err := s.profiles.Trust(ctx, userID)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Warn("Reporter profile unavailable, filing with an empty trust snapshot")
		return models.ReporterSnapshot{}
	}
	return trust
}

// persist creates the backend record for a local issue and settles the
// cache entry under the new id.
func (s *IssueStore) persist(ctx context.Context, local models.LocalID, issue models.Issue) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := issue.Clone()
	doc.ID = ""
	doc.LocalRef = local.String()
	newID, err := s.backend.Create(ctx, backend.Issues, doc)
	if err != nil {
		return err
	}
	doc.ID = newID
	s.settle(ctx, local, models.PersistedID(newID), doc, true)
	return nil
}

// settle carries edits made to the local record since sent was written,
// then re-keys the cache entry under its backend id. The final check for
// outstanding edits and the re-key share one critical section: until then
// edits land on the local record and are carried here, afterwards they go
// to the backend by id. With reward set the reporter is credited.
func (s *IssueStore) settle(ctx context.Context, local models.LocalID, persisted models.PersistedID, sent models.Issue, reward bool) {
	latest := sent
	for {
		s.mu.Lock()
		e, cached := s.entries[local]
		if !cached || !changedSince(sent, e.issue) {
			s.aliases[local] = persisted
			if cached {
				delete(s.entries, local)
				e.ref = persisted
				e.issue.ID = persisted.String()
				s.entries[persisted] = e
				latest = e.issue.Clone()
			}
			s.mu.Unlock()
			break
		}
		latest = e.issue.Clone()
		s.mu.Unlock()

		s.carryOver(ctx, persisted, sent, latest)
		sent = latest
	}
	latest.ID = persisted.String()

	s.log.WithFields(logrus.Fields{
		"local_ref": local.String(),
		"issue_ref": persisted.String(),
	}).Info("Issue persisted")

	if !reward {
		return
	}
	if err := s.profiles.RewardReport(ctx, latest.ReportedBy, latest); err != nil {
		s.log.WithFields(logrus.Fields{
			"issue_ref": persisted.String(),
			"user_id":   latest.ReportedBy,
			"error":     err.Error(),
		}).Warn("Failed to reward reporter")
	}
}

func changedSince(sent, latest models.Issue) bool {
	return sent.Title != latest.Title ||
		sent.Description != latest.Description ||
		sent.Category != latest.Category ||
		sent.Status != latest.Status ||
		sent.Upvotes != latest.Upvotes ||
		len(sent.LikedBy) != len(latest.LikedBy)
}

// carryOver writes the difference between sent and latest. Votes go first
// and through the guarded path, so a vote cast before a local delete still
// counts and a vote another device already stored is not counted twice.
func (s *IssueStore) carryOver(ctx context.Context, id models.PersistedID, sent, latest models.Issue) {
	for _, userID := range latest.LikedBy {
		if sent.LikedByUser(userID) {
			continue
		}
		if _, _, err := s.castVote(ctx, id, userID, latest.UpdatedAt); err != nil {
			s.log.WithFields(logrus.Fields{
				"issue_ref": id.String(),
				"user_id":   userID,
				"error":     err.Error(),
			}).Warn("Failed to carry local upvote to the backend")
		}
	}

	fields := backend.Fields{}
	if latest.Title != sent.Title {
		fields["title"] = latest.Title
	}
	if latest.Description != sent.Description {
		fields["description"] = latest.Description
	}
	if latest.Category != sent.Category {
		fields["category"] = latest.Category
	}
	if latest.Status != sent.Status {
		fields["status"] = latest.Status
	}
	if len(fields) == 0 {
		return
	}
	fields["updatedAt"] = latest.UpdatedAt
	s.push(ctx, id, fields)
}

func (s *IssueStore) enqueue(ctx context.Context, local models.LocalID) {
	if s.outbox == nil {
		return
	}

	s.mu.Lock()
	e, ok := s.entries[local]
	var issue models.Issue
	if ok {
		issue = e.issue.Clone()
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.outbox.Push(ctx, issue); err != nil {
		s.log.WithFields(logrus.Fields{
			"issue_ref": local.String(),
			"error":     err.Error(),
		}).Error("Failed to queue report for retry")
	}
}

// ReplayOutbox retries queued submissions until the outbox is empty, ctx
// is done or a create fails again, and returns how many reached the
// backend. An entry is acked only once its record is in the backend; on
// failure it is released back to the head of the queue.
func (s *IssueStore) ReplayOutbox(ctx context.Context) (int, error) {
	if s.outbox == nil {
		return 0, nil
	}

	replayed := 0
	for {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		queued, err := s.outbox.Claim(ctx)
		if err != nil {
			return replayed, err
		}
		if queued == nil {
			return replayed, nil
		}

		local := models.LocalID(queued.ID)
		s.mu.Lock()
		_, done := s.aliases[local]
		var issue models.Issue
		if !done {
			e, cached := s.entries[local]
			if !cached {
				e = &entry{ref: local, issue: queued.Clone()}
				s.entries[local] = e
			}
			issue = e.issue.Clone()
		}
		s.mu.Unlock()
		if done {
			s.ack(ctx, *queued)
			continue
		}

		if err := s.replay(ctx, local, issue); err != nil {
			if relErr := s.release(ctx, *queued); relErr != nil {
				return replayed, fmt.Errorf("failed to release %s: %w", local, relErr)
			}
			return replayed, err
		}
		s.ack(ctx, *queued)
		replayed++
	}
}

// replay persists a queued report. If an earlier attempt reached the
// backend before its outbox entry was acked, that record is adopted instead
// of creating a second one. Adoption does not credit the reporter again.
func (s *IssueStore) replay(ctx context.Context, local models.LocalID, issue models.Issue) error {
	found, err := s.query(ctx, backend.Filter{backend.Eq("localRef", local.String())})
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return s.persist(ctx, local, issue)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.settle(ctx, local, models.PersistedID(found[0].ID), found[0], false)
	return nil
}

// detached keeps outbox bookkeeping alive past ctx cancellation, so an entry
// claimed during shutdown is still acked or released.
func (s *IssueStore) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *IssueStore) release(ctx context.Context, issue models.Issue) error {
	ctx, cancel := s.detached(ctx)
	defer cancel()
	return s.outbox.Release(ctx, issue)
}

func (s *IssueStore) ack(ctx context.Context, issue models.Issue) {
	ctx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.outbox.Ack(ctx, issue); err != nil {
		// The entry resurfaces after a restart and is adopted by localRef.
		s.log.WithFields(logrus.Fields{
			"issue_ref": issue.ID,
			"error":     err.Error(),
		}).Warn("Failed to ack outbox entry")
	}
}

// Drain waits for in-flight background creates.
func (s *IssueStore) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns an issue regardless of status.
func (s *IssueStore) Get(ctx context.Context, ref models.IssueRef) (models.Issue, error) {
	ref, err := s.load(ctx, ref)
	if err != nil {
		return models.Issue{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[s.resolveLocked(ref)]
	if !ok {
		return models.Issue{}, fmt.Errorf("issue %s: %w", ref, ErrNotFound)
	}
	return e.issue.Clone(), nil
}

// ChangeStatus overwrites the status. Any status may follow any other.
func (s *IssueStore) ChangeStatus(ctx context.Context, ref models.IssueRef, status models.IssueStatus) (models.Issue, error) {
	return s.mutate(ctx, ref, func(issue *models.Issue) backend.Fields {
		issue.Status = status
		return backend.Fields{"status": status}
	})
}

// UpdateDetails edits title, description and category. A category change
// re-runs the priority engine.
func (s *IssueStore) UpdateDetails(ctx context.Context, ref models.IssueRef, c Changes) (models.Issue, error) {
	return s.mutate(ctx, ref, func(issue *models.Issue) backend.Fields {
		fields := backend.Fields{}
		if c.Title != nil {
			issue.Title = *c.Title
			fields["title"] = issue.Title
		}
		if c.Description != nil {
			issue.Description = *c.Description
			fields["description"] = issue.Description
		}
		if c.Category != nil && *c.Category != issue.Category {
			issue.Category = *c.Category
			issue.Reprioritize()
			// The backend recomputes priority from its own count.
			fields["category"] = issue.Category
		}
		return fields
	})
}

// SoftDelete marks the issue deleted and charges the deletion penalty to
// actorID. The record stays retrievable through Get.
func (s *IssueStore) SoftDelete(ctx context.Context, ref models.IssueRef, actorID string) (models.Issue, error) {
	issue, err := s.ChangeStatus(ctx, ref, models.Deleted)
	if err != nil {
		return models.Issue{}, err
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.profiles.PenalizeDeletion(pctx, actorID, issue); err != nil {
		s.log.WithFields(logrus.Fields{
			"issue_ref": issue.ID,
			"user_id":   actorID,
			"error":     err.Error(),
		}).Warn("Failed to apply deletion penalty")
	}
	return issue, nil
}

func (s *IssueStore) mutate(ctx context.Context, ref models.IssueRef, change func(*models.Issue) backend.Fields) (models.Issue, error) {
	ref, err := s.load(ctx, ref)
	if err != nil {
		return models.Issue{}, err
	}

	s.mu.Lock()
	e, ok := s.entries[s.resolveLocked(ref)]
	if !ok {
		s.mu.Unlock()
		return models.Issue{}, fmt.Errorf("issue %s: %w", ref, ErrNotFound)
	}
	fields := change(&e.issue)
	e.issue.UpdatedAt = s.now()
	fields["updatedAt"] = e.issue.UpdatedAt
	snapshot := e.issue.Clone()
	ref = e.ref
	s.mu.Unlock()

	switch r := ref.(type) {
	case models.PersistedID:
		s.push(ctx, r, fields)
	case models.LocalID:
		// Carried over when the background create lands.
	}
	return snapshot, nil
}

func (s *IssueStore) push(ctx context.Context, id models.PersistedID, fields backend.Fields) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.Update(ctx, backend.Issues, id.String(), fields); err != nil {
		s.log.WithFields(logrus.Fields{
			"issue_ref": id.String(),
			"error":     err.Error(),
		}).Warn("Backend update failed, change kept locally")
		return
	}
	if _, ok := fields["category"]; !ok {
		return
	}
	if _, err := s.settlePriority(ctx, id); err != nil {
		s.log.WithFields(logrus.Fields{
			"issue_ref": id.String(),
			"error":     err.Error(),
		}).Warn("Failed to recompute stored priority")
	}
}

// load makes sure ref is cached and returns the ref it is cached under.
func (s *IssueStore) load(ctx context.Context, ref models.IssueRef) (models.IssueRef, error) {
	s.mu.Lock()
	ref = s.resolveLocked(ref)
	_, ok := s.entries[ref]
	s.mu.Unlock()
	if ok {
		return ref, nil
	}

	switch r := ref.(type) {
	case models.PersistedID:
		issue, err := s.fetch(ctx, r)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if local, settling := s.settlingLocked(issue); settling {
			return local, nil
		}
		if _, ok := s.entries[r]; !ok {
			s.entries[r] = &entry{ref: r, issue: issue}
		}
		return r, nil
	case models.LocalID:
		return nil, fmt.Errorf("issue %s: %w", r, ErrNotFound)
	default:
		return nil, fmt.Errorf("issue %v: %w", ref, ErrNotFound)
	}
}

// settlingLocked reports whether a backend record is still being settled
// from its local entry. Such records are served from the local entry until
// settle re-keys it.
func (s *IssueStore) settlingLocked(issue models.Issue) (models.LocalID, bool) {
	if issue.LocalRef == "" {
		return "", false
	}
	local := models.LocalID(issue.LocalRef)
	_, ok := s.entries[local]
	return local, ok
}

func (s *IssueStore) resolveLocked(ref models.IssueRef) models.IssueRef {
	if local, ok := ref.(models.LocalID); ok {
		if persisted, ok := s.aliases[local]; ok {
			return persisted
		}
	}
	return ref
}

func (s *IssueStore) fetch(ctx context.Context, id models.PersistedID) (models.Issue, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.backend.Get(ctx, backend.Issues, id.String())
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return models.Issue{}, fmt.Errorf("issue %s: %w", id, ErrNotFound)
		}
		return models.Issue{}, err
	}
	var issue models.Issue
	if err := backend.Decode(raw, &issue); err != nil {
		return models.Issue{}, err
	}
	return issue, nil
}

func (s *IssueStore) replace(id models.PersistedID, issue models.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &entry{ref: id, issue: issue.Clone()}
}

func (s *IssueStore) forget(id models.PersistedID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// SortByPriority orders issues high to low tier, then by upvotes, then
// newest first.
func SortByPriority(issues []models.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
			return wa > wb
		}
		if a.Upvotes != b.Upvotes {
			return a.Upvotes > b.Upvotes
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

func sortNewest(issues []models.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if !issues[i].CreatedAt.Equal(issues[j].CreatedAt) {
			return issues[i].CreatedAt.After(issues[j].CreatedAt)
		}
		return issues[i].ID < issues[j].ID
	})
}
