package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"civicpulse-be/backend"
	"civicpulse-be/controllers"
	"civicpulse-be/middlewares"
	"civicpulse-be/models"
	"civicpulse-be/notify"
	"civicpulse-be/priority"
	"civicpulse-be/reputation"
	"civicpulse-be/routes"
	"civicpulse-be/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

const secret = "test-secret"

type app struct {
	router *gin.Engine
	store  *store.IssueStore
}

func newApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l, _ := logtest.NewNullLogger()
	b := backend.NewMemory()
	inbox := notify.NewInbox(b, nil, "")
	ledger := reputation.NewLedger(b, inbox)
	s := store.New(b, ledger, store.Options{Timeout: 2 * time.Second, Logger: logrus.NewEntry(l)})

	r := routes.SetupRoutes(routes.Deps{
		Auth:          controllers.NewAuthController(b, ledger, secret),
		Issues:        controllers.NewIssueController(s),
		Notifications: controllers.NewNotificationController(inbox),
		RequireUser:   middlewares.AuthMiddleware(secret),
	})
	return &app{router: r, store: s}
}

func (a *app) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *app) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

// signUp registers and logs in a user, returning its token and id.
func (a *app) signUp(t *testing.T, name, email string) (string, string) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"name": name, "email": email, "password": "secret123"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = a.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": email, "password": "secret123"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	decode(t, w, &resp)
	return resp.Token, resp.User.ID
}

func (a *app) file(t *testing.T, token string, body gin.H) models.Issue {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/issues", token, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var issue models.Issue
	decode(t, w, &issue)
	return issue
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func waterIssue() gin.H {
	return gin.H{
		"title":       "Burst main",
		"description": "Water everywhere",
		"category":    "Water",
		"location":    "5th street",
		"latitude":    27.7,
		"longitude":   85.3,
	}
}

// ============================================================================
// Auth
// ============================================================================

func TestAuthFlow(t *testing.T) {
	a := newApp(t)
	token, id := a.signUp(t, "Asha", "asha@example.com")

	w := a.do(t, http.MethodGet, "/api/auth/me", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var me models.User
	decode(t, w, &me)
	if me.ID != id || me.Rank != "Newcomer" || me.CivicID == "" {
		t.Errorf("unexpected profile %+v", me)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("password")) {
		t.Error("expected password hash to stay out of responses")
	}

	if w := a.do(t, http.MethodGet, "/api/auth/me", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
}

func TestAuth_DuplicateAndBadCredentials(t *testing.T) {
	a := newApp(t)
	a.signUp(t, "Asha", "asha@example.com")

	w := a.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"name": "Other", "email": "ASHA@example.com", "password": "secret123"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected duplicate email to be rejected, got %d", w.Code)
	}

	w = a.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "asha@example.com", "password": "wrong-pass"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	w = a.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "nobody@example.com", "password": "secret123"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

// ============================================================================
// Issues
// ============================================================================

func TestCreateIssue(t *testing.T) {
	a := newApp(t)
	token, id := a.signUp(t, "Asha", "asha@example.com")

	if w := a.do(t, http.MethodPost, "/api/issues", "", waterIssue()); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, "/api/issues", token, gin.H{"title": "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing fields, got %d", w.Code)
	}

	issue := a.file(t, token, waterIssue())
	if issue.ReportedBy != id || issue.Status != models.Open || issue.Priority != priority.Medium {
		t.Errorf("unexpected issue %+v", issue)
	}

	// Visible before the backend create settles.
	w := a.do(t, http.MethodGet, "/api/issues/"+issue.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for the local id, got %d", w.Code)
	}

	a.drain(t)
	w = a.do(t, http.MethodGet, "/api/notifications", token, nil)
	var inbox struct {
		Notifications []models.Notification `json:"notifications"`
		Unread        int                   `json:"unread"`
	}
	decode(t, w, &inbox)
	if len(inbox.Notifications) != 1 || inbox.Notifications[0].Kind != models.RewardNotification {
		t.Errorf("expected a reward notice, got %+v", inbox.Notifications)
	}
	if inbox.Unread != 1 {
		t.Errorf("expected 1 unread, got %d", inbox.Unread)
	}
}

func TestUpvoteIssue(t *testing.T) {
	a := newApp(t)
	reporter, _ := a.signUp(t, "Asha", "asha@example.com")
	voter, _ := a.signUp(t, "Ravi", "ravi@example.com")

	issue := a.file(t, reporter, waterIssue())
	a.drain(t)

	w := a.do(t, http.MethodGet, "/api/issues/mine", reporter, nil)
	var mine struct {
		Issues []models.Issue `json:"issues"`
	}
	decode(t, w, &mine)
	if len(mine.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(mine.Issues))
	}
	id := mine.Issues[0].ID
	if id == issue.ID {
		t.Fatalf("expected a backend id after drain, still %s", id)
	}

	w = a.do(t, http.MethodPost, "/api/issues/"+id+"/upvote", voter, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = a.do(t, http.MethodPost, "/api/issues/"+id+"/upvote", voter, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for a repeat vote, got %d", w.Code)
	}
	var resp struct {
		Outcome string       `json:"outcome"`
		Issue   models.Issue `json:"issue"`
	}
	decode(t, w, &resp)
	if resp.Outcome != "already_actioned" || resp.Issue.Upvotes != 1 {
		t.Errorf("unexpected response %+v", resp)
	}

	if w := a.do(t, http.MethodPost, "/api/issues/000000000000000000000000/upvote", voter, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListIssues_SortAndFilter(t *testing.T) {
	a := newApp(t)
	token, _ := a.signUp(t, "Asha", "asha@example.com")

	a.file(t, token, gin.H{"title": "Tag on wall", "description": "d", "category": "Graffiti", "location": "park"})
	a.file(t, token, gin.H{"title": "Live wire", "description": "d", "category": "Electrical", "location": "mall"})
	a.file(t, token, waterIssue())
	a.drain(t)

	w := a.do(t, http.MethodGet, "/api/issues?sort=priority", "", nil)
	var resp struct {
		Issues []models.Issue `json:"issues"`
	}
	decode(t, w, &resp)
	if len(resp.Issues) != 3 {
		t.Fatalf("expected 3 issues, got %d", len(resp.Issues))
	}
	want := []priority.Tier{priority.High, priority.Medium, priority.Low}
	for i, tier := range want {
		if resp.Issues[i].Priority != tier {
			t.Errorf("position %d: expected %s, got %s", i, tier, resp.Issues[i].Priority)
		}
	}

	w = a.do(t, http.MethodGet, "/api/issues?category=Water", "", nil)
	decode(t, w, &resp)
	if len(resp.Issues) != 1 || resp.Issues[0].Category != "Water" {
		t.Errorf("expected only the water issue, got %+v", resp.Issues)
	}

	if w := a.do(t, http.MethodGet, "/api/issues?sort=oldest", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown sort, got %d", w.Code)
	}

	w = a.do(t, http.MethodGet, "/api/issues/map", "", nil)
	var markers struct {
		Markers []controllers.MapMarker `json:"markers"`
	}
	decode(t, w, &markers)
	if len(markers.Markers) != 1 {
		t.Errorf("expected only the located issue on the map, got %d", len(markers.Markers))
	}
}

func TestUpdateAndStatus(t *testing.T) {
	a := newApp(t)
	reporter, _ := a.signUp(t, "Asha", "asha@example.com")
	other, _ := a.signUp(t, "Ravi", "ravi@example.com")

	issue := a.file(t, reporter, waterIssue())
	path := "/api/issues/" + issue.ID

	if w := a.do(t, http.MethodPut, path, other, gin.H{"title": "Mine now"}); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-reporter edit, got %d", w.Code)
	}

	w := a.do(t, http.MethodPut, path, reporter, gin.H{"category": "Flood"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var updated models.Issue
	decode(t, w, &updated)
	if updated.Priority != priority.High {
		t.Errorf("expected category change to raise priority, got %s", updated.Priority)
	}

	if w := a.do(t, http.MethodPatch, path+"/status", reporter, gin.H{"status": "closed"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPatch, path+"/status", reporter, gin.H{"status": "deleted"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for deleted via PATCH, got %d", w.Code)
	}
	w = a.do(t, http.MethodPatch, path+"/status", reporter, gin.H{"status": "resolved"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	decode(t, w, &updated)
	if updated.Status != models.Resolved {
		t.Errorf("expected resolved, got %s", updated.Status)
	}
	a.drain(t)
}

func TestDeleteIssue(t *testing.T) {
	a := newApp(t)
	reporter, _ := a.signUp(t, "Asha", "asha@example.com")
	actor, _ := a.signUp(t, "Ravi", "ravi@example.com")

	a.file(t, reporter, waterIssue())
	a.drain(t)

	w := a.do(t, http.MethodGet, "/api/issues", "", nil)
	var list struct {
		Issues []models.Issue `json:"issues"`
	}
	decode(t, w, &list)
	id := list.Issues[0].ID

	if w := a.do(t, http.MethodDelete, "/api/issues/"+id, actor, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	decode(t, a.do(t, http.MethodGet, "/api/issues", "", nil), &list)
	if len(list.Issues) != 0 {
		t.Errorf("expected deleted issue to leave the list, got %d", len(list.Issues))
	}

	w = a.do(t, http.MethodGet, "/api/issues/"+id, "", nil)
	var got models.Issue
	decode(t, w, &got)
	if w.Code != http.StatusOK || got.Status != models.Deleted {
		t.Errorf("expected direct get to return the deleted issue, got %d %s", w.Code, got.Status)
	}

	w = a.do(t, http.MethodPost, "/api/issues/"+id+"/upvote", actor, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 when voting on a deleted issue, got %d: %s", w.Code, w.Body.String())
	}

	var dash struct {
		Dashboard store.Dashboard `json:"dashboard"`
		Degraded  bool            `json:"degraded"`
	}
	decode(t, a.do(t, http.MethodGet, "/api/issues/dashboard", "", nil), &dash)
	if dash.Degraded || dash.Dashboard.Total != 0 || dash.Dashboard.ResolvedRate != "0%" {
		t.Errorf("unexpected dashboard %+v", dash)
	}

	var inbox struct {
		Notifications []models.Notification `json:"notifications"`
	}
	decode(t, a.do(t, http.MethodGet, "/api/notifications", actor, nil), &inbox)
	if len(inbox.Notifications) != 1 || inbox.Notifications[0].Kind != models.PenaltyNotification {
		t.Errorf("expected a penalty notice for the actor, got %+v", inbox.Notifications)
	}
}

func TestGetIssue_NotFound(t *testing.T) {
	a := newApp(t)
	if w := a.do(t, http.MethodGet, "/api/issues/local-missing", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestPing(t *testing.T) {
	a := newApp(t)
	if w := a.do(t, http.MethodGet, "/ping", "", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
