package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"civicpulse-be/logger"
	"civicpulse-be/middlewares"
	"civicpulse-be/models"
	"civicpulse-be/priority"
	"civicpulse-be/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// IssueStore is the store surface the handlers need.
type IssueStore interface {
	Submit(ctx context.Context, in store.SubmitInput) models.Issue
	Get(ctx context.Context, ref models.IssueRef) (models.Issue, error)
	List(ctx context.Context, opts store.ListOptions) []models.Issue
	Upvote(ctx context.Context, ref models.IssueRef, userID string) (store.UpvoteResult, error)
	ChangeStatus(ctx context.Context, ref models.IssueRef, status models.IssueStatus) (models.Issue, error)
	UpdateDetails(ctx context.Context, ref models.IssueRef, c store.Changes) (models.Issue, error)
	SoftDelete(ctx context.Context, ref models.IssueRef, actorID string) (models.Issue, error)
	DashboardCounts(ctx context.Context) (store.Dashboard, error)
}

type IssueController struct {
	Store IssueStore
	Log   *logrus.Entry
}

func NewIssueController(s IssueStore) *IssueController {
	return &IssueController{Store: s, Log: logger.WithComponent("issue_controller")}
}

// MapMarker is the slim projection used by the map view.
type MapMarker struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Category  string             `json:"category"`
	Priority  priority.Tier      `json:"priority"`
	Status    models.IssueStatus `json:"status"`
	Upvotes   int                `json:"upvotes"`
	Latitude  float64            `json:"latitude"`
	Longitude float64            `json:"longitude"`
}

// CreateIssue files a new issue for the authenticated user. The response
// carries the local record; it is visible to readers straight away.
func (ic *IssueController) CreateIssue(c *gin.Context) {
	userID, ok := middlewares.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input struct {
		Title       string   `json:"title" binding:"required,max=200"`
		Description string   `json:"description" binding:"required,max=1000"`
		Category    string   `json:"category" binding:"required,max=100"`
		Location    string   `json:"location" binding:"required,max=200"`
		ImageURL    *string  `json:"imageUrl,omitempty"`
		Latitude    *float64 `json:"latitude,omitempty" binding:"omitempty,latitude"`
		Longitude   *float64 `json:"longitude,omitempty" binding:"omitempty,longitude"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	issue := ic.Store.Submit(c.Request.Context(), store.SubmitInput{
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Category:    strings.TrimSpace(input.Category),
		Location:    strings.TrimSpace(input.Location),
		ImageURL:    input.ImageURL,
		Latitude:    input.Latitude,
		Longitude:   input.Longitude,
		ReportedBy:  userID,
	})

	c.JSON(http.StatusCreated, issue)
}

// GetAllIssues lists non-deleted issues, newest first or by priority.
func (ic *IssueController) GetAllIssues(c *gin.Context) {
	opts := store.ListOptions{}
	if category := c.Query("category"); category != "" && category != "all" {
		opts.Category = category
	}

	issues := ic.Store.List(c.Request.Context(), opts)

	switch c.DefaultQuery("sort", "newest") {
	case "newest":
	case "priority":
		store.SortByPriority(issues)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sort, expected newest or priority"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"issues":      issues,
		"totalIssues": len(issues),
	})
}

// GetMyIssues lists the authenticated user's non-deleted issues.
func (ic *IssueController) GetMyIssues(c *gin.Context) {
	userID, ok := middlewares.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	issues := ic.Store.List(c.Request.Context(), store.ListOptions{ReportedBy: userID})
	c.JSON(http.StatusOK, gin.H{
		"issues":      issues,
		"totalIssues": len(issues),
	})
}

// GetIssueMap returns markers for issues with coordinates.
func (ic *IssueController) GetIssueMap(c *gin.Context) {
	issues := ic.Store.List(c.Request.Context(), store.ListOptions{})

	markers := make([]MapMarker, 0, len(issues))
	for _, issue := range issues {
		if !issue.Located() {
			continue
		}
		markers = append(markers, MapMarker{
			ID:        issue.ID,
			Title:     issue.Title,
			Category:  issue.Category,
			Priority:  issue.Priority,
			Status:    issue.Status,
			Upvotes:   issue.Upvotes,
			Latitude:  *issue.Latitude,
			Longitude: *issue.Longitude,
		})
	}
	c.JSON(http.StatusOK, gin.H{"markers": markers})
}

// GetDashboard reports aggregate counts. A backend outage degrades to
// zeros rather than failing the page.
func (ic *IssueController) GetDashboard(c *gin.Context) {
	d, err := ic.Store.DashboardCounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"dashboard": d, "degraded": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dashboard": d, "degraded": false})
}

// GetIssue returns one issue, including soft-deleted ones.
func (ic *IssueController) GetIssue(c *gin.Context) {
	ref, ok := ic.issueRef(c)
	if !ok {
		return
	}

	issue, err := ic.Store.Get(c.Request.Context(), ref)
	if err != nil {
		ic.respondError(c, ref, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

// UpdateIssue edits title, description or category. Only the reporter
// may edit.
func (ic *IssueController) UpdateIssue(c *gin.Context) {
	userID, ok := middlewares.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	ref, ok := ic.issueRef(c)
	if !ok {
		return
	}

	var input struct {
		Title       *string `json:"title,omitempty" binding:"omitempty,min=1,max=200"`
		Description *string `json:"description,omitempty" binding:"omitempty,min=1,max=1000"`
		Category    *string `json:"category,omitempty" binding:"omitempty,min=1,max=100"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	current, err := ic.Store.Get(c.Request.Context(), ref)
	if err != nil {
		ic.respondError(c, ref, err)
		return
	}
	if current.ReportedBy != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not authorized to update this issue"})
		return
	}

	issue, err := ic.Store.UpdateDetails(c.Request.Context(), ref, store.Changes{
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
	})
	if err != nil {
		ic.respondError(c, ref, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

// UpdateIssueStatus moves an issue between open, in_progress and
// resolved. Deletion goes through DeleteIssue.
func (ic *IssueController) UpdateIssueStatus(c *gin.Context) {
	ref, ok := ic.issueRef(c)
	if !ok {
		return
	}

	var input struct {
		Status models.IssueStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !input.Status.Valid() || input.Status == models.Deleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}

	issue, err := ic.Store.ChangeStatus(c.Request.Context(), ref, input.Status)
	if err != nil {
		ic.respondError(c, ref, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

// DeleteIssue soft-deletes an issue and penalizes the acting user.
func (ic *IssueController) DeleteIssue(c *gin.Context) {
	userID, ok := middlewares.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	ref, ok := ic.issueRef(c)
	if !ok {
		return
	}

	issue, err := ic.Store.SoftDelete(c.Request.Context(), ref, userID)
	if err != nil {
		ic.respondError(c, ref, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Issue deleted successfully",
		"issue":   issue,
	})
}

// UpvoteIssue records the user's upvote. A repeat vote or a vote on a
// deleted issue gets 409.
func (ic *IssueController) UpvoteIssue(c *gin.Context) {
	userID, ok := middlewares.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	ref, ok := ic.issueRef(c)
	if !ok {
		return
	}

	result, err := ic.Store.Upvote(c.Request.Context(), ref, userID)
	if err != nil {
		ic.respondError(c, ref, err)
		return
	}

	status := http.StatusOK
	if !result.Applied() {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{
		"outcome": result.Outcome.String(),
		"synced":  result.Synced,
		"issue":   result.Issue,
	})
}

func (ic *IssueController) issueRef(c *gin.Context) (models.IssueRef, bool) {
	ref, err := models.ParseRef(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid issue ID"})
		return nil, false
	}
	return ref, true
}

func (ic *IssueController) respondError(c *gin.Context, ref models.IssueRef, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
		return
	}
	if errors.Is(err, store.ErrDeleted) {
		c.JSON(http.StatusConflict, gin.H{"error": "Issue has been deleted"})
		return
	}
	ic.Log.WithFields(logrus.Fields{
		"issue_ref": ref.String(),
		"error":     err.Error(),
	}).Error("Issue request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process issue"})
}
