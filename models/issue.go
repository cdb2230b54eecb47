package models

import (
	"time"

	"civicpulse-be/priority"
)

// Categories offered by the reporting form. The engine also accepts
// free-form and legacy values such as "hazard" or "graffiti".
const (
	Infrastructure = "Infrastructure"
	Electrical     = "Electrical"
	Sanitation     = "Sanitation"
	Water          = "Water"
	Traffic        = "Traffic"
	Vandalism      = "Vandalism"
	Other          = "Other"
)

// IssueStatus enum
type IssueStatus string

const (
	Open       IssueStatus = "open"
	InProgress IssueStatus = "in_progress"
	Resolved   IssueStatus = "resolved"
	Deleted    IssueStatus = "deleted"
)

// Valid reports whether s is a known status.
func (s IssueStatus) Valid() bool {
	switch s {
	case Open, InProgress, Resolved, Deleted:
		return true
	}
	return false
}

// ReporterSnapshot is the reporter's standing at the moment the issue was
// filed. It is captured once and never refreshed from the live profile.
type ReporterSnapshot struct {
	Verified bool   `bson:"verified" json:"verified"`
	Rank     string `bson:"rank" json:"rank"`
	CivicID  string `bson:"civicId" json:"civicId"`
}

// Issue represents a civic issue reported by a user
type Issue struct {
	ID             string           `bson:"_id,omitempty" json:"id"`
	// LocalRef is the id the record was filed under before the backend
	// accepted it. It lets a retried create find its earlier attempt.
	LocalRef       string           `bson:"localRef,omitempty" json:"-"`
	Title          string           `bson:"title" json:"title"`
	Description    string           `bson:"description" json:"description"`
	Category       string           `bson:"category" json:"category"`
	Priority       priority.Tier    `bson:"priority" json:"priority"`
	PriorityReason string           `bson:"priorityReason" json:"priorityReason"`
	Upvotes        int              `bson:"upvotes" json:"upvotes"`
	LikedBy        []string         `bson:"likedBy" json:"likedBy"`
	Status         IssueStatus      `bson:"status" json:"status"`
	Location       string           `bson:"location" json:"location"`
	ImageURL       *string          `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	Latitude       *float64         `bson:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude      *float64         `bson:"longitude,omitempty" json:"longitude,omitempty"`
	ReportedBy     string           `bson:"reportedBy" json:"reportedBy"`
	Reporter       ReporterSnapshot `bson:"reporter" json:"reporter"`
	CreatedAt      time.Time        `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time        `bson:"updatedAt" json:"updatedAt"`
}

// Reprioritize recomputes Priority and PriorityReason from the current
// category and upvote count. Both fields are always written together.
func (i *Issue) Reprioritize() {
	i.Priority, i.PriorityReason = priority.Compute(i.Category, i.Upvotes)
}

// LikedByUser reports whether userID has already upvoted the issue.
func (i *Issue) LikedByUser(userID string) bool {
	for _, id := range i.LikedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Located reports whether the issue carries coordinates.
func (i *Issue) Located() bool {
	return i.Latitude != nil && i.Longitude != nil
}

// Clone returns a copy that shares no mutable state with i.
func (i Issue) Clone() Issue {
	c := i
	c.LikedBy = append(make([]string, 0, len(i.LikedBy)), i.LikedBy...)
	if i.ImageURL != nil {
		v := *i.ImageURL
		c.ImageURL = &v
	}
	if i.Latitude != nil {
		v := *i.Latitude
		c.Latitude = &v
	}
	if i.Longitude != nil {
		v := *i.Longitude
		c.Longitude = &v
	}
	return c
}
