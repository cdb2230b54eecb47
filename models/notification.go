package models

import "time"

// NotificationKind enum
type NotificationKind string

const (
	RewardNotification  NotificationKind = "reward"
	PenaltyNotification NotificationKind = "penalty"
)

// Notification is an inbox entry for a user.
type Notification struct {
	ID        string           `bson:"_id,omitempty" json:"id"`
	UserID    string           `bson:"userId" json:"userId"`
	Kind      NotificationKind `bson:"kind" json:"kind"`
	Title     string           `bson:"title" json:"title"`
	Message   string           `bson:"message" json:"message"`
	IssueID   string           `bson:"issueId,omitempty" json:"issueId,omitempty"`
	Points    int              `bson:"points" json:"points"`
	Read      bool             `bson:"read" json:"read"`
	CreatedAt time.Time        `bson:"createdAt" json:"createdAt"`
}
