package controllers

import (
	"context"
	"net/http"

	"civicpulse-be/logger"
	"civicpulse-be/middlewares"
	"civicpulse-be/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// InboxReader lists a user's notifications.
type InboxReader interface {
	List(ctx context.Context, userID string) ([]models.Notification, error)
}

type NotificationController struct {
	Inbox InboxReader
	Log   *logrus.Entry
}

func NewNotificationController(inbox InboxReader) *NotificationController {
	return &NotificationController{Inbox: inbox, Log: logger.WithComponent("notification_controller")}
}

// GetNotifications returns the caller's reward and penalty notices.
func (nc *NotificationController) GetNotifications(c *gin.Context) {
	userID, ok := middlewares.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	notifications, err := nc.Inbox.List(c.Request.Context(), userID)
	if err != nil {
		nc.Log.WithField("error", err.Error()).Error("Failed to load notifications")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load notifications"})
		return
	}

	unread := 0
	for _, n := range notifications {
		if !n.Read {
			unread++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"unread":        unread,
	})
}
