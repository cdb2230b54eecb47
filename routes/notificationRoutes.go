package routes

import (
	"civicpulse-be/controllers"

	"github.com/gin-gonic/gin"
)

func NotificationRoutes(r *gin.RouterGroup, notifications *controllers.NotificationController, requireUser gin.HandlerFunc) {
	r.GET("/notifications", requireUser, notifications.GetNotifications)
}
