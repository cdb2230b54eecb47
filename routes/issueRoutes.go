package routes

import (
	"civicpulse-be/controllers"

	"github.com/gin-gonic/gin"
)

// IssueLimits are the per-route limiters. Nil entries are skipped.
type IssueLimits struct {
	Submit gin.HandlerFunc
	Upvote gin.HandlerFunc
}

// IssueRoutes sets up the issue routes
func IssueRoutes(r *gin.RouterGroup, issues *controllers.IssueController, requireUser gin.HandlerFunc, limits IssueLimits) {
	group := r.Group("/issues")
	{
		group.POST("", chain(requireUser, limits.Submit, issues.CreateIssue)...)
		group.GET("", issues.GetAllIssues)
		group.GET("/mine", requireUser, issues.GetMyIssues)
		group.GET("/map", issues.GetIssueMap)
		group.GET("/dashboard", issues.GetDashboard)

		group.GET("/:id", issues.GetIssue)
		group.PUT("/:id", requireUser, issues.UpdateIssue)
		group.DELETE("/:id", requireUser, issues.DeleteIssue)
		group.PATCH("/:id/status", requireUser, issues.UpdateIssueStatus)
		group.POST("/:id/upvote", chain(requireUser, limits.Upvote, issues.UpvoteIssue)...)
	}
}

func chain(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}
