package routes

import (
	"civicpulse-be/controllers"

	"github.com/gin-gonic/gin"
)

// AuthRoutes sets up the authentication routes
func AuthRoutes(r *gin.RouterGroup, auth *controllers.AuthController, requireUser gin.HandlerFunc) {
	group := r.Group("/auth")
	{
		group.POST("/register", auth.RegisterUser)
		group.POST("/login", auth.LoginUser)
		group.GET("/me", requireUser, auth.GetMe)
		group.POST("/logout", auth.LogoutUser)
	}
}
