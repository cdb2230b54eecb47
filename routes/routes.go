package routes

import (
	"net/http"
	"strings"
	"time"

	"civicpulse-be/controllers"
	"civicpulse-be/logger"
	"civicpulse-be/middlewares"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Deps are the handlers and middleware the router wires together.
type Deps struct {
	Auth          *controllers.AuthController
	Issues        *controllers.IssueController
	Notifications *controllers.NotificationController
	RequireUser   gin.HandlerFunc
	Limits        IssueLimits
	CORSOrigin    string
}

// SetupRoutes builds the engine with every route under /api.
func SetupRoutes(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestLogger(logger.WithComponent("http")))
	r.Use(cors.New(corsConfig(d.CORSOrigin)))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	api := r.Group("/api")
	AuthRoutes(api, d.Auth, d.RequireUser)
	IssueRoutes(api, d.Issues, d.RequireUser, d.Limits)
	NotificationRoutes(api, d.Notifications, d.RequireUser)

	return r
}

func corsConfig(origin string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if origin == "" || origin == "*" {
		// Credentials cannot be combined with a literal wildcard.
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = strings.Split(origin, ",")
	}
	return cfg
}
