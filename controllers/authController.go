package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"civicpulse-be/backend"
	"civicpulse-be/logger"
	"civicpulse-be/middlewares"
	"civicpulse-be/models"
	"civicpulse-be/reputation"
	authUtils "civicpulse-be/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProfileReader loads a user profile by id.
type ProfileReader interface {
	Profile(ctx context.Context, userID string) (*models.User, error)
}

// AuthController handles registration, login and the session cookie.
type AuthController struct {
	Backend    backend.Backend
	Profiles   ProfileReader
	Secret     string
	Domain     string
	Production bool
	Timeout    time.Duration
	Log        *logrus.Entry
}

func NewAuthController(b backend.Backend, p ProfileReader, secret string) *AuthController {
	return &AuthController{
		Backend:  b,
		Profiles: p,
		Secret:   secret,
		Timeout:  10 * time.Second,
		Log:      logger.WithComponent("auth_controller"),
	}
}

// RegisterUser handles user registration
func (a *AuthController) RegisterUser(c *gin.Context) {
	var input struct {
		Name     string `json:"name" binding:"required,max=50"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=6"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.Timeout)
	defer cancel()

	count, err := a.Backend.Count(ctx, backend.Users, backend.Filter{backend.Eq("email", email)})
	if err != nil {
		a.Log.WithField("error", err.Error()).Error("Error checking existing user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}
	if count > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User with this email already exists"})
		return
	}

	now := time.Now()
	user := models.User{
		Name:      input.Name,
		Email:     email,
		Password:  input.Password,
		CivicID:   "CIV-" + strings.ToUpper(uuid.NewString()[:8]),
		Rank:      reputation.RankFor(0),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := user.HashPassword(); err != nil {
		a.Log.WithField("error", err.Error()).Error("Error hashing password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}

	id, err := a.Backend.Create(ctx, backend.Users, user)
	if err != nil {
		a.Log.WithField("error", err.Error()).Error("Error inserting user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}
	user.ID = id

	c.JSON(http.StatusCreated, user)
}

// LoginUser handles user login
func (a *AuthController) LoginUser(c *gin.Context) {
	var input struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.Timeout)
	defer cancel()

	docs, err := a.Backend.Query(ctx, backend.Users, backend.Filter{
		backend.Eq("email", strings.ToLower(strings.TrimSpace(input.Email))),
	})
	if err != nil {
		a.Log.WithField("error", err.Error()).Error("Error looking up user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}

	var user models.User
	if len(docs) == 0 || backend.Decode(docs[0], &user) != nil || !user.ComparePassword(input.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := authUtils.GenerateToken(a.Secret, user.ID)
	if err != nil {
		a.Log.WithField("error", err.Error()).Error("Error generating token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}

	// Cross-origin cookies in production must not pin a domain.
	domain := a.Domain
	if a.Production {
		domain = ""
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     middlewares.AuthCookie,
		Value:    token,
		MaxAge:   int(authUtils.TokenTTL.Seconds()),
		Path:     "/",
		Domain:   domain,
		Secure:   a.Production,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	})

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  user,
	})
}

// GetMe retrieves the authenticated user's profile
func (a *AuthController) GetMe(c *gin.Context) {
	userID, ok := middlewares.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.Timeout)
	defer cancel()

	user, err := a.Profiles.Profile(ctx, userID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		a.Log.WithField("error", err.Error()).Error("Error loading profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}

	c.JSON(http.StatusOK, user)
}

// LogoutUser clears the auth cookie
func (a *AuthController) LogoutUser(c *gin.Context) {
	c.SetCookie(middlewares.AuthCookie, "", -1, "/", a.Domain, a.Production, true)
	c.JSON(http.StatusOK, gin.H{
		"message": "Logged out successfully",
	})
}
