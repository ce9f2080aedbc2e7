// Package accounts implements login, logout and the caller's profile.
package accounts

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/api-monitor/api-monitor/internal/db/repositories"
	"github.com/api-monitor/api-monitor/internal/identity"
	"github.com/api-monitor/api-monitor/internal/middleware"
	"github.com/gin-gonic/gin"
)

// UserStore is the slice of the user repository these handlers need
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateProfile(ctx context.Context, user *models.User) error
}

// TokenIssuer signs access tokens
type TokenIssuer interface {
	Issue(userID, username string) (string, time.Time, error)
}

// Handlers serves /api/auth and /api/me
type Handlers struct {
	users  UserStore
	tokens TokenIssuer
}

// NewHandlers creates account handlers
func NewHandlers(users UserStore, tokens TokenIssuer) *Handlers {
	return &Handlers{users: users, tokens: tokens}
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginHandler exchanges credentials for an access token
// POST /api/auth/login
func (h *Handlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		user, err := identity.Authenticate(c.Request.Context(), h.users, req.Username, req.Password)
		if errors.Is(err, identity.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		if err != nil {
			_ = c.Error(err)
			return
		}

		token, expiresAt, err := h.tokens.Issue(user.ID, user.Username)
		if err != nil {
			_ = c.Error(err)
			return
		}

		// The activity layer reads the principal after the handler returns
		c.Set(middleware.UserKey, user)
		c.Set(middleware.UserIDKey, user.ID)

		c.JSON(http.StatusOK, gin.H{
			"access":     token,
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
			"user":       user,
		})
	}
}

// LogoutHandler acknowledges a logout. Tokens are stateless and expire on their own.
// POST /api/auth/logout
func (h *Handlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"detail": "Logged out"})
	}
}

// GetProfileHandler returns the caller's account
// GET /api/me/profile
func (h *Handlers) GetProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, middleware.CurrentUser(c))
	}
}

// ProfileRequest is the body of PUT and PATCH /api/me/profile. PUT replaces all
// three fields; PATCH changes only the ones present.
type ProfileRequest struct {
	Email     *string `json:"email" binding:"omitempty,email"`
	FirstName *string `json:"first_name" binding:"omitempty,max=150"`
	LastName  *string `json:"last_name" binding:"omitempty,max=150"`
}

// UpdateProfileHandler updates the caller's profile. partial selects PATCH semantics.
// PUT|PATCH /api/me/profile
func (h *Handlers) UpdateProfileHandler(partial bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		updated := *middleware.CurrentUser(c)
		apply := func(dst *string, v *string) {
			switch {
			case v != nil:
				*dst = *v
			case !partial:
				*dst = ""
			}
		}
		apply(&updated.Email, req.Email)
		apply(&updated.FirstName, req.FirstName)
		apply(&updated.LastName, req.LastName)

		if err := h.users.UpdateProfile(c.Request.Context(), &updated); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
				return
			}
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, &updated)
	}
}
