// Package middleware provides the Gin middleware of the monitor: the two-layer request
// auditing chain (error capture outside, activity recording inside), bearer-token
// authentication, admin authorization, rate limiting, security headers, CORS, request
// IDs, request logging and Prometheus metrics.
//
// Registration order is fixed in internal/api/router.go:
//
//	Recovery → RequestID → Logger → Metrics → Security/CORS → ErrorLogging → ActivityLogging → OptionalAuth → RateLimit → Auth → Handler
//
// RateLimit and Auth run inside the auditing layers, so a throttled request or a rejected
// token still produces an activity record. CORS preflights stop before them. The
// auditing layers read the principal after the handler chain has run, when Auth has
// already stored it.
package middleware

import (
	"github.com/api-monitor/api-monitor/internal/audit"
	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/gin-gonic/gin"
)

// Context keys shared between middleware and handlers
const (
	UserKey    = "user"
	UserIDKey  = "user_id"
	FailureKey = "failure"
)

// CurrentUser returns the authenticated user, or nil for anonymous requests
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

// requestContext collects what the recorder stores about the current request
func requestContext(c *gin.Context) audit.RequestContext {
	rc := audit.RequestContext{
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if id := c.GetString(UserIDKey); id != "" {
		rc.Principal = &id
	}
	return rc
}
