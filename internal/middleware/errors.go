package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/api-monitor/api-monitor/internal/audit"
	"github.com/gin-gonic/gin"
)

// ErrorRecorder stores error records
type ErrorRecorder interface {
	RecordError(ctx context.Context, rc audit.RequestContext, message, stack string, status int)
}

// CriticalNotifier starts an alert without waiting for it
type CriticalNotifier interface {
	NotifyCritical(subject, text string)
}

// ErrorLoggingMiddleware is the outer auditing layer. After the chain returns it looks
// for a *Failure left by ActivityLoggingMiddleware, stores an error record, notifies
// administrators and answers
//
//	500 {"detail": "Internal Server Error", "error": "<message>"}
//
// A panic that escapes the inner layer is recovered and handled the same way, so the
// process never crashes on a handler failure. notifier may be nil.
func ErrorLoggingMiddleware(rec ErrorRecorder, notifier CriticalNotifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				handleFailure(c, rec, notifier, failureFromPanic(p, debug.Stack()))
			}
		}()

		c.Next()

		if v, ok := c.Get(FailureKey); ok {
			if f, ok := v.(*Failure); ok {
				handleFailure(c, rec, notifier, f)
			}
		}
	}
}

func handleFailure(c *gin.Context, rec ErrorRecorder, notifier CriticalNotifier, f *Failure) {
	rc := requestContext(c)
	rec.RecordError(c.Request.Context(), rc, f.Message, f.Stack, http.StatusInternalServerError)

	if notifier != nil {
		subject := fmt.Sprintf("Unhandled error on %s %s", rc.Method, rc.Path)
		notifier.NotifyCritical(subject, notificationText(c, rc, f))
	}

	if c.Writer.Written() {
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"detail": http.StatusText(http.StatusInternalServerError),
		"error":  f.Message,
	})
}

func notificationText(c *gin.Context, rc audit.RequestContext, f *Failure) string {
	user := "anonymous"
	if rc.Principal != nil {
		user = *rc.Principal
	}
	return fmt.Sprintf("%s\n\nuser: %s\nclient: %s\nrequest_id: %s",
		f.Message, user, rc.ClientIP, c.GetString(RequestIDKey))
}
