package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/api-monitor/api-monitor/internal/audit"
	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/gin-gonic/gin"
)

// maxCapturedBody is the largest request body parsed into a record's extra field
const maxCapturedBody = 64 << 10

// Failure is an unhandled failure captured by the activity layer for the error layer
type Failure struct {
	Message string
	Stack   string
}

// ActivityRecorder stores activity records
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, rc audit.RequestContext, action models.Action, status int, extra map[string]any)
}

// ActivityOptions controls request body capture
type ActivityOptions struct {
	LogRequestBody bool
	Sanitizer      *audit.Sanitizer
}

// ActivityLoggingMiddleware records exactly one activity record per request, after the
// handler chain has finished.
//
// A panic raised below this layer, or an error attached with c.Error by a handler that
// wrote nothing, is captured as a *Failure under FailureKey, recorded with status 500,
// and the chain is aborted. The response itself is left to ErrorLoggingMiddleware.
func ActivityLoggingMiddleware(rec ActivityRecorder, opts ActivityOptions) gin.HandlerFunc {
	sanitizer := opts.Sanitizer
	if sanitizer == nil {
		sanitizer = audit.NewSanitizer(nil)
	}

	return func(c *gin.Context) {
		var extra map[string]any
		if opts.LogRequestBody {
			extra = captureBody(c, sanitizer)
		}

		defer func() {
			status := c.Writer.Status()
			var failure *Failure

			if p := recover(); p != nil {
				failure = failureFromPanic(p, debug.Stack())
			} else if len(c.Errors) > 0 && !c.Writer.Written() {
				failure = &Failure{Message: c.Errors.Last().Error(), Stack: string(debug.Stack())}
			}
			if failure != nil {
				status = http.StatusInternalServerError
				c.Set(FailureKey, failure)
			}

			action := audit.Classify(c.Request.Method, c.Request.URL.Path)
			rec.RecordActivity(c.Request.Context(), requestContext(c), action, status, extra)

			if failure != nil {
				c.Abort()
			}
		}()

		c.Next()
	}
}

// failureFromPanic turns a recovered value into a Failure
func failureFromPanic(p any, stack []byte) *Failure {
	var msg string
	switch v := p.(type) {
	case error:
		msg = v.Error()
	case string:
		msg = v
	default:
		msg = fmt.Sprint(v)
	}
	if msg == "" {
		msg = fmt.Sprintf("%T", p)
	}
	return &Failure{Message: msg, Stack: string(stack)}
}

// replayBody serves the bytes already read for capture, then the unread remainder
type replayBody struct {
	io.Reader
	io.Closer
}

// captureBody reads at most maxCapturedBody+1 bytes, puts them back in front of the
// unread remainder, and returns the sanitized JSON object form of a body that fit
// within the limit. Oversized, non-object and unparseable bodies yield nil.
func captureBody(c *gin.Context, sanitizer *audit.Sanitizer) map[string]any {
	if c.Request.Body == nil || !strings.Contains(c.ContentType(), "application/json") {
		return nil
	}

	orig := c.Request.Body
	prefix, err := io.ReadAll(io.LimitReader(orig, maxCapturedBody+1))
	c.Request.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(prefix), orig), Closer: orig}
	if err != nil || len(prefix) == 0 || len(prefix) > maxCapturedBody {
		return nil
	}

	var payload any
	if err := json.Unmarshal(prefix, &payload); err != nil {
		return nil
	}
	return sanitizer.Sanitize(payload)
}
