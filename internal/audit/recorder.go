package audit

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/api-monitor/api-monitor/internal/identity"
	"github.com/api-monitor/api-monitor/internal/safego"
	"github.com/api-monitor/api-monitor/internal/telemetry"
)

// Column limits of activity_logs / error_logs
const (
	maxMethodLength = 10
	maxPathLength   = 512
)

// ActivityStore persists activity records
type ActivityStore interface {
	CreateActivityLog(ctx context.Context, log *models.ActivityLog) error
}

// ErrorStore persists error records
type ErrorStore interface {
	CreateErrorLog(ctx context.Context, log *models.ErrorLog) error
}

// RequestContext is what the recorder needs to know about the request being audited
type RequestContext struct {
	Principal *string // authenticated user ID, nil for anonymous requests
	Method    string
	Path      string
	ClientIP  string
	UserAgent string
}

// Recorder is the fail-safe write path for activity and error records. A failing
// store is logged and counted, never returned: auditing must not change the
// outcome of the request being audited.
type Recorder struct {
	activities ActivityStore
	errors     ErrorStore
	shipper    Shipper
}

// NewRecorder creates a Recorder. shipper may be nil.
func NewRecorder(activities ActivityStore, errs ErrorStore, shipper Shipper) *Recorder {
	return &Recorder{activities: activities, errors: errs, shipper: shipper}
}

// RecordActivity stores one activity record. extra is the sanitized request payload
// and may be nil.
func (r *Recorder) RecordActivity(ctx context.Context, rc RequestContext, action models.Action, status int, extra map[string]any) {
	ctx = context.WithoutCancel(ctx)
	defer r.recoverDropped(telemetry.KindActivity)

	if !action.Valid() {
		action = models.ActionOther
	}

	log := &models.ActivityLog{
		UserID:     rc.Principal,
		Action:     action,
		Method:     truncateRunes(rc.Method, maxMethodLength),
		Path:       truncateRunes(rc.Path, maxPathLength),
		IPAddress:  normalizeIP(rc.ClientIP),
		UserAgent:  rc.UserAgent,
		StatusCode: status,
		Extra:      extra,
	}

	if err := r.activities.CreateActivityLog(ctx, log); err != nil {
		telemetry.AuditRecordsTotal.WithLabelValues(telemetry.KindActivity, telemetry.OutcomeDropped).Inc()
		slog.Warn("failed to record activity",
			"action", action,
			"method", rc.Method,
			"path", rc.Path,
			"status", status,
			"error", err,
		)
		return
	}

	telemetry.AuditRecordsTotal.WithLabelValues(telemetry.KindActivity, telemetry.OutcomeStored).Inc()
	r.ship(ctx, shippedActivity(log))
}

// RecordError stores one error record. stack is truncated to
// models.MaxStackTraceLength characters; a status of 0 is stored as NULL.
func (r *Recorder) RecordError(ctx context.Context, rc RequestContext, message, stack string, status int) {
	ctx = context.WithoutCancel(ctx)
	defer r.recoverDropped(telemetry.KindError)

	if message == "" {
		message = http.StatusText(http.StatusInternalServerError)
	}

	log := &models.ErrorLog{
		UserID:     rc.Principal,
		Message:    message,
		StackTrace: truncateRunes(stack, models.MaxStackTraceLength),
		Method:     truncateRunes(rc.Method, maxMethodLength),
		Endpoint:   truncateRunes(rc.Path, maxPathLength),
		IPAddress:  normalizeIP(rc.ClientIP),
		UserAgent:  rc.UserAgent,
	}
	if status > 0 {
		log.StatusCode = &status
	}

	if err := r.errors.CreateErrorLog(ctx, log); err != nil {
		telemetry.AuditRecordsTotal.WithLabelValues(telemetry.KindError, telemetry.OutcomeDropped).Inc()
		slog.Warn("failed to record error",
			"message", message,
			"method", rc.Method,
			"path", rc.Path,
			"error", err,
		)
		return
	}

	telemetry.AuditRecordsTotal.WithLabelValues(telemetry.KindError, telemetry.OutcomeStored).Inc()
	r.ship(ctx, shippedError(log))
}

// ObserveSession records login and logout events raised by identity flows that do
// not pass through the HTTP middleware chain. Subscribe it to identity.Events.
func (r *Recorder) ObserveSession(ctx context.Context, ev identity.SessionEvent) {
	action := models.ActionLogin
	if ev.Kind == identity.SessionLogout {
		action = models.ActionLogout
	}

	var principal *string
	if ev.UserID != "" {
		uid := ev.UserID
		principal = &uid
	}

	r.RecordActivity(ctx, RequestContext{
		Principal: principal,
		Method:    ev.Method,
		Path:      ev.Path,
		ClientIP:  ev.ClientIP,
		UserAgent: ev.UserAgent,
	}, action, http.StatusOK, nil)
}

func (r *Recorder) ship(ctx context.Context, rec *ShippedRecord) {
	if r.shipper == nil {
		return
	}
	safego.Go("ship-record", func() {
		if err := r.shipper.Ship(ctx, rec); err != nil {
			slog.Debug("record shipping failed", "record_id", rec.ID, "error", err)
		}
	})
}

func (r *Recorder) recoverDropped(kind string) {
	if p := recover(); p != nil {
		telemetry.AuditRecordsTotal.WithLabelValues(kind, telemetry.OutcomeDropped).Inc()
		slog.Warn("recovered panic while recording", "kind", kind, "panic", p)
	}
}

// normalizeIP returns nil for anything the INET column would reject
func normalizeIP(raw string) *string {
	ip := net.ParseIP(raw)
	if ip == nil {
		return nil
	}
	s := ip.String()
	return &s
}

// truncateRunes keeps the first n characters of s
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
