package audit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/api-monitor/api-monitor/internal/db/repositories"
	"github.com/google/uuid"
)

// LogReader is the read side of the record store
type LogReader interface {
	ListActivityLogs(ctx context.Context, filters repositories.LogFilters, limit, offset int) ([]*models.ActivityLog, int, error)
	ListErrorLogs(ctx context.Context, filters repositories.LogFilters, limit, offset int) ([]*models.ErrorLog, int, error)
	CountActivityByAction(ctx context.Context) ([]models.ActionCount, error)
	CountErrorsByDay(ctx context.Context, zone string) ([]models.DailyCount, error)
}

// Stats is the aggregate view served by the stats endpoint
type Stats struct {
	ByAction    []models.ActionCount `json:"by_action"`
	DailyErrors []models.DailyCount  `json:"daily_errors"`
}

// Page selects a window of a listing. A zero PerPage means every record.
type Page struct {
	Page    int
	PerPage int
}

func (p Page) limitOffset() (int, int) {
	if p.PerPage <= 0 {
		return 0, 0
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	return p.PerPage, (page - 1) * p.PerPage
}

// QueryEngine serves filtered listings, exports and aggregates over stored records.
// It does no authorization of its own; callers check admin access first.
type QueryEngine struct {
	reader LogReader
	loc    *time.Location
}

// QueryOption configures a QueryEngine
type QueryOption func(*QueryEngine)

// WithLocation sets the reporting zone used for date-only filter bounds and for the
// calendar days of the error stats. loc must carry an IANA name the database knows.
func WithLocation(loc *time.Location) QueryOption {
	return func(q *QueryEngine) {
		if loc != nil {
			q.loc = loc
		}
	}
}

// NewQueryEngine creates a QueryEngine reporting in UTC unless WithLocation says otherwise
func NewQueryEngine(reader LogReader, opts ...QueryOption) *QueryEngine {
	q := &QueryEngine{reader: reader, loc: time.UTC}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ParseFilters reads listing filters from query in the engine's reporting zone
func (q *QueryEngine) ParseFilters(query url.Values, withAction bool) (repositories.LogFilters, error) {
	return ParseFilters(query, withAction, q.loc)
}

// ListActivity returns one page of activity records, newest first, and the total match count
func (q *QueryEngine) ListActivity(ctx context.Context, filters repositories.LogFilters, page Page) ([]*models.ActivityLog, int, error) {
	limit, offset := page.limitOffset()
	return q.reader.ListActivityLogs(ctx, filters, limit, offset)
}

// ListErrors returns one page of error records, newest first, and the total match count
func (q *QueryEngine) ListErrors(ctx context.Context, filters repositories.LogFilters, page Page) ([]*models.ErrorLog, int, error) {
	limit, offset := page.limitOffset()
	return q.reader.ListErrorLogs(ctx, filters, limit, offset)
}

// ExportActivity renders every activity record matching filters
func (q *QueryEngine) ExportActivity(ctx context.Context, filters repositories.LogFilters, format ExportFormat) (*Export, error) {
	logs, _, err := q.reader.ListActivityLogs(ctx, filters, 0, 0)
	if err != nil {
		return nil, err
	}
	return renderActivity(logs, format)
}

// ExportErrors renders every error record matching filters
func (q *QueryEngine) ExportErrors(ctx context.Context, filters repositories.LogFilters, format ExportFormat) (*Export, error) {
	logs, _, err := q.reader.ListErrorLogs(ctx, filters, 0, 0)
	if err != nil {
		return nil, err
	}
	return renderErrors(logs, format)
}

// Stats counts activity by action (most frequent first) and errors by calendar day in
// the reporting zone (oldest first)
func (q *QueryEngine) Stats(ctx context.Context) (*Stats, error) {
	byAction, err := q.reader.CountActivityByAction(ctx)
	if err != nil {
		return nil, err
	}
	daily, err := q.reader.CountErrorsByDay(ctx, q.loc.String())
	if err != nil {
		return nil, err
	}
	if byAction == nil {
		byAction = []models.ActionCount{}
	}
	if daily == nil {
		daily = []models.DailyCount{}
	}
	return &Stats{ByAction: byAction, DailyErrors: daily}, nil
}

// FilterError reports a query parameter that could not be parsed
type FilterError struct {
	Param string
	Value string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Param, e.Value)
}

const dateOnly = "2006-01-02"

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseBound parses a date_from/date_to value. Values without an offset are read in
// loc; a bare date used as the upper bound extends to the last instant of that day.
func parseBound(raw string, upper bool, loc *time.Location) (time.Time, bool) {
	if t, err := time.ParseInLocation(dateOnly, raw, loc); err == nil {
		if upper {
			t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
		}
		return t, true
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseFilters reads user_id, action, date_from and date_to from query, reading dates
// without an offset in loc. action is only accepted when withAction is set. Empty
// parameters are ignored; malformed ones return a *FilterError.
func ParseFilters(query url.Values, withAction bool, loc *time.Location) (repositories.LogFilters, error) {
	var f repositories.LogFilters

	if v := strings.TrimSpace(query.Get("user_id")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, &FilterError{Param: "user_id", Value: v}
		}
		s := id.String()
		f.UserID = &s
	}

	if withAction {
		if v := strings.TrimSpace(query.Get("action")); v != "" {
			a := models.Action(v)
			if !a.Valid() {
				return f, &FilterError{Param: "action", Value: v}
			}
			f.Action = &a
		}
	}

	if v := strings.TrimSpace(query.Get("date_from")); v != "" {
		t, ok := parseBound(v, false, loc)
		if !ok {
			return f, &FilterError{Param: "date_from", Value: v}
		}
		f.DateFrom = &t
	}

	if v := strings.TrimSpace(query.Get("date_to")); v != "" {
		t, ok := parseBound(v, true, loc)
		if !ok {
			return f, &FilterError{Param: "date_to", Value: v}
		}
		f.DateTo = &t
	}

	return f, nil
}
