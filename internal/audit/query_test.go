package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/api-monitor/api-monitor/internal/db/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listCall struct {
	filters       repositories.LogFilters
	limit, offset int
}

type fakeReader struct {
	activities []*models.ActivityLog
	errs       []*models.ErrorLog
	byAction   []models.ActionCount
	daily      []models.DailyCount
	fail       error

	calls []listCall
	zone  string
}

func (f *fakeReader) ListActivityLogs(_ context.Context, filters repositories.LogFilters, limit, offset int) ([]*models.ActivityLog, int, error) {
	f.calls = append(f.calls, listCall{filters, limit, offset})
	if f.fail != nil {
		return nil, 0, f.fail
	}
	return f.activities, len(f.activities), nil
}

func (f *fakeReader) ListErrorLogs(_ context.Context, filters repositories.LogFilters, limit, offset int) ([]*models.ErrorLog, int, error) {
	f.calls = append(f.calls, listCall{filters, limit, offset})
	if f.fail != nil {
		return nil, 0, f.fail
	}
	return f.errs, len(f.errs), nil
}

func (f *fakeReader) CountActivityByAction(context.Context) ([]models.ActionCount, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return f.byAction, nil
}

func (f *fakeReader) CountErrorsByDay(_ context.Context, zone string) ([]models.DailyCount, error) {
	f.zone = zone
	if f.fail != nil {
		return nil, f.fail
	}
	return f.daily, nil
}

var exportTime = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func sampleActivities() []*models.ActivityLog {
	return []*models.ActivityLog{
		{
			ID: "a2", Timestamp: exportTime, UserID: strp("user-1"), Action: models.ActionCreate,
			Method: "POST", Path: "/api/items/", IPAddress: strp("10.0.0.1"), StatusCode: 201,
		},
		{
			ID: "a1", Timestamp: exportTime.Add(-time.Hour), Action: models.ActionRead,
			Method: "GET", Path: "/api/items/, with comma", StatusCode: 200,
		},
	}
}

func readCSV(t *testing.T, body []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)
	return rows
}

// ---------------------------------------------------------------------------
// Listing
// ---------------------------------------------------------------------------

func TestQueryEngine_ListActivityPaging(t *testing.T) {
	reader := &fakeReader{activities: sampleActivities()}
	q := NewQueryEngine(reader)

	logs, total, err := q.ListActivity(context.Background(), repositories.LogFilters{}, Page{Page: 3, PerPage: 20})
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.Equal(t, 2, total)
	assert.Equal(t, 20, reader.calls[0].limit)
	assert.Equal(t, 40, reader.calls[0].offset)
}

func TestQueryEngine_ListErrorsFirstPage(t *testing.T) {
	reader := &fakeReader{}
	_, _, err := NewQueryEngine(reader).ListErrors(context.Background(), repositories.LogFilters{}, Page{Page: 0, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, reader.calls[0].limit)
	assert.Equal(t, 0, reader.calls[0].offset)
}

func TestQueryEngine_ListPropagatesError(t *testing.T) {
	reader := &fakeReader{fail: errors.New("db down")}
	_, _, err := NewQueryEngine(reader).ListActivity(context.Background(), repositories.LogFilters{}, Page{Page: 1, PerPage: 20})
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

func TestQueryEngine_ExportActivityCSV(t *testing.T) {
	reader := &fakeReader{activities: sampleActivities()}
	action := models.ActionCreate
	filters := repositories.LogFilters{Action: &action}

	exp, err := NewQueryEngine(reader).ExportActivity(context.Background(), filters, ExportCSV)
	require.NoError(t, err)

	assert.Equal(t, 0, reader.calls[0].limit, "exports are not paginated")
	assert.Equal(t, &action, reader.calls[0].filters.Action)
	assert.Equal(t, "text/csv", exp.ContentType)
	assert.Equal(t, ActivityCSVFilename, exp.Filename)

	rows := readCSV(t, exp.Body)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"timestamp", "user_id", "action", "method", "path", "ip_address", "status_code"}, rows[0])
	assert.Equal(t, []string{"2024-03-01T12:30:00Z", "user-1", "create", "POST", "/api/items/", "10.0.0.1", "201"}, rows[1])
	assert.Equal(t, []string{"2024-03-01T11:30:00Z", "", "read", "GET", "/api/items/, with comma", "", "200"}, rows[2])
}

func TestQueryEngine_ExportActivityJSON(t *testing.T) {
	reader := &fakeReader{activities: sampleActivities()}

	exp, err := NewQueryEngine(reader).ExportActivity(context.Background(), repositories.LogFilters{}, ExportJSON)
	require.NoError(t, err)
	assert.Equal(t, "application/json", exp.ContentType)
	assert.Empty(t, exp.Filename)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(exp.Body, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "a2", decoded[0]["id"])
	assert.Equal(t, "create", decoded[0]["action"])
}

func TestQueryEngine_ExportEmpty(t *testing.T) {
	q := NewQueryEngine(&fakeReader{})

	csvExp, err := q.ExportErrors(context.Background(), repositories.LogFilters{}, ExportCSV)
	require.NoError(t, err)
	rows := readCSV(t, csvExp.Body)
	assert.Equal(t, [][]string{{"timestamp", "user_id", "message", "endpoint", "status_code"}}, rows)

	jsonExp, err := q.ExportErrors(context.Background(), repositories.LogFilters{}, ExportJSON)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(jsonExp.Body))
}

func TestQueryEngine_ExportErrorsCSV(t *testing.T) {
	status := 500
	reader := &fakeReader{errs: []*models.ErrorLog{
		{ID: "e1", Timestamp: exportTime, UserID: strp("user-1"), Message: "boom \"quoted\"", Endpoint: "/api/items/5", StatusCode: &status},
		{ID: "e2", Timestamp: exportTime, Message: "no status", Endpoint: "/api/x"},
	}}

	exp, err := NewQueryEngine(reader).ExportErrors(context.Background(), repositories.LogFilters{}, ExportCSV)
	require.NoError(t, err)
	assert.Equal(t, ErrorCSVFilename, exp.Filename)

	rows := readCSV(t, exp.Body)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"2024-03-01T12:30:00Z", "user-1", "boom \"quoted\"", "/api/items/5", "500"}, rows[1])
	assert.Equal(t, "", rows[2][4])
}

func TestQueryEngine_ExportErrorsCSVMultiLineMessage(t *testing.T) {
	reader := &fakeReader{errs: []*models.ErrorLog{
		{ID: "e1", Timestamp: exportTime, Message: "first\nsecond", Endpoint: "/api/items/5"},
	}}

	exp, err := NewQueryEngine(reader).ExportErrors(context.Background(), repositories.LogFilters{}, ExportCSV)
	require.NoError(t, err)

	body := string(exp.Body)
	assert.Contains(t, body, "\"first\nsecond\"")
	assert.Equal(t, 3, strings.Count(body, "\n"), "header, then one record over two physical lines")

	rows := readCSV(t, exp.Body)
	require.Len(t, rows, 2)
	assert.Equal(t, "first\nsecond", rows[1][2])
	assert.Equal(t, "/api/items/5", rows[1][3])
}

func TestQueryEngine_ExportErrorsJSONOmitsNothing(t *testing.T) {
	reader := &fakeReader{errs: []*models.ErrorLog{{ID: "e1", Message: "boom", StackTrace: "frames"}}}

	exp, err := NewQueryEngine(reader).ExportErrors(context.Background(), repositories.LogFilters{}, ExportJSON)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(exp.Body, &decoded))
	assert.Equal(t, "frames", decoded[0]["stack_trace"])
}

func TestQueryEngine_ExportUnsupportedFormat(t *testing.T) {
	_, err := NewQueryEngine(&fakeReader{}).ExportActivity(context.Background(), repositories.LogFilters{}, ExportFormat("xml"))
	assert.Error(t, err)
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat("csv")
	require.NoError(t, err)
	assert.Equal(t, ExportCSV, f)

	f, err = ParseExportFormat("json")
	require.NoError(t, err)
	assert.Equal(t, ExportJSON, f)

	_, err = ParseExportFormat("xlsx")
	var fe *FilterError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "export", fe.Param)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func TestQueryEngine_Stats(t *testing.T) {
	reader := &fakeReader{
		byAction: []models.ActionCount{{Action: models.ActionRead, Total: 7}, {Action: models.ActionCreate, Total: 2}},
		daily:    []models.DailyCount{{Date: "2024-03-01", Total: 1}, {Date: "2024-03-02", Total: 4}},
	}

	stats, err := NewQueryEngine(reader).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reader.byAction, stats.ByAction)
	assert.Equal(t, reader.daily, stats.DailyErrors)

	data, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"by_action": [{"action":"read","total":7},{"action":"create","total":2}],
		"daily_errors": [{"date":"2024-03-01","total":1},{"date":"2024-03-02","total":4}]
	}`, string(data))
}

func TestQueryEngine_ReportingZone(t *testing.T) {
	berlin := time.FixedZone("Europe/Berlin", 3600)

	t.Run("default is UTC", func(t *testing.T) {
		reader := &fakeReader{}
		_, err := NewQueryEngine(reader).Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "UTC", reader.zone)
	})

	t.Run("stats and filters share the zone", func(t *testing.T) {
		reader := &fakeReader{}
		q := NewQueryEngine(reader, WithLocation(berlin))

		_, err := q.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Europe/Berlin", reader.zone)

		f, err := q.ParseFilters(url.Values{"date_from": {"2024-03-01"}, "date_to": {"2024-03-01"}}, false)
		require.NoError(t, err)
		assert.True(t, f.DateFrom.Equal(time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC)), f.DateFrom)
		assert.True(t, f.DateTo.Equal(time.Date(2024, 3, 1, 22, 59, 59, 999999000, time.UTC)), f.DateTo)
	})

	t.Run("explicit offsets win", func(t *testing.T) {
		q := NewQueryEngine(&fakeReader{}, WithLocation(berlin))
		f, err := q.ParseFilters(url.Values{"date_from": {"2024-03-01T10:00:00Z"}}, false)
		require.NoError(t, err)
		assert.True(t, f.DateFrom.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
	})

	t.Run("nil location keeps UTC", func(t *testing.T) {
		reader := &fakeReader{}
		_, err := NewQueryEngine(reader, WithLocation(nil)).Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "UTC", reader.zone)
	})
}

func TestQueryEngine_StatsError(t *testing.T) {
	_, err := NewQueryEngine(&fakeReader{fail: errors.New("db down")}).Stats(context.Background())
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// ParseFilters
// ---------------------------------------------------------------------------

func TestParseFilters_Empty(t *testing.T) {
	f, err := ParseFilters(url.Values{}, true, time.UTC)
	require.NoError(t, err)
	assert.Nil(t, f.UserID)
	assert.Nil(t, f.Action)
	assert.Nil(t, f.DateFrom)
	assert.Nil(t, f.DateTo)
}

func TestParseFilters_All(t *testing.T) {
	q := url.Values{
		"user_id":   {"6F9619FF-8B86-D011-B42D-00C04FC964FF"},
		"action":    {"login"},
		"date_from": {"2024-03-01"},
		"date_to":   {"2024-03-02"},
	}

	f, err := ParseFilters(q, true, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", *f.UserID)
	assert.Equal(t, models.ActionLogin, *f.Action)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *f.DateFrom)
	assert.Equal(t, time.Date(2024, 3, 2, 23, 59, 59, 999999000, time.UTC), *f.DateTo)
}

func TestParseFilters_DateTimeLayouts(t *testing.T) {
	for _, raw := range []string{"2024-03-01T10:15:00Z", "2024-03-01T10:15:00.123456+02:00", "2024-03-01T10:15:00", "2024-03-01 10:15:00"} {
		f, err := ParseFilters(url.Values{"date_to": {raw}}, false, time.UTC)
		require.NoError(t, err, raw)
		require.NotNil(t, f.DateTo, raw)
		assert.Equal(t, 10, f.DateTo.Hour(), raw)
	}
}

func TestParseFilters_ActionIgnoredWhenNotAccepted(t *testing.T) {
	f, err := ParseFilters(url.Values{"action": {"nonsense"}}, false, time.UTC)
	require.NoError(t, err)
	assert.Nil(t, f.Action)
}

func TestParseFilters_Invalid(t *testing.T) {
	tests := []struct {
		param string
		value string
	}{
		{"user_id", "42"},
		{"action", "explode"},
		{"date_from", "yesterday"},
		{"date_to", "2024-13-01"},
	}

	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			_, err := ParseFilters(url.Values{tt.param: {tt.value}}, true, time.UTC)
			var fe *FilterError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.param, fe.Param)
			assert.Equal(t, tt.value, fe.Value)
			assert.Contains(t, err.Error(), tt.param)
		})
	}
}

func TestParseFilters_BlankValuesIgnored(t *testing.T) {
	f, err := ParseFilters(url.Values{"user_id": {"  "}, "date_from": {""}}, true, time.UTC)
	require.NoError(t, err)
	assert.Nil(t, f.UserID)
	assert.Nil(t, f.DateFrom)
}
