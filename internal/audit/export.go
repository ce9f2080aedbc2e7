package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/api-monitor/api-monitor/internal/db/models"
)

// ExportFormat selects how an export is rendered
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportJSON ExportFormat = "json"
)

// ParseExportFormat validates the export query parameter
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch f := ExportFormat(raw); f {
	case ExportCSV, ExportJSON:
		return f, nil
	default:
		return "", &FilterError{Param: "export", Value: raw}
	}
}

// Export filenames for CSV attachments
const (
	ActivityCSVFilename = "activity_logs.csv"
	ErrorCSVFilename    = "error_logs.csv"
)

var (
	activityCSVHeader = []string{"timestamp", "user_id", "action", "method", "path", "ip_address", "status_code"}
	errorCSVHeader    = []string{"timestamp", "user_id", "message", "endpoint", "status_code"}
)

// Export is a rendered export. Filename is set only for attachments.
type Export struct {
	ContentType string
	Filename    string
	Body        []byte
}

func renderActivity(logs []*models.ActivityLog, format ExportFormat) (*Export, error) {
	switch format {
	case ExportCSV:
		rows := make([][]string, 0, len(logs))
		for _, l := range logs {
			rows = append(rows, []string{
				l.Timestamp.Format(time.RFC3339Nano),
				deref(l.UserID),
				string(l.Action),
				l.Method,
				l.Path,
				deref(l.IPAddress),
				strconv.Itoa(l.StatusCode),
			})
		}
		return csvExport(ActivityCSVFilename, activityCSVHeader, rows)
	case ExportJSON:
		if logs == nil {
			logs = []*models.ActivityLog{}
		}
		return jsonExport(logs)
	default:
		return nil, fmt.Errorf("unsupported export format: %q", format)
	}
}

func renderErrors(logs []*models.ErrorLog, format ExportFormat) (*Export, error) {
	switch format {
	case ExportCSV:
		rows := make([][]string, 0, len(logs))
		for _, l := range logs {
			status := ""
			if l.StatusCode != nil {
				status = strconv.Itoa(*l.StatusCode)
			}
			rows = append(rows, []string{
				l.Timestamp.Format(time.RFC3339Nano),
				deref(l.UserID),
				l.Message,
				l.Endpoint,
				status,
			})
		}
		return csvExport(ErrorCSVFilename, errorCSVHeader, rows)
	case ExportJSON:
		if logs == nil {
			logs = []*models.ErrorLog{}
		}
		return jsonExport(logs)
	default:
		return nil, fmt.Errorf("unsupported export format: %q", format)
	}
}

func csvExport(filename string, header []string, rows [][]string) (*Export, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}
	return &Export{ContentType: "text/csv", Filename: filename, Body: buf.Bytes()}, nil
}

func jsonExport(v any) (*Export, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return &Export{ContentType: "application/json", Body: data}, nil
}
