// Package models - error_log.go defines the ErrorLog model, one row per unhandled failure
// with the stack trace kept server-side for postmortem.
package models

import "time"

// MaxStackTraceLength is the maximum number of characters kept from a stack trace
const MaxStackTraceLength = 15000

// ErrorLog represents one unhandled failure raised while serving a request
type ErrorLog struct {
	ID         string       `json:"id" db:"id"`
	Timestamp  time.Time    `json:"timestamp" db:"timestamp"`
	UserID     *string      `json:"-" db:"user_id"`
	User       *UserSummary `json:"user" db:"-"`
	Message    string       `json:"message" db:"message"`
	StackTrace string       `json:"stack_trace" db:"stack_trace"`
	Method     string       `json:"method" db:"method"`
	Endpoint   string       `json:"endpoint" db:"endpoint"`
	IPAddress  *string      `json:"ip_address" db:"ip_address"`
	UserAgent  string       `json:"user_agent" db:"user_agent"`
	StatusCode *int         `json:"status_code" db:"status_code"`
}

// DailyCount is one row of the errors-per-day aggregate
type DailyCount struct {
	Date  string `json:"date" db:"date"` // YYYY-MM-DD
	Total int64  `json:"total" db:"total"`
}
