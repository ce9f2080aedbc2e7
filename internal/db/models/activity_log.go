// Package models - activity_log.go defines the ActivityLog model, one row per completed
// request, plus the fixed Action enumeration used to label what the request did.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Action is the semantic label attached to an activity record
type Action string

const (
	ActionLogin         Action = "login"
	ActionLogout        Action = "logout"
	ActionProfileUpdate Action = "profile_update"
	ActionCreate        Action = "create"
	ActionRead          Action = "read"
	ActionUpdate        Action = "update"
	ActionDelete        Action = "delete"
	ActionOther         Action = "other"
)

// AllActions lists every valid action in declaration order
var AllActions = []Action{
	ActionLogin,
	ActionLogout,
	ActionProfileUpdate,
	ActionCreate,
	ActionRead,
	ActionUpdate,
	ActionDelete,
	ActionOther,
}

// Valid reports whether a is one of the fixed actions
func (a Action) Valid() bool {
	for _, v := range AllActions {
		if v == a {
			return true
		}
	}
	return false
}

// JSONMap is a free-form JSON object stored in a JSONB column
type JSONMap map[string]interface{}

// Value implements driver.Valuer. A nil map is stored as SQL NULL.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for JSONMap: %T", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// ActivityLog represents one completed request (successful or failed)
type ActivityLog struct {
	ID         string       `json:"id" db:"id"`
	Timestamp  time.Time    `json:"timestamp" db:"timestamp"`
	UserID     *string      `json:"-" db:"user_id"` // Nullable; SET NULL when the user is removed
	User       *UserSummary `json:"user" db:"-"`
	Action     Action       `json:"action" db:"action"`
	Method     string       `json:"method" db:"method"`
	Path       string       `json:"path" db:"path"`
	IPAddress  *string      `json:"ip_address" db:"ip_address"`
	UserAgent  string       `json:"user_agent" db:"user_agent"`
	StatusCode int          `json:"status_code" db:"status_code"`
	Extra      JSONMap      `json:"extra" db:"extra"` // Sanitized request payload, if captured
}

// ActionCount is one row of the per-action aggregate
type ActionCount struct {
	Action Action `json:"action" db:"action"`
	Total  int64  `json:"total" db:"total"`
}
