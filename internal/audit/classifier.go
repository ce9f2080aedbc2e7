package audit

import (
	"net/http"
	"strings"

	"github.com/api-monitor/api-monitor/internal/db/models"
)

// Classify infers the action a request performed from its method and path.
// Path suffixes are matched case-insensitively and take precedence over the method.
func Classify(method, path string) models.Action {
	p := strings.ToLower(strings.TrimRight(path, "/"))
	m := strings.ToUpper(method)

	switch {
	case strings.HasSuffix(p, "/auth/login"):
		return models.ActionLogin
	case strings.HasSuffix(p, "/auth/logout"):
		return models.ActionLogout
	case strings.HasSuffix(p, "/me/profile") && (m == http.MethodPut || m == http.MethodPatch):
		return models.ActionProfileUpdate
	}

	switch m {
	case http.MethodPost:
		return models.ActionCreate
	case http.MethodPut, http.MethodPatch:
		return models.ActionUpdate
	case http.MethodDelete:
		return models.ActionDelete
	default:
		return models.ActionRead
	}
}
