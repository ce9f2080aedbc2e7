package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/gin-gonic/gin"
)

// newAdminRouter sets user (when non-nil) ahead of RequireAdmin
func newAdminRouter(user *models.User) *gin.Engine {
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		if user != nil {
			setUser(c, user)
		}
	}, RequireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

// ---------------------------------------------------------------------------
// RequireAdmin
// ---------------------------------------------------------------------------

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name string
		user *models.User
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"regular user", &models.User{ID: "u1", Username: "bob"}, http.StatusForbidden},
		{"administrator", &models.User{ID: "u2", Username: "root", IsAdmin: true}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newAdminRouter(tt.user).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
