// Package logs serves the administrator views over stored activity and error records.
package logs

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/api-monitor/api-monitor/internal/audit"
	"github.com/gin-gonic/gin"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Handlers serves /api/logs. Every route must be behind RequireAdmin.
type Handlers struct {
	engine *audit.QueryEngine
}

// NewHandlers creates log handlers
func NewHandlers(engine *audit.QueryEngine) *Handlers {
	return &Handlers{engine: engine}
}

func parsePage(c *gin.Context) audit.Page {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}
	return audit.Page{Page: page, PerPage: perPage}
}

// badRequest answers 400 for a *audit.FilterError and reports whether it did
func badRequest(c *gin.Context, err error) bool {
	var fe *audit.FilterError
	if errors.As(err, &fe) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fe.Error()})
		return true
	}
	return false
}

// writeExport sends a rendered export, as an attachment when it has a filename
func writeExport(c *gin.Context, exp *audit.Export) {
	if exp.Filename != "" {
		c.Header("Content-Disposition", `attachment; filename="`+exp.Filename+`"`)
	}
	c.Data(http.StatusOK, exp.ContentType, exp.Body)
}

// ActivitiesHandler lists or exports activity records
// GET /api/logs/activities?user_id=&action=&date_from=&date_to=&page=&per_page=&export=csv|json
func (h *Handlers) ActivitiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, err := h.engine.ParseFilters(c.Request.URL.Query(), true)
		if badRequest(c, err) {
			return
		}

		if raw, ok := c.GetQuery("export"); ok {
			format, err := audit.ParseExportFormat(raw)
			if badRequest(c, err) {
				return
			}
			exp, err := h.engine.ExportActivity(c.Request.Context(), filters, format)
			if err != nil {
				_ = c.Error(err)
				return
			}
			writeExport(c, exp)
			return
		}

		page := parsePage(c)
		results, total, err := h.engine.ListActivity(c.Request.Context(), filters, page)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"results": results,
			"pagination": gin.H{
				"page":     page.Page,
				"per_page": page.PerPage,
				"total":    total,
			},
		})
	}
}

// ErrorsHandler lists or exports error records. The action filter does not apply.
// GET /api/logs/errors?user_id=&date_from=&date_to=&page=&per_page=&export=csv|json
func (h *Handlers) ErrorsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, err := h.engine.ParseFilters(c.Request.URL.Query(), false)
		if badRequest(c, err) {
			return
		}

		if raw, ok := c.GetQuery("export"); ok {
			format, err := audit.ParseExportFormat(raw)
			if badRequest(c, err) {
				return
			}
			exp, err := h.engine.ExportErrors(c.Request.Context(), filters, format)
			if err != nil {
				_ = c.Error(err)
				return
			}
			writeExport(c, exp)
			return
		}

		page := parsePage(c)
		results, total, err := h.engine.ListErrors(c.Request.Context(), filters, page)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"results": results,
			"pagination": gin.H{
				"page":     page.Page,
				"per_page": page.PerPage,
				"total":    total,
			},
		})
	}
}

// StatsHandler returns activity counts per action and error counts per day
// GET /api/logs/stats
func (h *Handlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.engine.Stats(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// RegisterRoutes mounts the log routes on group
func (h *Handlers) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/activities", h.ActivitiesHandler())
	group.GET("/errors", h.ErrorsHandler())
	group.GET("/stats", h.StatsHandler())
}
