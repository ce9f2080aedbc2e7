// Package items implements CRUD for the caller's items.
package items

import (
	"context"
	"errors"
	"net/http"

	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/api-monitor/api-monitor/internal/db/repositories"
	"github.com/api-monitor/api-monitor/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Store is the item repository as used by the handlers
type Store interface {
	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, ownerID, itemID string) (*models.Item, error)
	ListItems(ctx context.Context, ownerID string) ([]*models.Item, error)
	UpdateItem(ctx context.Context, item *models.Item) error
	DeleteItem(ctx context.Context, ownerID, itemID string) error
}

// Handlers serves /api/items
type Handlers struct {
	store Store
}

// NewHandlers creates item handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// ItemRequest is the body of POST, PUT and PATCH
type ItemRequest struct {
	Name        *string `json:"name" binding:"omitempty,min=1,max=200"`
	Description *string `json:"description"`
}

func ownerID(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}

// loadItem fetches the :id item of the caller, answering 404 when it does not exist.
// A nil item with ok=false means a response was written or an error attached.
func (h *Handlers) loadItem(c *gin.Context) (*models.Item, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return nil, false
	}

	item, err := h.store.GetItem(c.Request.Context(), ownerID(c), id)
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return nil, false
	}
	return item, true
}

// ListHandler lists the caller's items
// GET /api/items/
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.store.ListItems(c.Request.Context(), ownerID(c))
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// CreateHandler creates an item owned by the caller
// POST /api/items/
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Name == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}

		item := &models.Item{Name: *req.Name, OwnerID: ownerID(c)}
		if req.Description != nil {
			item.Description = *req.Description
		}
		if err := h.store.CreateItem(c.Request.Context(), item); err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

// GetHandler returns one item
// GET /api/items/:id
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if item, ok := h.loadItem(c); ok {
			c.JSON(http.StatusOK, item)
		}
	}
}

// UpdateHandler replaces (PUT) or patches (PATCH) an item
// PUT|PATCH /api/items/:id
func (h *Handlers) UpdateHandler(partial bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !partial && req.Name == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}

		item, ok := h.loadItem(c)
		if !ok {
			return
		}
		if req.Name != nil {
			item.Name = *req.Name
		}
		switch {
		case req.Description != nil:
			item.Description = *req.Description
		case !partial:
			item.Description = ""
		}

		if err := h.store.UpdateItem(c.Request.Context(), item); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
				return
			}
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

// DeleteHandler removes an item
// DELETE /api/items/:id
func (h *Handlers) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := uuid.Parse(id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
			return
		}

		err := h.store.DeleteItem(c.Request.Context(), ownerID(c), id)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		case err != nil:
			_ = c.Error(err)
		default:
			c.Status(http.StatusNoContent)
		}
	}
}

// RegisterRoutes mounts the item routes on group, which must already require authentication
func (h *Handlers) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/", h.ListHandler())
	group.POST("/", h.CreateHandler())
	group.GET("/:id", h.GetHandler())
	group.PUT("/:id", h.UpdateHandler(false))
	group.PATCH("/:id", h.UpdateHandler(true))
	group.DELETE("/:id", h.DeleteHandler())
}
