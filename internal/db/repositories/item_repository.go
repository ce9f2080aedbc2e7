package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ItemRepository handles item database operations. Every query is scoped to an owner.
type ItemRepository struct {
	db *sqlx.DB
}

// NewItemRepository creates a new ItemRepository
func NewItemRepository(db *sqlx.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// CreateItem creates a new item
func (r *ItemRepository) CreateItem(ctx context.Context, item *models.Item) error {
	item.ID = uuid.New().String()
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt

	query := `
		INSERT INTO items (id, name, description, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.Name,
		item.Description,
		item.OwnerID,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

// GetItem retrieves an item owned by ownerID. A missing item returns nil, nil.
func (r *ItemRepository) GetItem(ctx context.Context, ownerID, itemID string) (*models.Item, error) {
	query := `
		SELECT id, name, description, owner_id, created_at, updated_at
		FROM items
		WHERE id = $1 AND owner_id = $2
	`

	item := &models.Item{}
	err := r.db.GetContext(ctx, item, query, itemID, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// ListItems returns the items owned by ownerID, newest first
func (r *ItemRepository) ListItems(ctx context.Context, ownerID string) ([]*models.Item, error) {
	query := `
		SELECT id, name, description, owner_id, created_at, updated_at
		FROM items
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`

	items := make([]*models.Item, 0)
	if err := r.db.SelectContext(ctx, &items, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// UpdateItem writes name and description of item
func (r *ItemRepository) UpdateItem(ctx context.Context, item *models.Item) error {
	item.UpdatedAt = time.Now()

	query := `
		UPDATE items
		SET name = $3, description = $4, updated_at = $5
		WHERE id = $1 AND owner_id = $2
	`

	res, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.OwnerID,
		item.Name,
		item.Description,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteItem removes an item owned by ownerID
func (r *ItemRepository) DeleteItem(ctx context.Context, ownerID, itemID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1 AND owner_id = $2`, itemID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
