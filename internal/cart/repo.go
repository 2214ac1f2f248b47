package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimbenhamida/revend-backend/pkg/db/models"
)

// Repository exposes persistence helpers for cart lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, item *models.CartItem) error
	IncrementQty(ctx context.Context, userID, productID uuid.UUID, delta int) (bool, error)
	SetQty(ctx context.Context, userID, productID uuid.UUID, qty int) (bool, error)
	Remove(ctx context.Context, userID, productID uuid.UUID) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error)
	ClearForUser(ctx context.Context, userID uuid.UUID) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a cart repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Insert(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repositoryImpl) IncrementQty(ctx context.Context, userID, productID uuid.UUID, delta int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Updates(map[string]any{
			"qty":        gorm.Expr("qty + ?", delta),
			"updated_at": time.Now(),
		})
	return result.RowsAffected == 1, result.Error
}

func (r *repositoryImpl) SetQty(ctx context.Context, userID, productID uuid.UUID, qty int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Updates(map[string]any{
			"qty":        qty,
			"updated_at": time.Now(),
		})
	return result.RowsAffected == 1, result.Error
}

func (r *repositoryImpl) Remove(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Delete(&models.CartItem{})
	return result.RowsAffected == 1, result.Error
}

func (r *repositoryImpl) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error) {
	var items []models.CartItem
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

func (r *repositoryImpl) ClearForUser(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.CartItem{}).Error
}
