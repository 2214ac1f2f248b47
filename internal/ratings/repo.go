package ratings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimbenhamida/revend-backend/pkg/db/models"
)

// Repository exposes persistence helpers for order ratings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, rating *models.Rating) error
	FindByOrderAndUser(ctx context.Context, orderID, userID uuid.UUID) (*models.Rating, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Rating, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a ratings repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Insert(ctx context.Context, rating *models.Rating) error {
	return r.db.WithContext(ctx).Create(rating).Error
}

func (r *repositoryImpl) FindByOrderAndUser(ctx context.Context, orderID, userID uuid.UUID) (*models.Rating, error) {
	var rating models.Rating
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND user_id = ?", orderID, userID).
		First(&rating).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rating, nil
}

func (r *repositoryImpl) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Rating, error) {
	var rows []models.Rating
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}
