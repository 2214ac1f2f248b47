package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimbenhamida/revend-backend/pkg/db/models"
	"github.com/selimbenhamida/revend-backend/pkg/enums"
)

// Repository exposes persistence helpers for orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertAddress(ctx context.Context, address *models.Address) error
	Insert(ctx context.Context, order *models.Order) error
	InsertDetails(ctx context.Context, details []models.OrderDetail) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error)
	MarkPaid(ctx context.Context, params MarkPaidParams) (bool, error)
}

// MarkPaidParams carries the provider-confirmed payment fields.
type MarkPaidParams struct {
	OrderID       uuid.UUID
	PaymentID     string
	PaymentMethod string
	CardBrand     string
	CardLast4     string
	PaidAt        time.Time
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an orders repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) InsertAddress(ctx context.Context, address *models.Address) error {
	return r.db.WithContext(ctx).Create(address).Error
}

func (r *repositoryImpl) Insert(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("Details", "Address").Create(order).Error
}

func (r *repositoryImpl) InsertDetails(ctx context.Context, details []models.OrderDetail) error {
	if len(details) == 0 {
		return errors.New("at least one detail line required")
	}
	return r.db.WithContext(ctx).Create(&details).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Details").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repositoryImpl) FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Details").
		Where("id = ? AND user_id = ?", id, userID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// MarkPaid transitions the order from pending to paid. The WHERE clause on the
// current status is the idempotency guard: a second delivery of the same
// confirmation matches zero rows and reports applied=false.
func (r *repositoryImpl) MarkPaid(ctx context.Context, params MarkPaidParams) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", params.OrderID, enums.OrderStatusPending).
		Updates(map[string]any{
			"status":         enums.OrderStatusPaid,
			"payment_id":     params.PaymentID,
			"payment_method": params.PaymentMethod,
			"card_brand":     params.CardBrand,
			"card_last4":     params.CardLast4,
			"paid_at":        params.PaidAt,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
