package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/selimbenhamida/revend-backend/pkg/db/models"
	"github.com/selimbenhamida/revend-backend/pkg/pagination"
)

// Repository exposes persistence helpers for notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, params listParams) ([]models.Notification, *pagination.Cursor, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (markResult, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	BroadcastRecipients(ctx context.Context) ([]uuid.UUID, error)
	CountByOrderAndType(ctx context.Context, orderID uuid.UUID, kind string) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listParams struct {
	UserID     uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
}

type markResult struct {
	Updated bool
	Found   bool
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *repositoryImpl) List(ctx context.Context, params listParams) ([]models.Notification, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", params.UserID)
	if params.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if params.Cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.Notification
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	if len(rows) > normalized {
		rows = rows[:normalized]
		last := rows[normalized-1]
		return rows, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return rows, nil, nil
}

func (r *repositoryImpl) MarkRead(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (markResult, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", notificationID, userID).
		Update("read_at", now)
	if result.Error != nil {
		return markResult{}, result.Error
	}
	if result.RowsAffected == 1 {
		return markResult{Updated: true, Found: true}, nil
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Count(&count).Error
	if err != nil {
		return markResult{}, err
	}
	return markResult{Updated: false, Found: count > 0}, nil
}

func (r *repositoryImpl) MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Update("read_at", now)
	return result.RowsAffected, result.Error
}

// BroadcastRecipients returns every user the store has seen place an order.
// There is no account directory inside this service boundary, so order history
// is the recipient source for promotions.
func (r *repositoryImpl) BroadcastRecipients(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Distinct("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *repositoryImpl) CountByOrderAndType(ctx context.Context, orderID uuid.UUID, kind string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("order_id = ? AND type = ?", orderID, kind).
		Count(&count).Error
	return count, err
}
