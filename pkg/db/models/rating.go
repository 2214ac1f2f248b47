package models

import (
	"time"

	"github.com/google/uuid"
)

// Rating is a buyer's score for a paid order. The unique index on
// (order_id, user_id) is the backstop for concurrent submissions.
type Rating struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_ratings_order_user"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_ratings_order_user"`
	Score     int       `gorm:"column:score;not null"`
	Comment   string    `gorm:"column:comment;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
