package models

import (
	"time"

	"github.com/google/uuid"
)

// CartItem is one product line in a user's cart. One row per (user, product).
type CartItem struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_cart_items_user_product"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_cart_items_user_product"`
	Qty       int       `gorm:"column:qty;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
