package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderDetail is the immutable record of one purchased line: the quantity and
// the unit price that was actually charged, independent of later price changes.
type OrderDetail struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Qty            int       `gorm:"column:qty;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
