package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the catalog entry referenced by carts and order details. Stock
// quantity lives in InventoryItem; the catalog price here is the live price,
// which order details freeze at creation time.
type Product struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SKU       string          `gorm:"column:sku;type:text;not null;uniqueIndex"`
	Title     string          `gorm:"column:title;type:text;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Active    bool            `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
