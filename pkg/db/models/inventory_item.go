package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem tracks the available quantity per product. The stock ledger is
// the only writer; all decrements are guarded so the quantity never goes negative.
type InventoryItem struct {
	ProductID    uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	AvailableQty int       `gorm:"column:available_qty;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
