package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/selimbenhamida/revend-backend/pkg/enums"
)

// Order is a frozen, priced purchase request. Totals are computed once at
// creation and never recomputed from live catalog prices; the payment
// reconciler verifies gateway amounts against GrandTotalCents.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Status          enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	SubtotalCents   int64             `gorm:"column:subtotal_cents;not null"`
	ShippingCents   int64             `gorm:"column:shipping_cents;not null"`
	GrandTotalCents int64             `gorm:"column:grand_total_cents;not null"`
	Currency        string            `gorm:"column:currency;type:text;not null;default:'usd'"`
	AddressID       uuid.UUID         `gorm:"column:address_id;type:uuid;not null"`
	PaymentID       *string           `gorm:"column:payment_id;type:text;uniqueIndex:ux_orders_payment_id"`
	PaymentMethod   *string           `gorm:"column:payment_method;type:text"`
	CardBrand       *string           `gorm:"column:card_brand;type:text"`
	CardLast4       *string           `gorm:"column:card_last4;type:text"`
	PaidAt          *time.Time        `gorm:"column:paid_at"`
	Details         []OrderDetail     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Address         *Address          `gorm:"foreignKey:AddressID"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
