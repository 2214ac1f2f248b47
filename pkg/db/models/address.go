package models

import (
	"time"

	"github.com/google/uuid"
)

// Address is the delivery address captured at order creation. Immutable.
type Address struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	Street     string    `gorm:"column:street;type:text;not null"`
	PostalCode string    `gorm:"column:postal_code;type:text;not null"`
	City       string    `gorm:"column:city;type:text;not null"`
	Country    string    `gorm:"column:country;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
