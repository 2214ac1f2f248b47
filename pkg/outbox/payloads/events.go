package payloads

import (
	"time"

	"github.com/google/uuid"
)

// OrderLine is one purchased line as frozen on the order.
type OrderLine struct {
	ProductID      uuid.UUID `json:"productId"`
	Qty            int       `json:"qty"`
	UnitPriceCents int64     `json:"unitPriceCents"`
}

// OrderCreatedEvent signals a new order with frozen totals awaiting payment.
type OrderCreatedEvent struct {
	OrderID         uuid.UUID   `json:"orderId"`
	UserID          uuid.UUID   `json:"userId"`
	GrandTotalCents int64       `json:"grandTotalCents"`
	Currency        string      `json:"currency"`
	Lines           []OrderLine `json:"lines"`
}

// OrderPaidEvent is emitted once payment confirmation has been reconciled.
type OrderPaidEvent struct {
	OrderID        uuid.UUID `json:"orderId"`
	UserID         uuid.UUID `json:"userId"`
	PaymentID      string    `json:"paymentId"`
	AmountCents    int64     `json:"amountCents"`
	Currency       string    `json:"currency"`
	PaidAt         time.Time `json:"paidAt"`
	StockCommitted bool      `json:"stockCommitted"`
}

// ShortLine is one order line the commit-time guard refused.
type ShortLine struct {
	ProductID uuid.UUID `json:"productId"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// StockShortEvent reports lines that could not be decremented after payment.
type StockShortEvent struct {
	OrderID    uuid.UUID   `json:"orderId"`
	Shortfalls []ShortLine `json:"shortfalls"`
	ReportedAt time.Time   `json:"reportedAt"`
}
