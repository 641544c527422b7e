package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

type OrderStatus string

const (
	OrderStatusPlaced OrderStatus = "PLACED"
)

// OrderLine is frozen at checkout time and never recalculated.
type OrderLine struct {
	Variant     VariantID       `json:"variant"`
	ProductName string          `json:"product_name"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Order struct {
	ID             uuid.UUID       `json:"id"`
	CheckoutID     uuid.UUID       `json:"checkout_id"`
	UserID         string          `json:"user_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	ReservationID  string          `json:"-"`
	CartVersion    int64           `json:"-"`
	Lines          []OrderLine     `json:"lines"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
	Status         OrderStatus     `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewOrderLine freezes price and subtotal for one line.
func NewOrderLine(variant VariantID, name string, quantity int32, unitPrice decimal.Decimal) OrderLine {
	return OrderLine{
		Variant:     variant,
		ProductName: name,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Subtotal:    unitPrice.Mul(decimal.NewFromInt32(quantity)),
	}
}

// SumLines is the order total; it is computed once when the order is built.
func SumLines(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal)
	}
	return total
}

type CheckoutRequest struct {
	UserID         string
	IdempotencyKey string
}
