package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced  = "order.placed"
	EventStockChanged = "stock.changed"
)

// Event is anything published on the event bus.
type Event interface {
	EventName() string
}

// OrderPlaced is emitted once per completed checkout. CartVersion is the version of the cart
// the order was built from.
type OrderPlaced struct {
	OrderID     uuid.UUID       `json:"order_id"`
	UserID      string          `json:"user_id"`
	CartVersion int64           `json:"cart_version"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Lines       []OrderLine     `json:"lines"`
	PlacedAt    time.Time       `json:"placed_at"`
}

func (OrderPlaced) EventName() string { return EventOrderPlaced }

func NewOrderPlaced(o *Order) OrderPlaced {
	return OrderPlaced{
		OrderID:     o.ID,
		UserID:      o.UserID,
		CartVersion: o.CartVersion,
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency,
		Lines:       o.Lines,
		PlacedAt:    o.CreatedAt,
	}
}

type StockChangeReason string

const (
	StockReserved StockChangeReason = "reserved"
	StockReleased StockChangeReason = "released"
	StockSet      StockChangeReason = "set"
)

// StockChanged reports a change of available quantity. Delta is signed.
type StockChanged struct {
	Variant   VariantID         `json:"variant"`
	Delta     int32             `json:"delta"`
	Reason    StockChangeReason `json:"reason"`
	ChangedAt time.Time         `json:"changed_at"`
}

func (StockChanged) EventName() string { return EventStockChanged }
