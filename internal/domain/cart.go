package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const MaxLineQuantity = 99

type Cart struct {
	UserID    string     `bson:"user_id" json:"user_id"`
	Lines     []CartLine `bson:"lines" json:"lines"`
	Version   int64      `bson:"version" json:"version"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`

	// TotalAmount is derived on read and never stored.
	TotalAmount decimal.Decimal `bson:"-" json:"total_amount"`
}

type CartLine struct {
	ID       string    `bson:"line_id" json:"line_id"`
	Variant  VariantID `bson:"variant" json:"variant"`
	Quantity int32     `bson:"quantity" json:"quantity"`
	AddedAt  time.Time `bson:"added_at" json:"added_at"`

	// Display values, recomputed against the catalog on every read.
	ProductName   string          `bson:"-" json:"product_name,omitempty"`
	UnitPrice     decimal.Decimal `bson:"-" json:"unit_price"`
	PriceSnapshot decimal.Decimal `bson:"-" json:"price_snapshot"`
}

// LineRequest is one requested cart line before validation.
type LineRequest struct {
	Variant  VariantID
	Quantity int32
}

func (r LineRequest) Validate() error {
	if err := r.Variant.Validate(); err != nil {
		return err
	}
	if r.Quantity < 1 || r.Quantity > MaxLineQuantity {
		return NewValidationError("quantity", "must be between 1 and 99")
	}
	return nil
}

// NewEmptyCart is returned for users that never stored a cart.
func NewEmptyCart(userID string) *Cart {
	now := time.Now()
	return &Cart{
		UserID:      userID,
		Lines:       []CartLine{},
		CreatedAt:   now,
		UpdatedAt:   now,
		TotalAmount: decimal.Zero,
	}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// FindLine returns the line holding the variant, if any.
func (c *Cart) FindLine(v VariantID) (CartLine, bool) {
	for _, line := range c.Lines {
		if line.Variant == v {
			return line, true
		}
	}
	return CartLine{}, false
}

// Clone copies the cart so cached values can be re-priced without aliasing.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Lines = append(make([]CartLine, 0, len(c.Lines)), c.Lines...)
	return &cp
}
