package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// VariantID identifies a purchasable size of a product.
type VariantID struct {
	ProductID int64  `json:"product_id" bson:"product_id"`
	Size      string `json:"size" bson:"size"`
}

func (v VariantID) String() string {
	return fmt.Sprintf("%d/%s", v.ProductID, v.Size)
}

// Validate checks the id shape only; existence is the catalog's business.
func (v VariantID) Validate() error {
	if v.ProductID <= 0 {
		return NewValidationError("product_id", "must be positive")
	}
	if strings.TrimSpace(v.Size) == "" {
		return NewValidationError("size", "must not be empty")
	}
	return nil
}

// Less orders variants by product id then size. Locks are always taken in this order.
func (v VariantID) Less(other VariantID) bool {
	if v.ProductID != other.ProductID {
		return v.ProductID < other.ProductID
	}
	return v.Size < other.Size
}

type Variant struct {
	ID            VariantID           `json:"id"`
	ProductName   string              `json:"product_name"`
	Price         decimal.Decimal     `json:"price"`
	DiscountPrice decimal.NullDecimal `json:"discount_price"`
	Available     int32               `json:"available"`
	CreatedAt     time.Time           `json:"created_at"`
}

// MoneyScale is the number of fractional digits every stored amount carries.
const MoneyScale = 2

// ValidatePrice rejects negative amounts and amounts finer than MoneyScale.
func ValidatePrice(field string, p decimal.Decimal) error {
	if p.IsNegative() {
		return NewValidationError(field, "must not be negative")
	}
	if !p.Equal(p.Round(MoneyScale)) {
		return NewValidationError(field, fmt.Sprintf("must have at most %d decimal places", MoneyScale))
	}
	return nil
}

// ValidatePrices checks the list price and the discount, when set.
func (v *Variant) ValidatePrices() error {
	if err := ValidatePrice("price", v.Price); err != nil {
		return err
	}
	if v.DiscountPrice.Valid {
		return ValidatePrice("discount_price", v.DiscountPrice.Decimal)
	}
	return nil
}

// UnitPrice is the price a shopper pays right now.
func (v *Variant) UnitPrice() decimal.Decimal {
	if v.DiscountPrice.Valid {
		return v.DiscountPrice.Decimal
	}
	return v.Price
}
