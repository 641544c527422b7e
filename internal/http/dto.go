package http

import (
	"time"

	"github.com/fjod/storefront/internal/domain"
)

type CartLineDTO struct {
	LineID        string    `json:"line_id"`
	ProductID     int64     `json:"product_id"`
	Size          string    `json:"size"`
	ProductName   string    `json:"product_name"`
	Quantity      int32     `json:"quantity"`
	UnitPrice     string    `json:"unit_price"`
	PriceSnapshot string    `json:"price_snapshot"`
	AddedAt       time.Time `json:"added_at"`
}

type CartResponseDTO struct {
	UserID      string        `json:"user_id"`
	Lines       []CartLineDTO `json:"lines"`
	TotalAmount string        `json:"total_amount"`
	Currency    string        `json:"currency"`
}

type CartLineRequestDTO struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int32  `json:"quantity"`
}

type SetCartRequestDTO struct {
	Lines []CartLineRequestDTO `json:"lines"`
}

type OrderLineDTO struct {
	ProductID   int64  `json:"product_id"`
	Size        string `json:"size"`
	ProductName string `json:"product_name"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

type OrderResponseDTO struct {
	ID          string         `json:"id"`
	CheckoutID  string         `json:"checkout_id"`
	TotalAmount string         `json:"total_amount"`
	Currency    string         `json:"currency"`
	Status      string         `json:"status"`
	Lines       []OrderLineDTO `json:"lines"`
	CreatedAt   string         `json:"created_at"`
}

type VariantResponseDTO struct {
	ProductID     int64   `json:"product_id"`
	Size          string  `json:"size"`
	ProductName   string  `json:"product_name"`
	Price         string  `json:"price"`
	DiscountPrice *string `json:"discount_price,omitempty"`
	UnitPrice     string  `json:"unit_price"`
	Available     int32   `json:"available"`
}

type StockResponseDTO struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Total     int32  `json:"total"`
	Reserved  int32  `json:"reserved"`
	Available int32  `json:"available"`
}

type SetStockRequestDTO struct {
	Quantity *int32 `json:"quantity"`
}

func convertCart(c *domain.Cart) CartResponseDTO {
	lines := make([]CartLineDTO, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, CartLineDTO{
			LineID:        l.ID,
			ProductID:     l.Variant.ProductID,
			Size:          l.Variant.Size,
			ProductName:   l.ProductName,
			Quantity:      l.Quantity,
			UnitPrice:     l.UnitPrice.StringFixed(2),
			PriceSnapshot: l.PriceSnapshot.StringFixed(2),
			AddedAt:       l.AddedAt,
		})
	}
	return CartResponseDTO{
		UserID:      c.UserID,
		Lines:       lines,
		TotalAmount: c.TotalAmount.StringFixed(2),
		Currency:    domain.DefaultCurrency,
	}
}

func convertOrder(o *domain.Order) OrderResponseDTO {
	lines := make([]OrderLineDTO, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, OrderLineDTO{
			ProductID:   l.Variant.ProductID,
			Size:        l.Variant.Size,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.StringFixed(2),
			Subtotal:    l.Subtotal.StringFixed(2),
		})
	}
	return OrderResponseDTO{
		ID:          o.ID.String(),
		CheckoutID:  o.CheckoutID.String(),
		TotalAmount: o.TotalAmount.StringFixed(2),
		Currency:    o.Currency,
		Status:      string(o.Status),
		Lines:       lines,
		CreatedAt:   o.CreatedAt.Format(time.RFC3339),
	}
}

func convertVariant(v *domain.Variant) VariantResponseDTO {
	dto := VariantResponseDTO{
		ProductID:   v.ID.ProductID,
		Size:        v.ID.Size,
		ProductName: v.ProductName,
		Price:       v.Price.StringFixed(2),
		UnitPrice:   v.UnitPrice().StringFixed(2),
		Available:   v.Available,
	}
	if v.DiscountPrice.Valid {
		discount := v.DiscountPrice.Decimal.StringFixed(2)
		dto.DiscountPrice = &discount
	}
	return dto
}

func convertStock(s domain.StockInfo) StockResponseDTO {
	return StockResponseDTO{
		ProductID: s.Variant.ProductID,
		Size:      s.Variant.Size,
		Total:     s.Total,
		Reserved:  s.Reserved,
		Available: s.Available(),
	}
}
