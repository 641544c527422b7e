package domain

import "time"

// ReservationStatus represents the state of a stock reservation
type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "reserved"
	StatusCommitted ReservationStatus = "committed"
	StatusReleased  ReservationStatus = "released"
	StatusExpired   ReservationStatus = "expired"
)

// ReservationItem is one variant quantity held by a reservation
type ReservationItem struct {
	Variant  VariantID `json:"variant"`
	Quantity int32     `json:"quantity"`
}

// Reservation holds stock for a single checkout attempt
type Reservation struct {
	ID         string
	CheckoutID string
	Items      []ReservationItem
	Status     ReservationStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// IsExpired checks if the reservation has expired
func (r *Reservation) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

// StockInfo contains stock information for a variant
type StockInfo struct {
	Variant  VariantID `json:"variant"`
	Total    int32     `json:"total"`    // On hand
	Reserved int32     `json:"reserved"` // Held by open reservations
	Version  int64     `json:"version"`
}

// Available returns the sellable stock (total - reserved)
func (s StockInfo) Available() int32 {
	return s.Total - s.Reserved
}
