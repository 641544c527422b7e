package checkout

import (
	"context"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
)

// snapshot freezes the current catalog price of every cart line.
func (s *Service) snapshot(ctx context.Context, cart *domain.Cart) ([]domain.OrderLine, error) {
	lines := make([]domain.OrderLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		v, err := s.catalog.GetVariant(ctx, line.Variant)
		if err != nil {
			return nil, fmt.Errorf("price cart line %s: %w", line.Variant, err)
		}
		lines = append(lines, domain.NewOrderLine(line.Variant, v.ProductName, line.Quantity, v.UnitPrice()))
	}
	return lines, nil
}
