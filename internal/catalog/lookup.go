package catalog

import (
	"context"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

// StockReader reports current stock. The stock ledger is the only source of availability.
type StockReader interface {
	GetStock(ctx context.Context, variants []domain.VariantID) ([]domain.StockInfo, error)
}

// Lookup resolves a variant to its current unit price and available quantity.
type Lookup struct {
	repo    VariantRepository
	stock   StockReader
	timeout time.Duration
}

func NewLookup(repo VariantRepository, stock StockReader, timeout time.Duration) *Lookup {
	return &Lookup{
		repo:    repo,
		stock:   stock,
		timeout: timeout,
	}
}

func (l *Lookup) GetVariant(ctx context.Context, id domain.VariantID) (*domain.Variant, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	v, err := l.repo.GetVariant(lookupCtx, id)
	if err != nil {
		return nil, domain.StorageError("catalog get variant", err)
	}

	stocks, err := l.stock.GetStock(lookupCtx, []domain.VariantID{id})
	if err != nil {
		return nil, domain.StorageError("catalog get stock", err)
	}
	for _, s := range stocks {
		if s.Variant == id {
			v.Available = s.Available()
		}
	}
	return v, nil
}
