package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var ErrVariantNotFound = fmt.Errorf("variant %w", domain.ErrNotFound)

type VariantRepository interface {
	GetVariant(ctx context.Context, id domain.VariantID) (*domain.Variant, error)
	ListVariants(ctx context.Context) ([]*domain.Variant, error)
	UpsertVariant(ctx context.Context, v *domain.Variant) error
	UpdatePrice(ctx context.Context, id domain.VariantID, price decimal.Decimal, discount decimal.NullDecimal) error
	DeleteVariant(ctx context.Context, id domain.VariantID) error
}

// Repository stores products and their variants in sqlite.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const variantColumns = `v.product_id, v.size, p.name, v.price, v.discount_price`

func (r *Repository) GetVariant(ctx context.Context, id domain.VariantID) (*domain.Variant, error) {
	query := `
		SELECT ` + variantColumns + `
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.product_id = ? AND v.size = ? AND v.deleted_at IS NULL
	`

	v := &domain.Variant{}
	err := r.db.QueryRowContext(ctx, query, id.ProductID, id.Size).Scan(
		&v.ID.ProductID,
		&v.ID.Size,
		&v.ProductName,
		&v.Price,
		&v.DiscountPrice,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query variant: %w", err)
	}
	return v, nil
}

func (r *Repository) ListVariants(ctx context.Context) ([]*domain.Variant, error) {
	query := `
		SELECT ` + variantColumns + `
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.deleted_at IS NULL
		ORDER BY v.product_id, v.size
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	var variants []*domain.Variant
	for rows.Next() {
		v := &domain.Variant{}
		if err := rows.Scan(
			&v.ID.ProductID,
			&v.ID.Size,
			&v.ProductName,
			&v.Price,
			&v.DiscountPrice,
		); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return variants, nil
}

// UpsertVariant creates the product when missing and (re)activates the variant.
func (r *Repository) UpsertVariant(ctx context.Context, v *domain.Variant) error {
	if err := v.ID.Validate(); err != nil {
		return err
	}
	if err := v.ValidatePrices(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name
	`, v.ID.ProductID, v.ProductName)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO product_variants (product_id, size, price, discount_price) VALUES (?, ?, ?, ?)
		ON CONFLICT (product_id, size) DO UPDATE SET
			price = excluded.price,
			discount_price = excluded.discount_price,
			deleted_at = NULL
	`, v.ID.ProductID, v.ID.Size, v.Price.String(), nullDecimalArg(v.DiscountPrice))
	if err != nil {
		return fmt.Errorf("upsert variant: %w", err)
	}

	return tx.Commit()
}

func (r *Repository) UpdatePrice(ctx context.Context, id domain.VariantID, price decimal.Decimal, discount decimal.NullDecimal) error {
	v := domain.Variant{ID: id, Price: price, DiscountPrice: discount}
	if err := v.ValidatePrices(); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE product_variants SET price = ?, discount_price = ?
		WHERE product_id = ? AND size = ? AND deleted_at IS NULL
	`, price.String(), nullDecimalArg(discount), id.ProductID, id.Size)
	if err != nil {
		return fmt.Errorf("update price: %w", err)
	}
	return expectOneRow(res, id)
}

// DeleteVariant soft-deletes the variant; historical orders keep their frozen copy.
func (r *Repository) DeleteVariant(ctx context.Context, id domain.VariantID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE product_variants SET deleted_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND size = ? AND deleted_at IS NULL
	`, id.ProductID, id.Size)
	if err != nil {
		return fmt.Errorf("delete variant: %w", err)
	}
	return expectOneRow(res, id)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func expectOneRow(res sql.Result, id domain.VariantID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrVariantNotFound, id)
	}
	return nil
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}
