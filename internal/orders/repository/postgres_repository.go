package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/database"
	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	MigrationsTable = "orders_schema_migrations"

	idempotencyConstraint = "uq_orders_user_idempotency"
)

type PostgresRepository struct {
	db *sql.DB
}

var (
	_ OrderRepository  = (*PostgresRepository)(nil)
	_ OutboxRepository = (*PostgresRepository)(nil)
)

// NewPostgresRepository applies the orders migrations from migrationsDir (skipped when empty).
// The caller owns db.
func NewPostgresRepository(db *sql.DB, migrationsDir string) (*PostgresRepository, error) {
	if migrationsDir != "" {
		if err := database.MigratePostgres(db, migrationsDir, MigrationsTable); err != nil {
			return nil, err
		}
	}
	return &PostgresRepository{db: db}, nil
}

// Save writes the order, its lines and the order.placed outbox row in one transaction.
func (r *PostgresRepository) Save(ctx context.Context, order *domain.Order) error {
	payload, err := orderPlacedPayload(order)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistFailure, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistError(ctx, "begin transaction", err)
	}
	defer tx.Rollback()

	key := sql.NullString{String: order.IdempotencyKey, Valid: order.IdempotencyKey != ""}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, checkout_id, user_id, idempotency_key, total_amount, currency, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		order.ID,
		order.CheckoutID,
		order.UserID,
		key,
		order.TotalAmount,
		order.Currency,
		order.Status,
		order.CreatedAt,
	)
	if err != nil {
		return persistError(ctx, "insert order", err)
	}

	for i, line := range order.Lines {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_lines (order_id, line_no, product_id, size, product_name, quantity, unit_price, subtotal)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			order.ID,
			i+1,
			line.Variant.ProductID,
			line.Variant.Size,
			line.ProductName,
			line.Quantity,
			line.UnitPrice,
			line.Subtotal,
		)
		if err != nil {
			return persistError(ctx, "insert order line", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
		order.ID.String(),
		domain.EventOrderPlaced,
		[]byte(payload),
	)
	if err != nil {
		return persistError(ctx, "insert outbox event", err)
	}

	if err := tx.Commit(); err != nil {
		return persistError(ctx, "commit order", err)
	}
	return nil
}

const selectOrder = `SELECT id, checkout_id, user_id, COALESCE(idempotency_key, ''), total_amount, currency, status, created_at
	FROM orders`

func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrder+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *PostgresRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx,
		selectOrder+` WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *PostgresRepository) FindByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, selectOrder+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	if err := r.loadLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// loadLines fills Lines of every order with a single query.
func (r *PostgresRepository) loadLines(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*domain.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		o.Lines = make([]domain.OrderLine, 0)
		byID[o.ID] = o
		ids = append(ids, o.ID.String())
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT order_id, product_id, size, product_name, quantity, unit_price, subtotal
		 FROM order_lines WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, line_no`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID uuid.UUID
		var line domain.OrderLine
		if err := rows.Scan(
			&orderID,
			&line.Variant.ProductID,
			&line.Variant.Size,
			&line.ProductName,
			&line.Quantity,
			&line.UnitPrice,
			&line.Subtotal,
		); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Lines = append(o.Lines, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, aggregate_id, event_type, payload, created_at
		 FROM outbox_events WHERE processed_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Payload = payload
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *PostgresRepository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("outbox event %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) PurgeProcessedEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM outbox_events WHERE processed_at IS NOT NULL AND processed_at < $1`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge outbox events: %w", err)
	}
	return res.RowsAffected()
}

// Close is a no-op; the pool belongs to the caller.
func (r *PostgresRepository) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	err := row.Scan(
		&order.ID,
		&order.CheckoutID,
		&order.UserID,
		&order.IdempotencyKey,
		&order.TotalAmount,
		&order.Currency,
		&order.Status,
		&order.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	order.CreatedAt = order.CreatedAt.UTC()
	return &order, nil
}

// persistError classifies a failed write. A cancelled or expired context is reported as such so
// callers can tell a timeout from a database failure.
func persistError(ctx context.Context, op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == idempotencyConstraint {
		return ErrDuplicateCheckout
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w: %v", op, ctxErr, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistFailure, err)
}
