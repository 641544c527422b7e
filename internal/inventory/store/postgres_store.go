package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/database"
	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// MigrationsTable keeps the ledger's migration history apart from the order store's.
const MigrationsTable = "inventory_schema_migrations"

const sweepBatch = 100

// PostgresStore implements InventoryStore on versioned stock rows. Every mutation runs in one
// transaction that row-locks the touched variants in VariantID order.
type PostgresStore struct {
	db     *sql.DB
	ttl    time.Duration
	logger *zap.Logger

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

// NewPostgresStore runs the ledger migrations and starts the expiry sweeper.
func NewPostgresStore(db *sql.DB, migrationsDir string, ttl time.Duration, logger *zap.Logger) (*PostgresStore, error) {
	if migrationsDir != "" {
		if err := database.MigratePostgres(db, migrationsDir, MigrationsTable); err != nil {
			return nil, err
		}
	}
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &PostgresStore{
		db:          db,
		ttl:         ttl,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s, nil
}

func (s *PostgresStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), CleanupInterval)
			n, err := s.ExpireReservations(ctx)
			cancel()
			if err != nil {
				s.logger.Error("reservation sweep failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("expired reservations released", zap.Int("count", n))
			}
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *PostgresStore) GetStock(ctx context.Context, variants []domain.VariantID) ([]domain.StockInfo, error) {
	if len(variants) == 0 {
		return []domain.StockInfo{}, nil
	}

	pairs := make([]string, 0, len(variants))
	args := make([]any, 0, len(variants)*2)
	for i, id := range variants {
		pairs = append(pairs, fmt.Sprintf("($%d::BIGINT, $%d::TEXT)", i*2+1, i*2+2))
		args = append(args, id.ProductID, id.Size)
	}

	query := `SELECT product_id, size, total, reserved, version FROM stock
	          WHERE (product_id, size) IN (` + strings.Join(pairs, ", ") + `)
	          ORDER BY product_id, size`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StockInfo, 0, len(variants))
	for rows.Next() {
		var info domain.StockInfo
		if err := rows.Scan(&info.Variant.ProductID, &info.Variant.Size, &info.Total, &info.Reserved, &info.Version); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		result = append(result, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) TryReserve(ctx context.Context, checkoutID string, items []domain.ReservationItem) (*domain.Reservation, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}

	held := totals(items)
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal reservation items: %w", err)
	}

	now := time.Now().UTC()
	reservation := &domain.Reservation{
		ID:         uuid.New().String(),
		CheckoutID: checkoutID,
		Items:      append([]domain.ReservationItem(nil), items...),
		Status:     domain.StatusReserved,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		locked, err := lockStock(ctx, tx, sortedVariants(held))
		if err != nil {
			return err
		}

		err = evaluate(items, func(id domain.VariantID) (domain.StockInfo, bool) {
			info, ok := locked[id]
			return info, ok
		})
		if err != nil {
			return err
		}

		for _, id := range sortedVariants(held) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE stock SET reserved = reserved + $1, version = version + 1, updated_at = NOW()
				 WHERE product_id = $2 AND size = $3`,
				held[id], id.ProductID, id.Size); err != nil {
				return fmt.Errorf("reserve stock %s: %w", id, err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO stock_reservations (id, checkout_id, items, status, created_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			reservation.ID, checkoutID, itemsJSON, reservation.Status, reservation.CreatedAt, reservation.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// Commit is allowed while the reservation is still open, even past its expiry, as long as the
// sweeper has not claimed it yet.
func (s *PostgresStore) Commit(ctx context.Context, reservationID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		status, items, err := lockReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		switch status {
		case domain.StatusCommitted:
			return nil
		case domain.StatusExpired:
			return ErrReservationExpired
		case domain.StatusReleased:
			return ErrInvalidStatus
		}

		held := totals(items)
		for _, id := range sortedVariants(held) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE stock SET total = total - $1, reserved = reserved - $1, version = version + 1, updated_at = NOW()
				 WHERE product_id = $2 AND size = $3`,
				held[id], id.ProductID, id.Size); err != nil {
				return fmt.Errorf("commit stock %s: %w", id, err)
			}
		}
		return setReservationStatus(ctx, tx, reservationID, domain.StatusCommitted)
	})
}

func (s *PostgresStore) Release(ctx context.Context, reservationID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		status, items, err := lockReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		switch status {
		case domain.StatusReleased, domain.StatusExpired:
			return nil
		case domain.StatusCommitted:
			return ErrInvalidStatus
		}

		if err := restoreStock(ctx, tx, totals(items)); err != nil {
			return err
		}
		return setReservationStatus(ctx, tx, reservationID, domain.StatusReleased)
	})
}

func (s *PostgresStore) SetStock(ctx context.Context, variant domain.VariantID, quantity int32) error {
	if err := variant.Validate(); err != nil {
		return err
	}
	if quantity < 0 {
		return domain.NewValidationError("quantity", "must not be negative")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stock (product_id, size, total) VALUES ($1, $2, $3)
		 ON CONFLICT (product_id, size) DO UPDATE
		 SET total = EXCLUDED.total, version = stock.version + 1, updated_at = NOW()
		 WHERE stock.reserved <= EXCLUDED.total`,
		variant.ProductID, variant.Size, quantity)
	if err != nil {
		return classify(fmt.Errorf("set stock %s: %w", variant, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NewValidationError("quantity", "cannot drop below reserved stock")
	}
	return nil
}

// ExpireReservations releases open reservations past their expiry. Rows locked by an in-flight
// commit or release are skipped and picked up on a later sweep.
func (s *PostgresStore) ExpireReservations(ctx context.Context) (int, error) {
	var expired int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, items FROM stock_reservations
			 WHERE status = 'reserved' AND expires_at < NOW()
			 ORDER BY expires_at
			 LIMIT $1
			 FOR UPDATE SKIP LOCKED`, sweepBatch)
		if err != nil {
			return fmt.Errorf("query expired reservations: %w", err)
		}

		var ids []string
		held := make(map[domain.VariantID]int32)
		for rows.Next() {
			var id string
			var itemsJSON []byte
			if err := rows.Scan(&id, &itemsJSON); err != nil {
				rows.Close()
				return fmt.Errorf("scan reservation: %w", err)
			}
			var items []domain.ReservationItem
			if err := json.Unmarshal(itemsJSON, &items); err != nil {
				rows.Close()
				return fmt.Errorf("unmarshal reservation items: %w", err)
			}
			for v, q := range totals(items) {
				held[v] += q
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate reservations: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		if err := restoreStock(ctx, tx, held); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE stock_reservations SET status = 'expired' WHERE id = ANY($1)`,
			pq.Array(ids)); err != nil {
			return fmt.Errorf("expire reservations: %w", err)
		}
		expired = len(ids)
		return nil
	})
	return expired, err
}

// Close stops the sweeper. The pool belongs to the caller.
func (s *PostgresStore) Close() error {
	close(s.stopCleanup)
	s.wg.Wait()
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// lockStock row-locks variants in the given order and returns what it found.
func lockStock(ctx context.Context, tx *sql.Tx, ids []domain.VariantID) (map[domain.VariantID]domain.StockInfo, error) {
	out := make(map[domain.VariantID]domain.StockInfo, len(ids))
	for _, id := range ids {
		info := domain.StockInfo{Variant: id}
		err := tx.QueryRowContext(ctx,
			`SELECT total, reserved, version FROM stock WHERE product_id = $1 AND size = $2 FOR UPDATE`,
			id.ProductID, id.Size).Scan(&info.Total, &info.Reserved, &info.Version)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lock stock %s: %w", id, err)
		}
		out[id] = info
	}
	return out, nil
}

func lockReservation(ctx context.Context, tx *sql.Tx, id string) (domain.ReservationStatus, []domain.ReservationItem, error) {
	var status domain.ReservationStatus
	var itemsJSON []byte
	err := tx.QueryRowContext(ctx,
		`SELECT status, items FROM stock_reservations WHERE id = $1 FOR UPDATE`, id).
		Scan(&status, &itemsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrReservationNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("lock reservation: %w", err)
	}

	var items []domain.ReservationItem
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return "", nil, fmt.Errorf("unmarshal reservation items: %w", err)
	}
	return status, items, nil
}

func restoreStock(ctx context.Context, tx *sql.Tx, held map[domain.VariantID]int32) error {
	for _, id := range sortedVariants(held) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE stock SET reserved = reserved - $1, version = version + 1, updated_at = NOW()
			 WHERE product_id = $2 AND size = $3`,
			held[id], id.ProductID, id.Size); err != nil {
			return fmt.Errorf("release stock %s: %w", id, err)
		}
	}
	return nil
}

func setReservationStatus(ctx context.Context, tx *sql.Tx, id string, status domain.ReservationStatus) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE stock_reservations SET status = $1 WHERE id = $2`, status, id); err != nil {
		return fmt.Errorf("update reservation status: %w", err)
	}
	return nil
}

func sortedVariants(held map[domain.VariantID]int32) []domain.VariantID {
	ids := make([]domain.VariantID, 0, len(held))
	for id := range held {
		ids = append(ids, id)
	}
	sortVariants(ids)
	return ids
}

// classify maps serialization failures and deadlocks onto ErrConcurrencyConflict.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %w", domain.ErrConcurrencyConflict, err)
		}
	}
	return err
}
