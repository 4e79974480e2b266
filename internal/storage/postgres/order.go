package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solecraft/checkout-service/internal/domain/order"
	"github.com/solecraft/checkout-service/internal/domain/outbox"
)

// pgUniqueViolation is the PostgreSQL error code for unique_violation.
const pgUniqueViolation = "23505"

const orderColumns = `id, user_id, items, address, total_price, currency,
	status, payment_status, session_id, payment_url, refund_id, reviews,
	COALESCE(idempotency_key, ''), cart_version, created_at, updated_at`

const createOrderSQL = `INSERT INTO orders
	(id, user_id, items, address, total_price, currency, status, payment_status,
	 idempotency_key, cart_version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`

const getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

const getOrderByUserSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE id = $1 AND user_id = $2`

const getOrderByKeySQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE user_id = $1 AND idempotency_key = $2`

const listByUserSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE user_id = $1 ORDER BY created_at DESC`

const listOrdersSQL = `SELECT ` + orderColumns + `, COUNT(*) OVER () FROM orders
	ORDER BY created_at DESC LIMIT $1 OFFSET $2`

const setSessionSQL = `UPDATE orders
	SET session_id = $2, payment_url = $3, updated_at = now()
	WHERE id = $1`

const markPaidSQL = `UPDATE orders
	SET status = 'PLACED', payment_status = 'SUCCEEDED', session_id = $2,
	    updated_at = now()
	WHERE id = $1 AND status = 'PENDING'`

const markRefundedSQL = `UPDATE orders
	SET status = 'REFUNDED', payment_status = 'REFUNDED', refund_id = $2,
	    updated_at = now()
	WHERE id = $1`

const updateStatusSQL = `UPDATE orders
	SET status = $2, updated_at = now()
	WHERE id = $1`

const addReviewSQL = `UPDATE orders
	SET reviews = reviews || $2::jsonb, updated_at = now()
	WHERE id = $1`

const insertAuditSQL = `INSERT INTO order_audit
	(order_id, actor, from_status, to_status, forced, reason)
	VALUES ($1, $2, $3, $4, $5, $6)`

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items, the shipping address and reviews live in JSONB columns because they
// are immutable snapshots read back as a unit.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addressJSON, err := json.Marshal(o.Address)
	if err != nil {
		return fmt.Errorf("marshaling order address: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, itemsJSON, addressJSON, o.TotalPrice, o.Currency,
		o.Status, o.PaymentStatus, o.IdempotencyKey, o.CartVersion,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation &&
			pgErr.ConstraintName == "idx_orders_idempotency" {
			return order.ErrIdempotencyConflict
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, orderID string) (*order.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, getOrderSQL, orderID))
}

func (r *OrderRepository) GetByUser(ctx context.Context, orderID, userID string) (*order.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, getOrderByUserSQL, orderID, userID))
}

func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, userID, key string) (*order.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, getOrderByKeySQL, userID, key))
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (r *OrderRepository) List(ctx context.Context, page, limit int) ([]order.Order, int64, error) {
	offset := (page - 1) * limit
	rows, err := r.pool.Query(ctx, listOrdersSQL, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []order.Order
		total  int64
	)
	for rows.Next() {
		var (
			o       order.Order
			items   []byte
			address []byte
			reviews []byte
		)
		err := rows.Scan(
			&o.ID, &o.UserID, &items, &address, &o.TotalPrice, &o.Currency,
			&o.Status, &o.PaymentStatus, &o.SessionID, &o.PaymentURL,
			&o.RefundID, &reviews, &o.IdempotencyKey, &o.CartVersion,
			&o.CreatedAt, &o.UpdatedAt, &total,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning order: %w", err)
		}
		if err := unmarshalOrderJSON(&o, items, address, reviews); err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

func (r *OrderRepository) SetCheckoutSession(ctx context.Context, orderID, sessionID, paymentURL string) error {
	tag, err := r.pool.Exec(ctx, setSessionSQL, orderID, sessionID, paymentURL)
	if err != nil {
		return fmt.Errorf("storing checkout session for order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// MarkPaid flips the order to PLACED/SUCCEEDED and enqueues the side-effect
// tasks in the same transaction, so a crash cannot pay the order without
// recording the follow-up work. The UPDATE only matches PENDING orders:
// concurrent confirmations race on the status column, never on the service's
// earlier read, so an order that already left PENDING reports ErrNotFound
// instead of being resurrected.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID, sessionID string, tasks []outbox.Task) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, markPaidSQL, orderID, sessionID)
		if err != nil {
			return fmt.Errorf("marking order %q paid: %w", orderID, err)
		}
		if tag.RowsAffected() == 0 {
			return order.ErrNotFound
		}
		return insertTasks(ctx, tx, tasks)
	})
}

// MarkRefunded flips the order to REFUNDED/REFUNDED and enqueues the
// side-effect tasks in the same transaction.
func (r *OrderRepository) MarkRefunded(ctx context.Context, orderID, refundID string, tasks []outbox.Task) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, markRefundedSQL, orderID, refundID)
		if err != nil {
			return fmt.Errorf("marking order %q refunded: %w", orderID, err)
		}
		if tag.RowsAffected() == 0 {
			return order.ErrNotFound
		}
		return insertTasks(ctx, tx, tasks)
	})
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status order.Status) error {
	tag, err := r.pool.Exec(ctx, updateStatusSQL, orderID, status)
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// UpdateStatusWithAudit records the override and applies it atomically.
func (r *OrderRepository) UpdateStatusWithAudit(ctx context.Context, orderID string, status order.Status, audit order.AuditEntry) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateStatusSQL, orderID, status)
		if err != nil {
			return fmt.Errorf("updating status of order %q: %w", orderID, err)
		}
		if tag.RowsAffected() == 0 {
			return order.ErrNotFound
		}
		_, err = tx.Exec(ctx, insertAuditSQL,
			audit.OrderID, audit.Actor, audit.FromStatus, audit.ToStatus,
			audit.Forced, audit.Reason,
		)
		if err != nil {
			return fmt.Errorf("recording audit for order %q: %w", orderID, err)
		}
		return nil
	})
}

func (r *OrderRepository) AddReview(ctx context.Context, orderID string, review order.Review) error {
	reviewJSON, err := json.Marshal([]order.Review{review})
	if err != nil {
		return fmt.Errorf("marshaling review: %w", err)
	}
	tag, err := r.pool.Exec(ctx, addReviewSQL, orderID, reviewJSON)
	if err != nil {
		return fmt.Errorf("adding review to order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// inTx runs fn inside a transaction, committing when it returns nil.
func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o       order.Order
		items   []byte
		address []byte
		reviews []byte
	)
	err := row.Scan(
		&o.ID, &o.UserID, &items, &address, &o.TotalPrice, &o.Currency,
		&o.Status, &o.PaymentStatus, &o.SessionID, &o.PaymentURL,
		&o.RefundID, &reviews, &o.IdempotencyKey, &o.CartVersion,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning order: %w", err)
	}
	if err := unmarshalOrderJSON(&o, items, address, reviews); err != nil {
		return nil, err
	}
	return &o, nil
}

func unmarshalOrderJSON(o *order.Order, items, address, reviews []byte) error {
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return fmt.Errorf("unmarshaling items of order %q: %w", o.ID, err)
	}
	if err := json.Unmarshal(address, &o.Address); err != nil {
		return fmt.Errorf("unmarshaling address of order %q: %w", o.ID, err)
	}
	if err := json.Unmarshal(reviews, &o.Reviews); err != nil {
		return fmt.Errorf("unmarshaling reviews of order %q: %w", o.ID, err)
	}
	return nil
}
