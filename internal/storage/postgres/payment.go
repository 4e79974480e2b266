package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solecraft/checkout-service/internal/domain/payment"
)

const paymentColumns = `id, order_id, session_id, payment_intent, refund_id,
	amount, currency, status, created_at, updated_at`

const createPaymentSQL = `INSERT INTO payments
	(id, order_id, session_id, amount, currency, status)
	VALUES ($1, $2, $3, $4, $5, $6)`

const getPaymentBySessionSQL = `SELECT ` + paymentColumns + ` FROM payments
	WHERE session_id = $1`

const getPaymentByOrderAndSessionSQL = `SELECT ` + paymentColumns + ` FROM payments
	WHERE order_id = $1 AND session_id = $2`

const getPaymentByIntentSQL = `SELECT ` + paymentColumns + ` FROM payments
	WHERE payment_intent = $1`

const updatePaymentStatusSQL = `UPDATE payments
	SET status = $2, updated_at = now()
	WHERE id = $1`

const setPaymentIntentSQL = `UPDATE payments
	SET payment_intent = $2, status = $3, updated_at = now()
	WHERE id = $1`

const setPaymentRefundSQL = `UPDATE payments
	SET refund_id = $2, status = 'REFUNDED', updated_at = now()
	WHERE id = $1`

const touchPaymentSQL = `UPDATE payments SET updated_at = now() WHERE id = $1`

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	_, err := r.pool.Exec(ctx, createPaymentSQL,
		p.ID, p.OrderID, p.SessionID, p.Amount, p.Currency, p.Status,
	)
	if err != nil {
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

func (r *PaymentRepository) GetBySession(ctx context.Context, sessionID string) (*payment.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, getPaymentBySessionSQL, sessionID))
}

func (r *PaymentRepository) GetByOrderAndSession(ctx context.Context, orderID, sessionID string) (*payment.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, getPaymentByOrderAndSessionSQL, orderID, sessionID))
}

func (r *PaymentRepository) GetByIntent(ctx context.Context, paymentIntent string) (*payment.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, getPaymentByIntentSQL, paymentIntent))
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status payment.Status) error {
	tag, err := r.pool.Exec(ctx, updatePaymentStatusSQL, id, status)
	if err != nil {
		return fmt.Errorf("updating status of payment %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) SetIntent(ctx context.Context, id, paymentIntent string, status payment.Status) error {
	tag, err := r.pool.Exec(ctx, setPaymentIntentSQL, id, paymentIntent, status)
	if err != nil {
		return fmt.Errorf("setting intent on payment %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) SetRefund(ctx context.Context, id, refundID string) error {
	tag, err := r.pool.Exec(ctx, setPaymentRefundSQL, id, refundID)
	if err != nil {
		return fmt.Errorf("setting refund on payment %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) Touch(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, touchPaymentSQL, id)
	if err != nil {
		return fmt.Errorf("touching payment %q: %w", id, err)
	}
	return nil
}

func scanPayment(row pgx.Row) (*payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.SessionID, &p.PaymentIntent, &p.RefundID,
		&p.Amount, &p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning payment: %w", err)
	}
	return &p, nil
}
