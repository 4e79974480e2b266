// Package payment owns the gateway-facing half of the checkout workflow: the
// checkout-session and refund calls, the local payment-status mirror, and
// the webhook reconciliation. The mirror is the authoritative payment state;
// status changes relay to the order domain instead of waiting for a
// client-triggered callback.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the gateway-level payment state.
type Status string

const (
	StatusRequiresPaymentMethod Status = "REQUIRES_PAYMENT_METHOD"
	StatusPending               Status = "PENDING"
	StatusSucceeded             Status = "SUCCEEDED"
	StatusFailed                Status = "FAILED"
	StatusExpired               Status = "EXPIRED"
	StatusRefunded              Status = "REFUNDED"
)

// Sentinel errors for the payment mirror.
var (
	ErrNotFound        = errors.New("payment not found")
	ErrAlreadyRefunded = errors.New("payment already refunded")
	ErrNoPaymentIntent = errors.New("checkout session has no payment intent")
)

// Payment mirrors one order's payment lifecycle. Created on checkout-session
// creation, mutated only by webhook events and refund calls.
type Payment struct {
	ID            string
	OrderID       string
	SessionID     string
	PaymentIntent string
	RefundID      string
	Amount        decimal.Decimal
	Currency      string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository defines persistence for the payment mirror.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetBySession(ctx context.Context, sessionID string) (*Payment, error)
	GetByOrderAndSession(ctx context.Context, orderID, sessionID string) (*Payment, error)
	GetByIntent(ctx context.Context, paymentIntent string) (*Payment, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	// SetIntent records the payment intent once the gateway reports it and
	// moves the payment to the given status.
	SetIntent(ctx context.Context, id, paymentIntent string, status Status) error
	SetRefund(ctx context.Context, id, refundID string) error
	// Touch bumps updated_at without changing the status.
	Touch(ctx context.Context, id string) error
}

// GatewaySession is the gateway's view of a checkout session.
type GatewaySession struct {
	ID            string
	URL           string
	PaymentIntent string
}

// GatewayRefund is the gateway's view of a refund.
type GatewayRefund struct {
	ID     string
	Status string
}

// CreateSessionParams parameterizes a gateway checkout-session call. Amounts
// are minor currency units.
type CreateSessionParams struct {
	OrderID     string
	AmountMinor int64
	Currency    string
}

// RefundParams parameterizes a gateway refund call.
type RefundParams struct {
	OrderID       string
	PaymentIntent string
	AmountMinor   int64
}

// Gateway is the third-party checkout/refund API.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, p CreateSessionParams) (*GatewaySession, error)
	GetSession(ctx context.Context, sessionID string) (*GatewaySession, error)
	CreateRefund(ctx context.Context, p RefundParams) (*GatewayRefund, error)
}

// GatewayError carries the gateway's own error classification so callers can
// tell a declined card from a network failure.
type GatewayError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error (%d %s): %s", e.StatusCode, e.Type, e.Message)
}
