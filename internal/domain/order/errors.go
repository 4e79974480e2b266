package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for guard violations. Handlers map these to client errors;
// anything else is an internal failure with the downstream cause preserved in
// the chain.
var (
	ErrCartEmpty           = errors.New("cart is empty")
	ErrNotFound            = errors.New("order not found")
	ErrNotCancelable       = errors.New("only pending orders can be canceled")
	ErrNotRefundable       = errors.New("order cannot be refunded")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrMissingSession      = errors.New("order has no checkout session")
	ErrRefundWindowExpired = errors.New("refund period expired")
	ErrExchangeNotAllowed  = errors.New("exchange not allowed")
	ErrReviewNotAllowed    = errors.New("reviews require a delivered order")

	// ErrIdempotencyConflict reports a create that lost the race on an
	// idempotency key: another request persisted the same key first.
	ErrIdempotencyConflict = errors.New("idempotency key already used")
)

// InvalidStatusError reports a status string outside the enum.
type InvalidStatusError struct {
	Status string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid order status %q", e.Status)
}

// TransitionError reports a guarded transition that is not allowed from the
// order's current status.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s is not allowed", e.From, e.To)
}

// PaymentUnavailableError wraps a checkout-session failure. The order was
// already persisted PENDING without a session when this is returned.
type PaymentUnavailableError struct {
	OrderID string
	Err     error
}

func (e *PaymentUnavailableError) Error() string {
	return fmt.Sprintf("checkout session for order %s unavailable: %v", e.OrderID, e.Err)
}

func (e *PaymentUnavailableError) Unwrap() error { return e.Err }
