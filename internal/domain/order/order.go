package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solecraft/checkout-service/internal/domain/outbox"
)

// Status is the fulfilment state of an order. It is independent from the
// payment state: an order can be PLACED while its payment is still PENDING
// and vice versa.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPlaced    Status = "PLACED"
	StatusCanceled  Status = "CANCELED"
	StatusDelivered Status = "DELIVERED"
	StatusExchanged Status = "EXCHANGED"
	StatusRefunded  Status = "REFUNDED"
)

// PaymentStatus mirrors the payment lifecycle as seen by the order domain.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

var validStatuses = map[Status]struct{}{
	StatusPending:   {},
	StatusPlaced:    {},
	StatusCanceled:  {},
	StatusDelivered: {},
	StatusExchanged: {},
	StatusRefunded:  {},
}

// ToStatus parses a status string, rejecting anything outside the enum.
func ToStatus(s string) (Status, error) {
	status := Status(s)
	if _, ok := validStatuses[status]; !ok {
		return "", &InvalidStatusError{Status: s}
	}
	return status, nil
}

// allowedTransitions is the guarded state machine. CANCELED, EXCHANGED and
// REFUNDED are terminal; nothing transitions out of them except via the
// audited admin override.
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusPlaced, StatusCanceled},
	StatusPlaced:    {StatusDelivered, StatusRefunded},
	StatusDelivered: {StatusExchanged, StatusRefunded},
}

// CanTransition reports whether from -> to is a guarded transition.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LineItem is a snapshot of one cart line, copied at order-creation time.
// Prices and descriptions are frozen here and never re-resolved against the
// live catalog.
type LineItem struct {
	ProductID   string          `json:"product_id"`
	Description string          `json:"description"`
	Color       string          `json:"color"`
	Size        string          `json:"size"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// Address is the shipping address embedded in the order, immutable after
// creation.
type Address struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Street      string `json:"street"`
	City        string `json:"city"`
	State       string `json:"state"`
	Country     string `json:"country"`
	PostalCode  string `json:"postal_code"`
}

// Review is a per-product review attached to a delivered order.
type Review struct {
	ProductID string `json:"product_id"`
	Review    string `json:"review"`
}

// Order is the central aggregate of the checkout workflow. It is exclusively
// owned and mutated by this service.
type Order struct {
	ID             string
	UserID         string
	Items          []LineItem
	Address        Address
	TotalPrice     decimal.Decimal
	Currency       string
	Status         Status
	PaymentStatus  PaymentStatus
	SessionID      string
	PaymentURL     string
	RefundID       string
	Reviews        []Review
	IdempotencyKey string
	// CartVersion is the cart's optimistic-concurrency version observed at
	// checkout. The deferred clear-cart task compares against it so a cart
	// modified after checkout is not wiped.
	CartVersion int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Subtotal sums quantity times unit price over all line items.
func Subtotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// Age returns how long ago the order was created.
func (o *Order) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}

// Page is one page of the admin order listing.
type Page struct {
	Orders     []Order
	Total      int64
	Page       int
	TotalPages int
}

// AuditEntry records one admin status override, forced or not.
type AuditEntry struct {
	OrderID    string
	Actor      string
	FromStatus Status
	ToStatus   Status
	Forced     bool
	Reason     string
}

// Repository defines persistence operations for orders. Methods that take a
// userID scope the lookup to that owner.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, orderID string) (*Order, error)
	GetByUser(ctx context.Context, orderID, userID string) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	List(ctx context.Context, page, limit int) ([]Order, int64, error)

	// SetCheckoutSession stores the gateway session handle after checkout
	// session creation.
	SetCheckoutSession(ctx context.Context, orderID, sessionID, paymentURL string) error

	// MarkPaid flips the order to PLACED/SUCCEEDED and enqueues the given
	// side-effect tasks in the same transaction.
	MarkPaid(ctx context.Context, orderID, sessionID string, tasks []outbox.Task) error

	// MarkRefunded flips the order to REFUNDED/REFUNDED, stores the refund id
	// and enqueues the given side-effect tasks in the same transaction.
	MarkRefunded(ctx context.Context, orderID, refundID string, tasks []outbox.Task) error

	UpdateStatus(ctx context.Context, orderID string, status Status) error
	UpdateStatusWithAudit(ctx context.Context, orderID string, status Status, audit AuditEntry) error
	AddReview(ctx context.Context, orderID string, review Review) error
}
