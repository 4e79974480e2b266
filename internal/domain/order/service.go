package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/solecraft/checkout-service/internal/domain/cart"
	"github.com/solecraft/checkout-service/internal/domain/inventory"
	"github.com/solecraft/checkout-service/internal/domain/outbox"
)

const (
	refundWindow   = 30 * 24 * time.Hour
	exchangeWindow = 7 * 24 * time.Hour
)

// CheckoutSession is the payment collaborator's session handle for an order.
type CheckoutSession struct {
	SessionID  string
	PaymentURL string
}

// Refund is the payment collaborator's refund result.
type Refund struct {
	RefundID string
	Status   string
}

// PaymentClient is the slice of the payment collaborator the order workflow
// consumes. Amounts are decimal major units; the collaborator converts to
// minor units for the gateway.
type PaymentClient interface {
	CreateCheckoutSession(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (*CheckoutSession, error)
	CreateRefund(ctx context.Context, orderID, sessionID string) (*Refund, error)
}

// CreateOrderRequest is the input for checkout initiation. The idempotency
// key is caller-supplied; a repeated key returns the original order without
// side effects.
type CreateOrderRequest struct {
	UserID         string
	Address        Address
	IdempotencyKey string
}

// CreateOrderResult is returned to the client so it can redirect to the
// payment URL.
type CreateOrderResult struct {
	OrderID    string
	SessionID  string
	PaymentURL string
	TotalPrice decimal.Decimal
	Products   []LineItem
}

// Service orchestrates the order lifecycle: checkout initiation, the
// payment-success reconciliation, refunds, and the simple guarded
// transitions. Downstream side effects (clear cart, adjust inventory) go
// through the outbox, never inline.
type Service struct {
	orders   Repository
	carts    cart.Repository
	payments PaymentClient
	currency string
	now      func() time.Time
}

// NewService creates an order Service. currency is the ISO code every
// checkout session is created in.
func NewService(orders Repository, carts cart.Repository, payments PaymentClient, currency string) *Service {
	return &Service{
		orders:   orders,
		carts:    carts,
		payments: payments,
		currency: currency,
		now:      time.Now,
	}
}

// CreateOrder reads the caller's cart, snapshots it into a new PENDING order,
// and requests a checkout session keyed by the order id. The cart is not
// cleared here; that happens after payment confirmation, guarded by the cart
// version recorded now.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	lg := zctx.From(ctx).With(zap.String("user_id", req.UserID))

	if req.IdempotencyKey != "" {
		existing, err := s.orders.GetByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, errors.Wrap(err, "idempotency lookup")
		}
		if existing != nil {
			lg.Info("idempotency key replay, returning existing order",
				zap.String("order_id", existing.ID))
			return &CreateOrderResult{
				OrderID:    existing.ID,
				SessionID:  existing.SessionID,
				PaymentURL: existing.PaymentURL,
				TotalPrice: existing.TotalPrice,
				Products:   existing.Items,
			}, nil
		}
	}

	userCart, err := s.carts.Get(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			return nil, ErrCartEmpty
		}
		return nil, errors.Wrap(err, "get cart")
	}
	if len(userCart.Items) == 0 {
		return nil, ErrCartEmpty
	}

	items := make([]LineItem, len(userCart.Items))
	for i, it := range userCart.Items {
		items[i] = LineItem{
			ProductID:   it.ProductID,
			Description: it.Description,
			Color:       it.Color,
			Size:        it.Size,
			Quantity:    it.Quantity,
			Price:       it.Price,
		}
	}
	total := Subtotal(items).Round(2)

	o := &Order{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		Items:          items,
		Address:        req.Address,
		TotalPrice:     total,
		Currency:       s.currency,
		Status:         StatusPending,
		PaymentStatus:  PaymentPending,
		IdempotencyKey: req.IdempotencyKey,
		CartVersion:    userCart.Version,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		// Two requests with the same key can both miss the lookup above;
		// the loser re-reads the winner instead of surfacing the unique
		// violation.
		if errors.Is(err, ErrIdempotencyConflict) && req.IdempotencyKey != "" {
			winner, lookupErr := s.orders.GetByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
			if lookupErr != nil {
				return nil, errors.Wrap(lookupErr, "idempotency conflict lookup")
			}
			lg.Info("idempotency key race lost, returning existing order",
				zap.String("order_id", winner.ID))
			return &CreateOrderResult{
				OrderID:    winner.ID,
				SessionID:  winner.SessionID,
				PaymentURL: winner.PaymentURL,
				TotalPrice: winner.TotalPrice,
				Products:   winner.Items,
			}, nil
		}
		return nil, errors.Wrap(err, "create order")
	}
	lg.Info("order created", zap.String("order_id", o.ID), zap.String("total", total.String()))

	session, err := s.payments.CreateCheckoutSession(ctx, o.ID, total, s.currency)
	if err != nil {
		// The order stays PENDING without a session. It can be canceled by
		// the user or retried manually; nothing retries automatically.
		lg.Error("checkout session creation failed, order left pending",
			zap.String("order_id", o.ID), zap.Error(err))
		return nil, &PaymentUnavailableError{OrderID: o.ID, Err: err}
	}

	if err := s.orders.SetCheckoutSession(ctx, o.ID, session.SessionID, session.PaymentURL); err != nil {
		return nil, errors.Wrap(err, "store checkout session")
	}

	return &CreateOrderResult{
		OrderID:    o.ID,
		SessionID:  session.SessionID,
		PaymentURL: session.PaymentURL,
		TotalPrice: total,
		Products:   items,
	}, nil
}

// HandlePaymentSuccess marks the order placed and paid and enqueues the
// clear-cart and inventory-decrement tasks in the same transaction. Calling
// it again for an order that is already paid is a no-op, and an order that
// has left PENDING (canceled, refunded, overridden) is never pulled back:
// late or redelivered confirmations are logged and dropped.
func (s *Service) HandlePaymentSuccess(ctx context.Context, orderID, sessionID string) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if o.PaymentStatus == PaymentSucceeded {
		zctx.From(ctx).Info("payment success replayed, ignoring",
			zap.String("order_id", orderID))
		return nil
	}
	if o.Status != StatusPending {
		zctx.From(ctx).Warn("payment success for order no longer pending, ignoring",
			zap.String("order_id", orderID),
			zap.String("status", string(o.Status)))
		return nil
	}

	tasks, err := s.sideEffectTasks(o, inventory.Decrement, "payment-success")
	if err != nil {
		return err
	}
	if err := s.orders.MarkPaid(ctx, o.ID, sessionID, tasks); err != nil {
		return errors.Wrap(err, "mark paid")
	}

	zctx.From(ctx).Info("order placed",
		zap.String("order_id", o.ID), zap.String("session_id", sessionID))
	return nil
}

// RefundRequest is the input for a user-initiated refund.
type RefundRequest struct {
	OrderID string
	UserID  string
	Reason  string
}

// RefundResult reports the gateway refund id.
type RefundResult struct {
	OrderID  string
	RefundID string
}

// Refund enforces the eligibility guards, requests the refund from the
// payment collaborator, and flips the order to REFUNDED/REFUNDED while
// enqueueing inventory increments that restore the stock.
//
// If the gateway refund succeeds but the order save fails, the money is
// refunded and the order still reads PLACED — a manual-reconciliation case
// surfaced by the returned error.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	o, err := s.orders.GetByUser(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, err
	}

	if o.Status != StatusPlaced && o.Status != StatusDelivered {
		return nil, ErrNotRefundable
	}
	if o.PaymentStatus != PaymentSucceeded {
		return nil, ErrPaymentNotCompleted
	}
	if o.SessionID == "" {
		return nil, ErrMissingSession
	}
	if o.Age(s.now()) > refundWindow {
		return nil, ErrRefundWindowExpired
	}

	refund, err := s.payments.CreateRefund(ctx, o.ID, o.SessionID)
	if err != nil {
		return nil, errors.Wrap(err, "create refund")
	}

	tasks, err := s.sideEffectTasks(o, inventory.Increment, "refund")
	if err != nil {
		return nil, err
	}
	if err := s.orders.MarkRefunded(ctx, o.ID, refund.RefundID, tasks); err != nil {
		return nil, errors.Wrapf(err, "refund %s issued but order not marked, reconcile manually", refund.RefundID)
	}

	zctx.From(ctx).Info("order refunded",
		zap.String("order_id", o.ID),
		zap.String("refund_id", refund.RefundID),
		zap.String("reason", req.Reason))

	return &RefundResult{OrderID: o.ID, RefundID: refund.RefundID}, nil
}

// Cancel aborts a PENDING order. Any other status is rejected.
func (s *Service) Cancel(ctx context.Context, orderID, userID string) error {
	o, err := s.orders.GetByUser(ctx, orderID, userID)
	if err != nil {
		return err
	}
	if o.Status != StatusPending {
		return ErrNotCancelable
	}
	return s.orders.UpdateStatus(ctx, o.ID, StatusCanceled)
}

// Exchange marks a DELIVERED order exchanged within the 7-day window.
func (s *Service) Exchange(ctx context.Context, orderID, userID string) error {
	o, err := s.orders.GetByUser(ctx, orderID, userID)
	if err != nil {
		return err
	}
	if o.Status != StatusDelivered || o.Age(s.now()) > exchangeWindow {
		return ErrExchangeNotAllowed
	}
	return s.orders.UpdateStatus(ctx, o.ID, StatusExchanged)
}

// AddReview appends a product review to a DELIVERED order.
func (s *Service) AddReview(ctx context.Context, orderID, userID string, review Review) error {
	o, err := s.orders.GetByUser(ctx, orderID, userID)
	if err != nil {
		return err
	}
	if o.Status != StatusDelivered {
		return ErrReviewNotAllowed
	}
	return s.orders.AddReview(ctx, o.ID, review)
}

// GetByUser returns a single order, ownership-checked.
func (s *Service) GetByUser(ctx context.Context, orderID, userID string) (*Order, error) {
	return s.orders.GetByUser(ctx, orderID, userID)
}

// ListByUser returns the caller's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// UpdateStatusRequest is the admin status-override input.
type UpdateStatusRequest struct {
	OrderID string
	Status  string
	Actor   string
	Force   bool
	Reason  string
}

// UpdateStatus applies an admin status change. Guarded transitions apply
// unless Force is set; every forced bypass is written to the audit log.
func (s *Service) UpdateStatus(ctx context.Context, req UpdateStatusRequest) error {
	status, err := ToStatus(req.Status)
	if err != nil {
		return err
	}

	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return err
	}
	if o.Status == status {
		return nil
	}

	if !CanTransition(o.Status, status) {
		if !req.Force {
			return &TransitionError{From: o.Status, To: status}
		}
		zctx.From(ctx).Warn("forced status override",
			zap.String("order_id", o.ID),
			zap.String("actor", req.Actor),
			zap.String("from", string(o.Status)),
			zap.String("to", string(status)))
		return s.orders.UpdateStatusWithAudit(ctx, o.ID, status, AuditEntry{
			OrderID:    o.ID,
			Actor:      req.Actor,
			FromStatus: o.Status,
			ToStatus:   status,
			Forced:     true,
			Reason:     req.Reason,
		})
	}

	return s.orders.UpdateStatusWithAudit(ctx, o.ID, status, AuditEntry{
		OrderID:    o.ID,
		Actor:      req.Actor,
		FromStatus: o.Status,
		ToStatus:   status,
		Forced:     false,
		Reason:     req.Reason,
	})
}

// List returns one admin page of orders, newest first.
func (s *Service) List(ctx context.Context, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	orders, total, err := s.orders.List(ctx, page, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &Page{Orders: orders, Total: total, Page: page, TotalPages: totalPages}, nil
}

// sideEffectTasks builds the clear-cart and inventory tasks for an order.
// The step label keeps payment-success and refund enqueues distinct in the
// dedup key. Refunds move stock back, so they carry no clear-cart task.
func (s *Service) sideEffectTasks(o *Order, direction inventory.Direction, step string) ([]outbox.Task, error) {
	adjustments := make([]outbox.InventoryAdjustment, len(o.Items))
	for i, item := range o.Items {
		adjustments[i] = outbox.InventoryAdjustment{
			ProductID: item.ProductID,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  item.Quantity,
			Direction: string(direction),
		}
	}

	invTask, err := outbox.NewTask(o.ID, outbox.KindAdjustInventory, step, outbox.AdjustInventoryPayload{
		Adjustments: adjustments,
	})
	if err != nil {
		return nil, err
	}

	if direction != inventory.Decrement {
		return []outbox.Task{invTask}, nil
	}

	clearTask, err := outbox.NewTask(o.ID, outbox.KindClearCart, step, outbox.ClearCartPayload{
		UserID:      o.UserID,
		CartVersion: o.CartVersion,
	})
	if err != nil {
		return nil, err
	}
	return []outbox.Task{clearTask, invTask}, nil
}
