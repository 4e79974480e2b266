package payment

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
)

// OrderNotifier receives payment-status changes so the order domain stays in
// sync with the mirror. Implemented by the order service.
type OrderNotifier interface {
	PaymentSucceeded(ctx context.Context, orderID, sessionID string) error
}

// Service wraps the gateway and keeps the payment mirror current.
type Service struct {
	payments Repository
	gateway  Gateway
	orders   OrderNotifier
}

// NewService creates a payment Service. The notifier may not be nil; wire a
// no-op in tests that do not care about the relay.
func NewService(payments Repository, gateway Gateway, orders OrderNotifier) *Service {
	return &Service{
		payments: payments,
		gateway:  gateway,
		orders:   orders,
	}
}

// CheckoutSession is the session handle surfaced to the order domain.
type CheckoutSession struct {
	SessionID  string
	PaymentURL string
}

// Refund reports the gateway refund.
type Refund struct {
	RefundID string
	Status   string
}

// CreateCheckoutSession validates the currency, creates a gateway session for
// the order's total, and records a PENDING mirror row.
func (s *Service) CreateCheckoutSession(ctx context.Context, orderID string, amount decimal.Decimal, currencyCode string) (*CheckoutSession, error) {
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return nil, errors.Wrapf(err, "currency %q", currencyCode)
	}

	amountMinor, err := minorUnits(amount, unit)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, CreateSessionParams{
		OrderID:     orderID,
		AmountMinor: amountMinor,
		Currency:    unit.String(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "gateway create session")
	}

	p := &Payment{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		SessionID: session.ID,
		Amount:    amount,
		Currency:  unit.String(),
		Status:    StatusPending,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "persist payment")
	}

	zctx.From(ctx).Info("checkout session created",
		zap.String("order_id", orderID), zap.String("session_id", session.ID))

	return &CheckoutSession{SessionID: session.ID, PaymentURL: session.URL}, nil
}

// CreateRefund refunds the payment behind (orderID, sessionID). Already
// refunded payments are rejected; the refund amount is the full original
// amount.
func (s *Service) CreateRefund(ctx context.Context, orderID, sessionID string) (*Refund, error) {
	p, err := s.payments.GetByOrderAndSession(ctx, orderID, sessionID)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusRefunded {
		return nil, ErrAlreadyRefunded
	}

	intent := p.PaymentIntent
	if intent == "" {
		// Session completed before the webhook recorded the intent; ask the
		// gateway directly.
		session, err := s.gateway.GetSession(ctx, sessionID)
		if err != nil {
			return nil, errors.Wrap(err, "gateway get session")
		}
		if session.PaymentIntent == "" {
			return nil, ErrNoPaymentIntent
		}
		intent = session.PaymentIntent
	}

	unit, err := currency.ParseISO(p.Currency)
	if err != nil {
		return nil, errors.Wrapf(err, "currency %q", p.Currency)
	}
	amountMinor, err := minorUnits(p.Amount, unit)
	if err != nil {
		return nil, err
	}

	refund, err := s.gateway.CreateRefund(ctx, RefundParams{
		OrderID:       orderID,
		PaymentIntent: intent,
		AmountMinor:   amountMinor,
	})
	if err != nil {
		return nil, errors.Wrap(err, "gateway create refund")
	}

	if err := s.payments.SetRefund(ctx, p.ID, refund.ID); err != nil {
		return nil, errors.Wrapf(err, "refund %s issued but mirror not updated", refund.ID)
	}

	zctx.From(ctx).Info("refund created",
		zap.String("order_id", orderID), zap.String("refund_id", refund.ID))

	return &Refund{RefundID: refund.ID, Status: string(StatusRefunded)}, nil
}

// Event is one gateway webhook event.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// sessionObject is the checkout.session.* event payload slice we consume.
type sessionObject struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
}

// chargeObject is the charge.* event payload slice we consume. Charges
// correlate by payment intent, not session id.
type chargeObject struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
}

// HandleWebhook applies one gateway event to the mirror. A completed session
// additionally relays to the order domain so Order.paymentStatus converges
// without a client callback. Unknown event types are logged and ignored;
// events for unknown payments are ignored too (the gateway retries webhooks,
// ordering is not guaranteed).
func (s *Service) HandleWebhook(ctx context.Context, event Event) error {
	lg := zctx.From(ctx).With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

	switch event.Type {
	case "checkout.session.completed":
		var session sessionObject
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return errors.Wrap(err, "decode session object")
		}
		p, err := s.payments.GetBySession(ctx, session.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				lg.Warn("webhook for unknown session", zap.String("session_id", session.ID))
				return nil
			}
			return err
		}
		if err := s.payments.SetIntent(ctx, p.ID, session.PaymentIntent, StatusSucceeded); err != nil {
			return errors.Wrap(err, "mark succeeded")
		}
		if err := s.orders.PaymentSucceeded(ctx, p.OrderID, p.SessionID); err != nil {
			// The mirror is updated; the order side retries via webhook
			// redelivery or the client callback.
			return errors.Wrap(err, "relay payment success")
		}
		return nil

	case "checkout.session.expired":
		return s.updateBySession(ctx, event, StatusExpired)

	case "charge.succeeded":
		return s.updateByIntent(ctx, event, StatusSucceeded)

	case "charge.failed":
		return s.updateByIntent(ctx, event, StatusFailed)

	case "charge.updated":
		var charge chargeObject
		if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
			return errors.Wrap(err, "decode charge object")
		}
		p, err := s.payments.GetByIntent(ctx, charge.PaymentIntent)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		return s.payments.Touch(ctx, p.ID)

	default:
		lg.Info("ignoring unhandled webhook event type")
		return nil
	}
}

func (s *Service) updateBySession(ctx context.Context, event Event, status Status) error {
	var session sessionObject
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return errors.Wrap(err, "decode session object")
	}
	p, err := s.payments.GetBySession(ctx, session.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.payments.UpdateStatus(ctx, p.ID, status)
}

func (s *Service) updateByIntent(ctx context.Context, event Event, status Status) error {
	var charge chargeObject
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return errors.Wrap(err, "decode charge object")
	}
	p, err := s.payments.GetByIntent(ctx, charge.PaymentIntent)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.payments.UpdateStatus(ctx, p.ID, status)
}

// minorUnits converts a decimal major-unit amount to the currency's integer
// minor units. The shift comes from the currency's rounding data, so zero
// -decimal currencies like JPY are not inflated a hundredfold. Amounts with
// a fraction finer than the currency's minor unit are rejected.
func minorUnits(amount decimal.Decimal, unit currency.Unit) (int64, error) {
	scale, _ := currency.Standard.Rounding(unit)
	minor := amount.Shift(int32(scale))
	if !minor.IsInteger() {
		return 0, errors.Errorf("amount %s has a fraction below the minor unit of %s", amount, unit)
	}
	return minor.IntPart(), nil
}
