package app

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/solecraft/checkout-service/internal/domain/order"
	"github.com/solecraft/checkout-service/internal/domain/payment"
)

// paymentClient adapts payment.Service to the order domain's PaymentClient
// contract so the two packages stay decoupled.
type paymentClient struct {
	svc *payment.Service
}

var _ order.PaymentClient = (*paymentClient)(nil)

func (p *paymentClient) CreateCheckoutSession(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (*order.CheckoutSession, error) {
	session, err := p.svc.CreateCheckoutSession(ctx, orderID, amount, currency)
	if err != nil {
		return nil, err
	}
	return &order.CheckoutSession{
		SessionID:  session.SessionID,
		PaymentURL: session.PaymentURL,
	}, nil
}

func (p *paymentClient) CreateRefund(ctx context.Context, orderID, sessionID string) (*order.Refund, error) {
	refund, err := p.svc.CreateRefund(ctx, orderID, sessionID)
	if err != nil {
		return nil, err
	}
	return &order.Refund{RefundID: refund.RefundID, Status: refund.Status}, nil
}

// orderNotifier relays webhook-confirmed payments to the order service. It is
// bound late because the order service itself depends on the payment service.
type orderNotifier struct {
	orders *order.Service
}

var _ payment.OrderNotifier = (*orderNotifier)(nil)

func (n *orderNotifier) PaymentSucceeded(ctx context.Context, orderID, sessionID string) error {
	return n.orders.HandlePaymentSuccess(ctx, orderID, sessionID)
}
