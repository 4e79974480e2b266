package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/solecraft/checkout-service/internal/auth"
	"github.com/solecraft/checkout-service/internal/domain/cart"
	"github.com/solecraft/checkout-service/internal/domain/order"
	"github.com/solecraft/checkout-service/internal/domain/outbox"
	"github.com/solecraft/checkout-service/internal/domain/payment"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var webhookSecret = []byte("whsec_test")

// --- In-memory fakes shared by the handler tests ---

type fakeOrderRepo struct {
	byID map[string]*order.Order
}

func newFakeOrderRepo(orders ...*order.Order) *fakeOrderRepo {
	byID := make(map[string]*order.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	return &fakeOrderRepo{byID: byID}
}

func (f *fakeOrderRepo) Create(_ context.Context, o *order.Order) error {
	f.byID[o.ID] = o
	return nil
}

func (f *fakeOrderRepo) GetByID(_ context.Context, orderID string) (*order.Order, error) {
	o, ok := f.byID[orderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderRepo) GetByUser(_ context.Context, orderID, userID string) (*order.Order, error) {
	o, ok := f.byID[orderID]
	if !ok || o.UserID != userID {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderRepo) GetByIdempotencyKey(_ context.Context, userID, key string) (*order.Order, error) {
	for _, o := range f.byID {
		if o.UserID == userID && o.IdempotencyKey == key {
			return o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (f *fakeOrderRepo) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	var out []order.Order
	for _, o := range f.byID {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderRepo) List(_ context.Context, _, _ int) ([]order.Order, int64, error) {
	var out []order.Order
	for _, o := range f.byID {
		out = append(out, *o)
	}
	return out, int64(len(out)), nil
}

func (f *fakeOrderRepo) SetCheckoutSession(_ context.Context, orderID, sessionID, paymentURL string) error {
	o, ok := f.byID[orderID]
	if !ok {
		return order.ErrNotFound
	}
	o.SessionID = sessionID
	o.PaymentURL = paymentURL
	return nil
}

func (f *fakeOrderRepo) MarkPaid(_ context.Context, orderID, sessionID string, _ []outbox.Task) error {
	o, ok := f.byID[orderID]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = order.StatusPlaced
	o.PaymentStatus = order.PaymentSucceeded
	o.SessionID = sessionID
	return nil
}

func (f *fakeOrderRepo) MarkRefunded(_ context.Context, orderID, refundID string, _ []outbox.Task) error {
	o, ok := f.byID[orderID]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = order.StatusRefunded
	o.PaymentStatus = order.PaymentRefunded
	o.RefundID = refundID
	return nil
}

func (f *fakeOrderRepo) UpdateStatus(_ context.Context, orderID string, status order.Status) error {
	o, ok := f.byID[orderID]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = status
	return nil
}

func (f *fakeOrderRepo) UpdateStatusWithAudit(ctx context.Context, orderID string, status order.Status, _ order.AuditEntry) error {
	return f.UpdateStatus(ctx, orderID, status)
}

func (f *fakeOrderRepo) AddReview(_ context.Context, orderID string, review order.Review) error {
	o, ok := f.byID[orderID]
	if !ok {
		return order.ErrNotFound
	}
	o.Reviews = append(o.Reviews, review)
	return nil
}

type fakeCartRepo struct {
	cart *cart.Cart
}

func (f *fakeCartRepo) Get(_ context.Context, _ string) (*cart.Cart, error) {
	if f.cart == nil {
		return nil, cart.ErrNotFound
	}
	return f.cart, nil
}

func (f *fakeCartRepo) Clear(_ context.Context, _ string, _ int64) error { return nil }

func (f *fakeCartRepo) Upsert(_ context.Context, _ string, _ []cart.Item) error { return nil }

type fakePaymentRepo struct {
	bySession map[string]*payment.Payment
}

func newFakePaymentRepo(payments ...*payment.Payment) *fakePaymentRepo {
	bySession := make(map[string]*payment.Payment, len(payments))
	for _, p := range payments {
		bySession[p.SessionID] = p
	}
	return &fakePaymentRepo{bySession: bySession}
}

func (f *fakePaymentRepo) Create(_ context.Context, p *payment.Payment) error {
	f.bySession[p.SessionID] = p
	return nil
}

func (f *fakePaymentRepo) GetBySession(_ context.Context, sessionID string) (*payment.Payment, error) {
	p, ok := f.bySession[sessionID]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return p, nil
}

func (f *fakePaymentRepo) GetByOrderAndSession(_ context.Context, orderID, sessionID string) (*payment.Payment, error) {
	p, ok := f.bySession[sessionID]
	if !ok || p.OrderID != orderID {
		return nil, payment.ErrNotFound
	}
	return p, nil
}

func (f *fakePaymentRepo) GetByIntent(_ context.Context, intent string) (*payment.Payment, error) {
	for _, p := range f.bySession {
		if p.PaymentIntent == intent {
			return p, nil
		}
	}
	return nil, payment.ErrNotFound
}

func (f *fakePaymentRepo) UpdateStatus(_ context.Context, id string, status payment.Status) error {
	for _, p := range f.bySession {
		if p.ID == id {
			p.Status = status
		}
	}
	return nil
}

func (f *fakePaymentRepo) SetIntent(_ context.Context, id, intent string, status payment.Status) error {
	for _, p := range f.bySession {
		if p.ID == id {
			p.PaymentIntent = intent
			p.Status = status
		}
	}
	return nil
}

func (f *fakePaymentRepo) SetRefund(_ context.Context, id, refundID string) error {
	for _, p := range f.bySession {
		if p.ID == id {
			p.RefundID = refundID
			p.Status = payment.StatusRefunded
		}
	}
	return nil
}

func (f *fakePaymentRepo) Touch(_ context.Context, _ string) error { return nil }

type fakeGateway struct{}

func (fakeGateway) CreateCheckoutSession(_ context.Context, p payment.CreateSessionParams) (*payment.GatewaySession, error) {
	return &payment.GatewaySession{ID: "cs_" + p.OrderID, URL: "https://pay.example/" + p.OrderID}, nil
}

func (fakeGateway) GetSession(_ context.Context, sessionID string) (*payment.GatewaySession, error) {
	return &payment.GatewaySession{ID: sessionID, PaymentIntent: "pi_1"}, nil
}

func (fakeGateway) CreateRefund(_ context.Context, _ payment.RefundParams) (*payment.GatewayRefund, error) {
	return &payment.GatewayRefund{ID: "re_1", Status: "succeeded"}, nil
}

// --- Test server setup ---

type testServer struct {
	router *gin.Engine
	redis  *miniredis.Miniredis
	orders *fakeOrderRepo
}

func newTestServer(t *testing.T, orders *fakeOrderRepo, carts *fakeCartRepo, payments *fakePaymentRepo) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	paymentSvc := payment.NewService(payments, fakeGateway{}, noopNotifier{})
	orderSvc := order.NewService(orders, carts, &servicePaymentClient{svc: paymentSvc}, "usd")

	h := New(orderSvc, paymentSvc, auth.NewVerifier([]byte("jwt-secret"), cache), webhookSecret)
	router := gin.New()
	h.Register(router)

	return &testServer{router: router, redis: mr, orders: orders}
}

type noopNotifier struct{}

func (noopNotifier) PaymentSucceeded(context.Context, string, string) error { return nil }

// servicePaymentClient bridges payment.Service to order.PaymentClient the
// same way the application wiring does.
type servicePaymentClient struct {
	svc *payment.Service
}

func (c *servicePaymentClient) CreateCheckoutSession(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (*order.CheckoutSession, error) {
	s, err := c.svc.CreateCheckoutSession(ctx, orderID, amount, currency)
	if err != nil {
		return nil, err
	}
	return &order.CheckoutSession{SessionID: s.SessionID, PaymentURL: s.PaymentURL}, nil
}

func (c *servicePaymentClient) CreateRefund(ctx context.Context, orderID, sessionID string) (*order.Refund, error) {
	r, err := c.svc.CreateRefund(ctx, orderID, sessionID)
	if err != nil {
		return nil, err
	}
	return &order.Refund{RefundID: r.RefundID, Status: r.Status}, nil
}

// token mints a JWT and registers it in the session cache, mirroring what
// the auth service does on login.
func (s *testServer) token(t *testing.T, entityID, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"entityId": entityID,
		"deviceId": "dev-1",
		"role":     role,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("jwt-secret"))
	require.NoError(t, err)
	s.redis.Set(auth.CacheKey(role, entityID, "dev-1"), token)
	return token
}

func (s *testServer) request(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func userCart() *fakeCartRepo {
	return &fakeCartRepo{cart: &cart.Cart{
		UserID:  "u1",
		Version: 1,
		Items: []cart.Item{
			{ProductID: "p1", Description: "Sneaker", Color: "white", Size: "42", Quantity: 2, Price: decimal.RequireFromString("10.00")},
		},
	}}
}

func placedOrder(id, userID string) *order.Order {
	return &order.Order{
		ID:            id,
		UserID:        userID,
		Status:        order.StatusPlaced,
		PaymentStatus: order.PaymentSucceeded,
		SessionID:     "cs_1",
		TotalPrice:    decimal.RequireFromString("20.00"),
		CreatedAt:     time.Now().Add(-time.Hour),
	}
}
