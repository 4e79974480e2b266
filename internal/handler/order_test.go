package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solecraft/checkout-service/internal/auth"
	"github.com/solecraft/checkout-service/internal/domain/order"
	"github.com/solecraft/checkout-service/internal/domain/payment"
)

const validAddress = `{
	"name": "Ada Lovelace",
	"phoneNumber": "+1-555-0100",
	"street": "1 Analytical Way",
	"city": "London",
	"state": "LDN",
	"country": "GB",
	"postalCode": "EC1A"
}`

func TestCreateOrder(t *testing.T) {
	srv := newTestServer(t, newFakeOrderRepo(), userCart(), newFakePaymentRepo())
	token := srv.token(t, "u1", auth.RoleUser)

	body := fmt.Sprintf(`{"address": %s, "idempotencyKey": "key-1"}`, validAddress)
	w := srv.request(t, http.MethodPost, "/api/orders/create", token, body)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		OrderID    string `json:"orderId"`
		SessionID  string `json:"sessionId"`
		TotalPrice string `json:"totalPrice"`
		PaymentURL string `json:"paymentUrl"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.OrderID)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "20", resp.TotalPrice)
	assert.Contains(t, resp.PaymentURL, "https://pay.example/")

	stored := srv.orders.byID[resp.OrderID]
	require.NotNil(t, stored)
	assert.Equal(t, "u1", stored.UserID)
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	srv := newTestServer(t, newFakeOrderRepo(), &fakeCartRepo{}, newFakePaymentRepo())
	token := srv.token(t, "u1", auth.RoleUser)

	body := fmt.Sprintf(`{"address": %s}`, validAddress)
	w := srv.request(t, http.MethodPost, "/api/orders/create", token, body)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "CART_EMPTY")
}

func TestCreateOrder_MissingAddressField(t *testing.T) {
	srv := newTestServer(t, newFakeOrderRepo(), userCart(), newFakePaymentRepo())
	token := srv.token(t, "u1", auth.RoleUser)

	w := srv.request(t, http.MethodPost, "/api/orders/create", token, `{"address": {"name": "Ada"}}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthenticate_MissingToken(t *testing.T) {
	srv := newTestServer(t, newFakeOrderRepo(), userCart(), newFakePaymentRepo())

	w := srv.request(t, http.MethodGet, "/api/orders/user", "", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticate_RevokedSession(t *testing.T) {
	srv := newTestServer(t, newFakeOrderRepo(), userCart(), newFakePaymentRepo())
	token := srv.token(t, "u1", auth.RoleUser)
	srv.redis.FlushAll()

	w := srv.request(t, http.MethodGet, "/api/orders/user", token, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	srv := newTestServer(t, newFakeOrderRepo(), userCart(), newFakePaymentRepo())
	token := srv.token(t, "u1", auth.RoleUser)

	w := srv.request(t, http.MethodGet, "/api/orders/missing", token, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "ORDER_NOT_FOUND")
}

func TestGetOrder_OtherUsersOrderHidden(t *testing.T) {
	srv := newTestServer(t, newFakeOrderRepo(placedOrder("o1", "someone-else")), userCart(), newFakePaymentRepo())
	token := srv.token(t, "u1", auth.RoleUser)

	w := srv.request(t, http.MethodGet, "/api/orders/o1", token, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelOrder_NotPending(t *testing.T) {
	srv := newTestServer(t, newFakeOrderRepo(placedOrder("o1", "u1")), userCart(), newFakePaymentRepo())
	token := srv.token(t, "u1", auth.RoleUser)

	w := srv.request(t, http.MethodPost, "/api/orders/o1/cancel", token, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "GUARD_VIOLATION")
}

func TestRefund(t *testing.T) {
	o := placedOrder("o1", "u1")
	p := &payment.Payment{ID: "pay1", OrderID: "o1", SessionID: "cs_1", PaymentIntent: "pi_1", Currency: "USD", Status: payment.StatusSucceeded}
	srv := newTestServer(t, newFakeOrderRepo(o), userCart(), newFakePaymentRepo(p))
	token := srv.token(t, "u1", auth.RoleUser)

	w := srv.request(t, http.MethodPost, "/api/orders/refund", token, `{"orderId": "o1", "reason": "wrong size"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, order.StatusRefunded, o.Status)
	assert.Equal(t, "re_1", o.RefundID)
}

func TestAdminRoutes_ForbiddenForUsers(t *testing.T) {
	srv := newTestServer(t, newFakeOrderRepo(), userCart(), newFakePaymentRepo())
	token := srv.token(t, "u1", auth.RoleUser)

	w := srv.request(t, http.MethodGet, "/api/orders", token, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = srv.request(t, http.MethodPut, "/api/orders/o1/status", token, `{"status": "SHIPPED"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUpdateOrderStatus_UnguardedNeedsForce(t *testing.T) {
	srv := newTestServer(t, newFakeOrderRepo(placedOrder("o1", "u1")), userCart(), newFakePaymentRepo())
	token := srv.token(t, "admin-1", auth.RoleAdmin)

	w := srv.request(t, http.MethodPut, "/api/orders/o1/status", token, `{"status": "CANCELED"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_TRANSITION")

	w = srv.request(t, http.MethodPut, "/api/orders/o1/status", token, `{"status": "CANCELED", "force": true, "reason": "support override"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, order.StatusCanceled, srv.orders.byID["o1"].Status)
}

func TestListOrders_Admin(t *testing.T) {
	srv := newTestServer(t, newFakeOrderRepo(placedOrder("o1", "u1"), placedOrder("o2", "u2")), userCart(), newFakePaymentRepo())
	token := srv.token(t, "admin-1", auth.RoleAdmin)

	w := srv.request(t, http.MethodGet, "/api/orders?page=1&limit=10", token, "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Orders []json.RawMessage `json:"orders"`
		Total  int64             `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Orders, 2)
	assert.EqualValues(t, 2, resp.Total)
}
