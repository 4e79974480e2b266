// Package handler exposes the order workflow over HTTP. Route handlers stay
// thin: bind, call the service, map domain errors to status codes.
package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solecraft/checkout-service/internal/auth"
	"github.com/solecraft/checkout-service/internal/domain/order"
	"github.com/solecraft/checkout-service/internal/domain/payment"
)

// Handler wires the domain services into gin routes.
type Handler struct {
	orders        *order.Service
	payments      *payment.Service
	verifier      *auth.Verifier
	webhookSecret []byte
	now           func() time.Time
}

// New creates a Handler. webhookSecret verifies gateway webhook signatures.
func New(orders *order.Service, payments *payment.Service, verifier *auth.Verifier, webhookSecret []byte) *Handler {
	return &Handler{
		orders:        orders,
		payments:      payments,
		verifier:      verifier,
		webhookSecret: webhookSecret,
		now:           time.Now,
	}
}

// Register attaches all routes to the router. The webhook route carries no
// bearer auth; it is authenticated by its signature instead.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/payments/webhook", h.Webhook)

	orders := api.Group("/orders", h.Authenticate)
	orders.POST("/create", h.CreateOrder)
	orders.POST("/payment-success", h.PaymentSuccess)
	orders.POST("/refund", h.Refund)
	orders.POST("/review", h.AddReview)
	orders.GET("/user", h.ListUserOrders)
	orders.GET("/:orderId", h.GetOrder)
	orders.POST("/:orderId/cancel", h.CancelOrder)
	orders.POST("/:orderId/exchange", h.ExchangeOrder)

	admin := api.Group("/orders", h.Authenticate, h.RequireAdmin)
	admin.GET("", h.ListOrders)
	admin.PUT("/:orderId/status", h.UpdateOrderStatus)
}
