package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/solecraft/checkout-service/internal/domain/cart"
	"github.com/solecraft/checkout-service/internal/domain/order"
	"github.com/solecraft/checkout-service/internal/domain/payment"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondError maps domain errors to HTTP statuses. Guard violations are the
// caller's fault; gateway failures are 502 so clients can tell them apart
// from our own 500s.
func respondError(c *gin.Context, err error) {
	var (
		invalidStatus *order.InvalidStatusError
		transition    *order.TransitionError
		unavailable   *order.PaymentUnavailableError
		conflict      *cart.ConflictError
		gateway       *payment.GatewayError
	)

	switch {
	case errors.Is(err, order.ErrNotFound):
		respond(c, http.StatusNotFound, "ORDER_NOT_FOUND", err)
	case errors.Is(err, order.ErrCartEmpty):
		respond(c, http.StatusNotFound, "CART_EMPTY", err)
	case errors.Is(err, order.ErrNotCancelable),
		errors.Is(err, order.ErrNotRefundable),
		errors.Is(err, order.ErrPaymentNotCompleted),
		errors.Is(err, order.ErrMissingSession),
		errors.Is(err, order.ErrRefundWindowExpired),
		errors.Is(err, order.ErrExchangeNotAllowed),
		errors.Is(err, order.ErrReviewNotAllowed):
		respond(c, http.StatusBadRequest, "GUARD_VIOLATION", err)
	case errors.As(err, &invalidStatus), errors.As(err, &transition):
		respond(c, http.StatusBadRequest, "INVALID_TRANSITION", err)
	case errors.As(err, &conflict):
		respond(c, http.StatusConflict, "CART_CONFLICT", err)
	case errors.Is(err, payment.ErrAlreadyRefunded):
		respond(c, http.StatusBadRequest, "ALREADY_REFUNDED", err)
	case errors.As(err, &unavailable), errors.As(err, &gateway):
		zctx.From(c.Request.Context()).Error("payment gateway failure", zap.Error(err))
		respond(c, http.StatusBadGateway, "PAYMENT_UNAVAILABLE", err)
	default:
		zctx.From(c.Request.Context()).Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{
			Code:    "INTERNAL",
			Message: "internal server error",
		})
	}
}

func respond(c *gin.Context, status int, code string, err error) {
	c.JSON(status, errorResponse{Code: code, Message: err.Error()})
}

func respondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: err.Error()})
}
