package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/solecraft/checkout-service/internal/domain/order"
)

type addressRequest struct {
	Name        string `json:"name" binding:"required"`
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Street      string `json:"street" binding:"required"`
	City        string `json:"city" binding:"required"`
	State       string `json:"state" binding:"required"`
	Country     string `json:"country" binding:"required"`
	PostalCode  string `json:"postalCode" binding:"required"`
}

type createOrderRequest struct {
	Address        addressRequest `json:"address" binding:"required"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

type lineItemResponse struct {
	ProductID   string          `json:"productId"`
	Description string          `json:"description"`
	Color       string          `json:"color"`
	Size        string          `json:"size"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type createOrderResponse struct {
	OrderID    string             `json:"orderId"`
	SessionID  string             `json:"sessionId"`
	PaymentURL string             `json:"paymentUrl"`
	TotalPrice decimal.Decimal    `json:"totalPrice"`
	Products   []lineItemResponse `json:"products"`
}

type reviewResponse struct {
	ProductID string `json:"productId"`
	Review    string `json:"review"`
}

type orderResponse struct {
	OrderID       string             `json:"orderId"`
	UserID        string             `json:"userId"`
	Items         []lineItemResponse `json:"items"`
	Address       addressRequest     `json:"address"`
	TotalPrice    decimal.Decimal    `json:"totalPrice"`
	Currency      string             `json:"currency"`
	Status        string             `json:"status"`
	PaymentStatus string             `json:"paymentStatus"`
	SessionID     string             `json:"sessionId,omitempty"`
	PaymentURL    string             `json:"paymentUrl,omitempty"`
	RefundID      string             `json:"refundId,omitempty"`
	Reviews       []reviewResponse   `json:"reviews,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// CreateOrder initiates checkout from the caller's cart.
func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := h.orders.CreateOrder(c.Request.Context(), order.CreateOrderRequest{
		UserID: claimsFrom(c).EntityID,
		Address: order.Address{
			Name:        req.Address.Name,
			PhoneNumber: req.Address.PhoneNumber,
			Street:      req.Address.Street,
			City:        req.Address.City,
			State:       req.Address.State,
			Country:     req.Address.Country,
			PostalCode:  req.Address.PostalCode,
		},
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, createOrderResponse{
		OrderID:    result.OrderID,
		SessionID:  result.SessionID,
		PaymentURL: result.PaymentURL,
		TotalPrice: result.TotalPrice,
		Products:   lo.Map(result.Products, toLineItemResponse),
	})
}

type paymentSuccessRequest struct {
	OrderID   string `json:"orderId" binding:"required"`
	SessionID string `json:"sessionId" binding:"required"`
}

// PaymentSuccess is the client-side payment confirmation. It is idempotent
// and the webhook relay calls the same service path, so whichever arrives
// first wins and the other is a no-op.
func (h *Handler) PaymentSuccess(c *gin.Context) {
	var req paymentSuccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.orders.HandlePaymentSuccess(c.Request.Context(), req.OrderID, req.SessionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": req.OrderID, "status": string(order.StatusPlaced)})
}

type refundRequest struct {
	OrderID string `json:"orderId" binding:"required"`
	Reason  string `json:"reason"`
}

// Refund issues a gateway refund for an eligible order.
func (h *Handler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	result, err := h.orders.Refund(c.Request.Context(), order.RefundRequest{
		OrderID: req.OrderID,
		UserID:  claimsFrom(c).EntityID,
		Reason:  req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": result.OrderID, "refundId": result.RefundID})
}

// ListUserOrders returns the caller's orders, newest first.
func (h *Handler) ListUserOrders(c *gin.Context) {
	orders, err := h.orders.ListByUser(c.Request.Context(), claimsFrom(c).EntityID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": lo.Map(orders, toOrderResponse)})
}

// GetOrder returns one order, ownership-checked.
func (h *Handler) GetOrder(c *gin.Context) {
	o, err := h.orders.GetByUser(c.Request.Context(), c.Param("orderId"), claimsFrom(c).EntityID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(*o, 0))
}

// CancelOrder aborts a PENDING order.
func (h *Handler) CancelOrder(c *gin.Context) {
	if err := h.orders.Cancel(c.Request.Context(), c.Param("orderId"), claimsFrom(c).EntityID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": c.Param("orderId"), "status": string(order.StatusCanceled)})
}

// ExchangeOrder marks a DELIVERED order exchanged within the allowed window.
func (h *Handler) ExchangeOrder(c *gin.Context) {
	if err := h.orders.Exchange(c.Request.Context(), c.Param("orderId"), claimsFrom(c).EntityID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": c.Param("orderId"), "status": string(order.StatusExchanged)})
}

type addReviewRequest struct {
	OrderID   string `json:"orderId" binding:"required"`
	ProductID string `json:"productId" binding:"required"`
	Review    string `json:"review" binding:"required"`
}

// AddReview attaches a product review to a delivered order.
func (h *Handler) AddReview(c *gin.Context) {
	var req addReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	err := h.orders.AddReview(c.Request.Context(), req.OrderID, claimsFrom(c).EntityID, order.Review{
		ProductID: req.ProductID,
		Review:    req.Review,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": req.OrderID})
}

// ListOrders is the admin listing, paginated.
func (h *Handler) ListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	result, err := h.orders.List(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":     lo.Map(result.Orders, toOrderResponse),
		"total":      result.Total,
		"page":       result.Page,
		"totalPages": result.TotalPages,
	})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Force  bool   `json:"force"`
	Reason string `json:"reason"`
}

// UpdateOrderStatus is the admin override. Unguarded transitions require
// force=true and every change is audited.
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	err := h.orders.UpdateStatus(c.Request.Context(), order.UpdateStatusRequest{
		OrderID: c.Param("orderId"),
		Status:  req.Status,
		Actor:   claimsFrom(c).EntityID,
		Force:   req.Force,
		Reason:  req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": c.Param("orderId"), "status": req.Status})
}

func toLineItemResponse(item order.LineItem, _ int) lineItemResponse {
	return lineItemResponse{
		ProductID:   item.ProductID,
		Description: item.Description,
		Color:       item.Color,
		Size:        item.Size,
		Quantity:    item.Quantity,
		Price:       item.Price,
	}
}

func toOrderResponse(o order.Order, _ int) orderResponse {
	return orderResponse{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Items:         lo.Map(o.Items, toLineItemResponse),
		Address:       addressRequest(o.Address),
		TotalPrice:    o.TotalPrice,
		Currency:      o.Currency,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		SessionID:     o.SessionID,
		PaymentURL:    o.PaymentURL,
		RefundID:      o.RefundID,
		Reviews: lo.Map(o.Reviews, func(r order.Review, _ int) reviewResponse {
			return reviewResponse{ProductID: r.ProductID, Review: r.Review}
		}),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}
