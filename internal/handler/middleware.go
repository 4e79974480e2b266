package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/solecraft/checkout-service/internal/auth"
)

const claimsKey = "auth.claims"

// Authenticate validates the bearer token against the shared session cache
// and stores the claims for downstream handlers.
func (h *Handler) Authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
			Code:    "UNAUTHORIZED",
			Message: "missing bearer token",
		})
		return
	}

	claims, err := h.verifier.Validate(c.Request.Context(), token)
	if err != nil {
		zctx.From(c.Request.Context()).Debug("token rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
			Code:    "UNAUTHORIZED",
			Message: "invalid or expired token",
		})
		return
	}

	c.Set(claimsKey, claims)
	c.Next()
}

// RequireAdmin gates admin-only routes. Runs after Authenticate.
func (h *Handler) RequireAdmin(c *gin.Context) {
	if claimsFrom(c).Role != auth.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{
			Code:    "FORBIDDEN",
			Message: "admin role required",
		})
		return
	}
	c.Next()
}

// claimsFrom returns the claims set by Authenticate. Only valid on routes
// behind it.
func claimsFrom(c *gin.Context) *auth.Claims {
	return c.MustGet(claimsKey).(*auth.Claims)
}
