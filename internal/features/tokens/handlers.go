// Package tokens — handlers.go serves GET /tokens and the admin adjustment
// route.
package tokens

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"serotonyl.ru/token-shop/internal/server"
	"serotonyl.ru/token-shop/internal/server/middleware"
)

// Handler serves token routes.
type Handler struct {
	service *Service
}

// NewHandler creates the token handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the routes. Balances need a caller identity; the admin
// route is guarded by adminGuard only.
func (h *Handler) Register(private, public *gin.RouterGroup, adminGuard gin.HandlerFunc) {
	private.GET("/tokens", h.HandleBalances)
	public.POST("/admin/tokens/adjust", adminGuard, h.HandleAdjust)
}

// HandleBalances returns the caller's balances.
//
//	GET /api/v1/tokens
//	→ {"success":true,"data":[{"game_id":7,"location":"Plaza Río","tokens":100,"pending_tokens":250,"tokens_scheduled_for":"..."}]}
func (h *Handler) HandleBalances(c *gin.Context) {
	snapshots, err := h.service.Balances(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		server.Fail(c, err)
		return
	}
	server.OK(c, http.StatusOK, snapshots)
}

// HandleAdjust applies an admin correction.
//
//	POST /api/v1/admin/tokens/adjust
//	{"user_id":"u1","game_id":7,"location":"Plaza Río","delta":-50,"reason":"machine jam refund reversal"}
func (h *Handler) HandleAdjust(c *gin.Context) {
	var adj Adjustment
	if err := c.ShouldBindJSON(&adj); err != nil {
		server.BadRequest(c, "user_id, game_id and location are required")
		return
	}

	res, err := h.service.Adjust(c.Request.Context(), adj)
	if err != nil {
		server.Fail(c, err)
		return
	}
	server.OK(c, http.StatusOK, res)
}
