// Package payments — handlers.go maps the purchase, confirm, history and
// webhook routes onto the engine.
package payments

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"serotonyl.ru/token-shop/internal/gateway"
	"serotonyl.ru/token-shop/internal/server"
	"serotonyl.ru/token-shop/internal/server/middleware"
)

// maxWebhookBody caps the webhook payload size.
const maxWebhookBody = 1 << 16

// Handler serves payment routes.
type Handler struct {
	service *Service
}

// NewHandler creates the payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the routes. Webhooks are public: providers authenticate
// with signatures, not user tokens.
func (h *Handler) Register(private, public *gin.RouterGroup) {
	private.POST("/payments/:provider/intents", h.HandleInitiate)
	private.POST("/payments/:provider/confirm", h.HandleConfirm)
	private.GET("/payments", h.HandleList)
	private.GET("/payments/:externalRef", h.HandleGet)

	public.POST("/webhooks/:provider", h.HandleWebhook)
}

func providerParam(c *gin.Context) (gateway.Provider, bool) {
	p := gateway.Provider(c.Param("provider"))
	return p, p.Valid()
}

// HandleInitiate starts a purchase.
//
//	POST /api/v1/payments/stripe/intents
//	{"game_id":7,"token_package_index":1,"location":"Plaza Río"}
func (h *Handler) HandleInitiate(c *gin.Context) {
	provider, ok := providerParam(c)
	if !ok {
		server.BadRequest(c, "unknown payment provider")
		return
	}
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.BadRequest(c, "game_id and location are required")
		return
	}
	req.UserID = middleware.UserID(c)
	req.Provider = provider

	res, err := h.service.InitiatePurchase(c.Request.Context(), req)
	if err != nil {
		server.Fail(c, err)
		return
	}
	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	server.OK(c, status, res)
}

type confirmRequest struct {
	ExternalRef string `json:"external_ref" binding:"required"`
}

// HandleConfirm confirms or captures a purchase.
//
//	POST /api/v1/payments/paypal/confirm
//	{"external_ref":"5O190127TN364715T"}
func (h *Handler) HandleConfirm(c *gin.Context) {
	provider, ok := providerParam(c)
	if !ok {
		server.BadRequest(c, "unknown payment provider")
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.BadRequest(c, "external_ref is required")
		return
	}

	view, err := h.service.Confirm(c.Request.Context(), middleware.UserID(c), provider, req.ExternalRef)
	if err != nil {
		server.Fail(c, err)
		return
	}
	server.OK(c, http.StatusOK, view)
}

// HandleList returns the caller's purchase history. ?limit= caps the
// number of entries.
func (h *Handler) HandleList(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			server.BadRequest(c, "limit must be a positive number")
			return
		}
		limit = n
	}

	views, err := h.service.ListPayments(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		server.Fail(c, err)
		return
	}
	server.OK(c, http.StatusOK, views)
}

// HandleGet returns one of the caller's payments.
func (h *Handler) HandleGet(c *gin.Context) {
	view, err := h.service.GetPayment(c.Request.Context(), middleware.UserID(c), c.Param("externalRef"))
	if err != nil {
		server.Fail(c, err)
		return
	}
	server.OK(c, http.StatusOK, view)
}

// HandleWebhook receives a provider event. Authentic events are always
// acknowledged with 200.
func (h *Handler) HandleWebhook(c *gin.Context) {
	provider, ok := providerParam(c)
	if !ok {
		c.JSON(http.StatusNotFound, server.Envelope{Error: "not found"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		server.BadRequest(c, "unreadable body")
		return
	}
	if len(body) > maxWebhookBody {
		c.JSON(http.StatusRequestEntityTooLarge, server.Envelope{Error: "payload too large"})
		return
	}

	if err := h.service.HandleWebhook(c.Request.Context(), provider, c.Request.Header, body); err != nil {
		server.Fail(c, err)
		return
	}
	server.OK(c, http.StatusOK, gin.H{"received": true})
}
