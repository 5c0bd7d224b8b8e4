package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/token-shop/internal/common"
	"serotonyl.ru/token-shop/internal/gateway"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type errorStatus struct {
	err    error
	status int
}

// errorStatuses maps shared sentinels to HTTP statuses. The sentinel text is
// what the client sees; wrapped details stay in the logs.
var errorStatuses = []errorStatus{
	{common.ErrGameNotFound, http.StatusNotFound},
	{common.ErrPaymentNotFound, http.StatusNotFound},
	{common.ErrLocationUnavailable, http.StatusBadRequest},
	{common.ErrInvalidPackage, http.StatusBadRequest},
	{common.ErrProviderNotConfigured, http.StatusBadRequest},
	{common.ErrInvalidAmount, http.StatusBadRequest},
	{common.ErrInvalidPayload, http.StatusBadRequest},
	{gateway.ErrInvalidRequest, http.StatusBadRequest},
	{common.ErrWebhookSignature, http.StatusUnauthorized},
	{common.ErrUnauthorized, http.StatusUnauthorized},
	{common.ErrTooManyAttempts, http.StatusTooManyRequests},
	{common.ErrRetryable, http.StatusServiceUnavailable},
}

// OK writes a success envelope.
func OK(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Success: true, Data: data})
}

// BadRequest writes a validation failure with a client-facing message.
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Envelope{Error: msg})
}

// Fail writes the failure envelope for err. Unknown errors become a
// generic 500 and are logged.
func Fail(c *gin.Context, err error) {
	status, msg := StatusFor(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, common.ErrRetryable) {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	_ = c.Error(err)
	c.JSON(status, Envelope{Error: msg})
}

// StatusFor returns the HTTP status and client message for err.
func StatusFor(err error) (int, string) {
	for _, es := range errorStatuses {
		if errors.Is(err, es.err) {
			return es.status, es.err.Error()
		}
	}
	return http.StatusInternalServerError, "internal error"
}
