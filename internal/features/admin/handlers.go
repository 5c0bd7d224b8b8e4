// Package admin — handlers.go provides the gin middleware guarding admin routes.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"serotonyl.ru/token-shop/internal/server"
)

// RequireKey lets a request through only with a valid X-Admin-Key. When no
// key hash is configured the admin routes answer 404.
func RequireKey(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.Enabled() {
			c.AbortWithStatusJSON(http.StatusNotFound, server.Envelope{Error: "not found"})
			return
		}
		if err := s.Verify(c.Request.Context(), c.ClientIP(), c.GetHeader(HeaderAPIKey)); err != nil {
			server.Fail(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}
