package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	httptransport "biogate-server-go/internal/transport/http"
)

// AuthMiddleware rejects requests without a valid operator bearer token.
func AuthMiddleware(token *OperatorToken) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			httptransport.RespondError(c, http.StatusUnauthorized, "missing authorization header", nil)
			c.Abort()
			return
		}

		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == header || raw == "" {
			httptransport.RespondError(c, http.StatusUnauthorized, "malformed authorization header", nil)
			c.Abort()
			return
		}

		valid, subject, err := token.Verify(raw)
		if err != nil || !valid {
			httptransport.RespondError(c, http.StatusUnauthorized, "invalid or expired token", nil)
			c.Abort()
			return
		}

		c.Set("operator", subject)
		c.Next()
	}
}
