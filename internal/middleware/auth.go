package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/captionq/pkg/auth"

	"github.com/gin-gonic/gin"
)

const (
	ctxSessionClaims = "sessionClaims"
	ctxSessionID     = "sessionID"
)

// SessionAuthMiddleware requires a session bearer token whose subject equals
// the :id route parameter.
func SessionAuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := validateBearer(validator, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if id := c.Param("id"); id != "" && id != claims.Subject {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token does not belong to this session"})
			return
		}
		c.Set(ctxSessionClaims, claims)
		c.Set(ctxSessionID, claims.Subject)
		c.Next()
	}
}

func validateBearer(validator auth.Validator, authHeader string) (*auth.Claims, error) {
	if strings.TrimSpace(authHeader) == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	token := bearerToken(authHeader)
	if token == "" {
		return nil, fmt.Errorf("invalid Authorization format")
	}
	claims, err := validator.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}

// SessionID returns the session authenticated for this request.
func SessionID(c *gin.Context) string {
	return c.GetString(ctxSessionID)
}
