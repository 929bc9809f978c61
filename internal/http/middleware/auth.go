// README: Bearer-token auth middleware; resolves the caller identity.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dispatch/internal/infra"
	"dispatch/internal/policy"
)

const identityKey = "caller_identity"

// Auth verifies the request's bearer token and stores the caller's
// identity on the context. Websocket clients cannot set headers from the
// browser, so a `token` query parameter is accepted as a fallback.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		token, err := verifier.Verify(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityKey, policy.Identity{
			SubjectUID: token.SubjectUID,
			Role:       token.Role,
		})
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// CallerIdentity returns the identity stored by Auth. The zero Identity
// is returned on routes that skipped the middleware.
func CallerIdentity(c *gin.Context) policy.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return policy.Identity{}
	}
	id, _ := v.(policy.Identity)
	return id
}
