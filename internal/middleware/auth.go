package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fleetgate/internal/auth"
)

const claimsContextKey = "operatorClaims"

// UsernameFromContext returns the username of the verified claims stored by
// RequireAuth.
func UsernameFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return "", false
	}
	claims, ok := v.(*auth.Claims)
	if !ok || claims.Username == "" {
		return "", false
	}
	return claims.Username, true
}

// RequireAuth guards admin API routes with a bearer token minted by the
// login endpoint. The verified claims are stored on the request context for
// handlers that need the acting operator.
func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			rejectUnauthorized(c)
			return
		}

		claims, err := auth.VerifyToken(token, cfg)
		if err != nil {
			rejectUnauthorized(c)
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// bearerToken extracts the credential from an Authorization header value.
// The scheme comparison is case-insensitive per RFC 7235.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func rejectUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
}
