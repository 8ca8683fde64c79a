package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-evaluation/internal/response"
	"github.com/stemsi/exstem-evaluation/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for access token claims.
	ContextKeyClaims = "claims"
	// ContextKeyAccessToken is the Gin context key for the raw access token.
	ContextKeyAccessToken = "access_token"
)

// RequireAccessToken validates a candidate access token from the
// Authorization header, falling back to ?token= for EventSource clients.
func RequireAccessToken(invites *service.InviteService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, invites, extractToken(c))
	}
}

// RequireAccessTokenWS validates a candidate access token from ?token=.
// Browsers cannot set headers on a WebSocket upgrade.
func RequireAccessTokenWS(invites *service.InviteService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, invites, c.Query("token"))
	}
}

// GetClaims retrieves the access token claims from the Gin context.
func GetClaims(c *gin.Context) *service.InviteClaims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.InviteClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetAccessToken retrieves the raw access token from the Gin context.
func GetAccessToken(c *gin.Context) string {
	return c.GetString(ContextKeyAccessToken)
}

func authenticate(c *gin.Context, invites *service.InviteService, tokenStr string) {
	if tokenStr == "" {
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	claims, err := invites.Validate(c.Request.Context(), tokenStr)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInviteExpired):
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenExpired)
		case errors.Is(err, service.ErrInviteRevoked):
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRevoked)
		case errors.Is(err, service.ErrInviteInvalid):
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		default:
			response.AbortFail(c, http.StatusServiceUnavailable, response.ErrUnavailable)
		}
		return
	}

	c.Set(ContextKeyClaims, claims)
	c.Set(ContextKeyAccessToken, tokenStr)
	c.Next()
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	// Fallback for EventSource (SSE) which cannot send headers
	return c.Query("token")
}
