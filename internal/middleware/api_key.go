package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-evaluation/internal/response"
)

// HeaderAPIKey carries the evaluator API key.
const HeaderAPIKey = "X-API-Key"

// RequireAPIKey guards evaluator routes. An empty key rejects every request.
func RequireAPIKey(key string) gin.HandlerFunc {
	expected := []byte(key)
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderAPIKey)
		if got == "" {
			// EventSource cannot send headers.
			got = c.Query("api_key")
		}
		if got == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrAPIKeyRequired)
			return
		}
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrAPIKeyInvalid)
			return
		}
		c.Next()
	}
}
