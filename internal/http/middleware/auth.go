// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the two authentication gates:
//   - WebhookSecret() guards provider callbacks with a shared secret header,
//     compared in constant time.
//   - AdminAuth() guards the reporting API with HTTP Basic credentials.
//
// Both abort before the handler runs, so a rejected webhook is never read
// or recorded.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderWebhookSecret carries the shared secret on provider callbacks.
const HeaderWebhookSecret = "X-Webhook-Secret"

// WebhookSecret rejects requests whose X-Webhook-Secret does not equal secret.
// The rejection uses the webhook envelope: 401 {"ok":false,"error":"unauthorized"}.
// An empty configured secret rejects everything.
func WebhookSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(HeaderWebhookSecret))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			LoggerFrom(c).Warn().
				Str("path", c.FullPath()).
				Str("remote_ip", c.ClientIP()).
				Msg("webhook: bad secret")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":    false,
				"error": "unauthorized",
			})
			return
		}
		c.Next()
	}
}

// AdminAuth returns HTTP Basic auth for the reporting API. When no password
// is configured the API is closed with 403.
func AdminAuth(user, password string) gin.HandlerFunc {
	if password == "" {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "forbidden",
				"message":    "admin API disabled",
			})
		}
	}
	return gin.BasicAuthForRealm(gin.Accounts{user: password}, "rental-funnel")
}
