package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"github.com/planpay/planpay/internal/config"
	ierr "github.com/planpay/planpay/internal/errors"
)

const headerGatewaySignature = "X-Gateway-Signature"

// GatewaySignatureMiddleware checks the shared secret the gateway attaches to
// every webhook delivery. An empty configured secret disables the check for
// local development.
func GatewaySignatureMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := cfg.Gateway.WebhookSecret
		if secret == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(headerGatewaySignature)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.Error(ierr.NewError("invalid gateway signature").
				WithHint("Webhook signature verification failed").
				Mark(ierr.ErrPermissionDenied))
			c.Abort()
			return
		}

		c.Next()
	}
}
