package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/planpay/planpay/internal/config"
	"github.com/stretchr/testify/assert"
)

func signatureTestRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)

	cfg := config.GetDefaultConfig()
	cfg.Gateway.WebhookSecret = secret

	r := gin.New()
	r.Use(ErrorHandler())
	r.Use(GatewaySignatureMiddleware(cfg))
	r.POST("/webhook", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return r
}

func TestGatewaySignatureMiddleware(t *testing.T) {
	t.Run("valid signature passes", func(t *testing.T) {
		r := signatureTestRouter("topsecret")

		req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
		req.Header.Set(headerGatewaySignature, "topsecret")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("invalid signature is rejected with 403", func(t *testing.T) {
		r := signatureTestRouter("topsecret")

		req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
		req.Header.Set(headerGatewaySignature, "wrong")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "signature")
	})

	t.Run("missing signature is rejected with 403", func(t *testing.T) {
		r := signatureTestRouter("topsecret")

		req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("empty configured secret disables the check", func(t *testing.T) {
		r := signatureTestRouter("")

		req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}
