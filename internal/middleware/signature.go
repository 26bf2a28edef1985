package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/astroconnect/call-billing-go/internal/audit"
	"github.com/astroconnect/call-billing-go/internal/util"
)

// GatewaySignatureMiddleware authenticates media-gateway webhooks: the
// Authorization header must carry an HMAC-SHA256 of the raw request body
// keyed with the shared webhook secret.
type GatewaySignatureMiddleware struct {
	secret string
}

func NewGatewaySignatureMiddleware(secret string) *GatewaySignatureMiddleware {
	return &GatewaySignatureMiddleware{secret: secret}
}

func (m *GatewaySignatureMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.secret == "" {
			log.Warn().Msg("gateway signature verification bypassed: GATEWAY_WEBHOOK_SECRET is not configured")
			next.ServeHTTP(w, r)
			return
		}

		signature := r.Header.Get("Authorization")
		if signature == "" {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventWebhookRejected,
				Details: map[string]interface{}{"reason": "missing signature"},
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing signature",
			})
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Error().Err(err).Msg("gateway signature middleware: failed to read body")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Failed to read request body",
			})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		computed := util.HmacSHA256(m.secret, string(body))
		if !util.ConstantTimeEqual(computed, signature) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventWebhookRejected,
				Details: map[string]interface{}{"reason": "invalid signature"},
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid signature",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
