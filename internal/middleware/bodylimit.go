package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// Gateway events and billing actions are small JSON payloads; nothing this
// service accepts should come close to a megabyte.
const DefaultMaxBodySize = 1 << 20

// BodyLimitMiddleware rejects oversized requests before any handler reads the
// body. The declared length is checked first; MaxBytesReader caps chunked
// requests that never declare one.
type BodyLimitMiddleware struct {
	maxSize int64
}

func NewBodyLimitMiddleware(maxSize int64) *BodyLimitMiddleware {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return &BodyLimitMiddleware{maxSize: maxSize}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > m.maxSize {
			log.Warn().
				Int64("contentLength", r.ContentLength).
				Str("path", r.URL.Path).
				Msg("request body over limit")
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "Request body too large",
			})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, m.maxSize)
		next.ServeHTTP(w, r)
	})
}
