package gateway

import (
	"net/http"
	"strconv"

	"data-gateway/middleware/gateway/domain"
)

const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
	headerRetryAfter = "Retry-After"
	headerPolicy     = "X-RateLimit-Policy"
)

// writeRateLimitHeaders escreve limite, restante e reset (unix em segundos).
// Quando bloqueado, Retry-After vai em segundos inteiros arredondados para cima.
func writeRateLimitHeaders(w http.ResponseWriter, policy domain.RateLimitPolicy, dec domain.Decision) {
	h := w.Header()
	h.Set(headerLimit, formatInt(dec.Limit))
	h.Set(headerRemaining, formatInt(max(dec.Remaining, 0)))
	if !dec.ResetAt.IsZero() {
		h.Set(headerReset, formatInt64(dec.ResetAt.Unix()))
	}
	if policy.Name != "" {
		h.Set(headerPolicy, policy.Name)
	}
	if !dec.Allowed {
		h.Set(headerRetryAfter, formatInt(dec.RetryAfterSeconds()))
	}
}

func formatInt(v int) string { return strconv.Itoa(v) }

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }
