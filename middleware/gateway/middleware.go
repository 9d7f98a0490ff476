package gateway

import (
	"net"
	"net/http"
	"strings"
	"time"

	"data-gateway/middleware/gateway/application"
	"data-gateway/middleware/gateway/domain"
)

type KeyFunc func(r *http.Request) string

// Options configura o middleware de admissão usado em rotas que não passam pelo
// orquestrador (ex: rotas administrativas).
type Options struct {
	Limiter             domain.RateLimiter
	Policy              domain.RateLimitPolicy
	Stats               domain.StatsStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RejectStatus        int
	AddRateLimitHeaders bool
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					ip := strings.TrimSpace(parts[0])
					if ip != "" {
						return ip
					}
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return string(domain.UnknownKey)
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}

	svc := application.Service{Limiter: opts.Limiter}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			dec := svc.Decide(domain.Key(key), opts.Policy)
			if opts.Stats != nil {
				outcome := "admitted"
				if !dec.Allowed {
					outcome = application.OutcomeRateLimited.String()
				}
				_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     domain.Key(key),
					Outcome: outcome,
					Route:   r.Method + " " + r.URL.Path,
					At:      time.Now(),
				})
			}

			if opts.AddRateLimitHeaders || !dec.Allowed {
				writeRateLimitHeaders(w, opts.Policy, dec)
			}
			if !dec.Allowed {
				writeError(w, opts.RejectStatus, "rate limit exceeded, retry later", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
