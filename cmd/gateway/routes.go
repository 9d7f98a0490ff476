package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"data-gateway/middleware/gateway"
	"data-gateway/middleware/gateway/application"
	"data-gateway/middleware/gateway/domain"
	"data-gateway/middleware/gateway/infra"
)

type param struct {
	name     string
	def      string
	required bool
	upper    bool
	// fromClient usa o IP do cliente quando o parâmetro não vem na query
	fromClient bool
}

// provider descreve uma rota de dados e o provedor por trás dela.
type provider struct {
	name     string
	path     string
	params   []param
	ttl      time.Duration
	policy   domain.RateLimitPolicy
	upstream *infra.HTTPUpstream
	demo     []byte
}

var demoPayloads = map[string]string{
	"fx":         `{"base":"USD","rates":{"EUR":0.92,"GBP":0.79,"JPY":151.2,"BRL":5.05}}`,
	"quote":      `{"symbol":"DEMO","price":100.0,"change":0.0,"currency":"USD"}`,
	"news":       `{"articles":[{"title":"Demo headline","source":"demo"}]}`,
	"geo":        `{"ip":"0.0.0.0","country":"ZZ","city":"Demo"}`,
	"indicators": `{"series":"DEMO","observations":[]}`,
}

func buildProviders(cfg config, perMinute, perHour domain.RateLimitPolicy) []provider {
	newUpstream := func(name string) *infra.HTTPUpstream {
		pc := cfg.providers[name]
		client := &http.Client{Timeout: cfg.upstreamTimeout}
		opts := []infra.UpstreamOption{infra.WithHTTPClient(client)}
		if name != "geo" {
			opts = append(opts, infra.WithAPIKeyParam("apikey", pc.apiKey))
		}
		return infra.NewHTTPUpstream(name, pc.url, opts...)
	}

	mk := func(name, path string, policy domain.RateLimitPolicy, params ...param) provider {
		return provider{
			name:     name,
			path:     path,
			params:   params,
			ttl:      cfg.providers[name].ttl,
			policy:   policy,
			upstream: newUpstream(name),
			demo:     []byte(demoPayloads[name]),
		}
	}

	return []provider{
		mk("fx", "latest", perMinute,
			param{name: "base", def: "USD", upper: true},
			param{name: "symbols", upper: true}),
		mk("quote", "quote", perMinute,
			param{name: "symbol", required: true, upper: true}),
		mk("news", "news", perHour,
			param{name: "topic", def: "markets"},
			param{name: "lang", def: "en"}),
		mk("geo", "lookup", perMinute,
			param{name: "ip", fromClient: true}),
		mk("indicators", "series", perHour,
			param{name: "series", required: true, upper: true},
			param{name: "country", def: "US", upper: true}),
	}
}

// buildRequest monta a consulta ao gateway a partir da query string.
func (p provider) buildRequest(retry application.RetryPolicy, keyFn gateway.KeyFunc) func(r *http.Request) (application.Request, error) {
	return func(r *http.Request) (application.Request, error) {
		query := r.URL.Query()
		values := make(map[string]string, len(p.params))
		for _, prm := range p.params {
			v := strings.TrimSpace(query.Get(prm.name))
			if v == "" && prm.fromClient {
				v = keyFn(r)
			}
			if v == "" {
				v = prm.def
			}
			if v == "" && prm.required {
				return application.Request{}, &gateway.ParamError{Param: prm.name, Msg: "is required"}
			}
			if len(v) > 256 {
				return application.Request{}, &gateway.ParamError{Param: prm.name, Msg: "is too long"}
			}
			if prm.upper {
				v = strings.ToUpper(v)
			}
			if v != "" {
				values[prm.name] = v
			}
		}

		upstreamQuery := url.Values{}
		for k, v := range values {
			upstreamQuery.Set(k, v)
		}

		return application.Request{
			Identifier: keyFn(r),
			Route:      p.name,
			Provider:   p.name,
			RatePolicy: p.policy,
			CacheKey:   domain.CacheKey(p.name, values),
			TTL:        p.ttl,
			Retry:      retry,
			Call:       p.upstream.Call(p.path, upstreamQuery),
			Fallback:   p.demo,
		}, nil
	}
}

func writeAdminJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newMux(cfg config, deps dependencies, logger *slog.Logger) http.Handler {
	keyFn := gateway.DefaultKeyFunc(cfg.keyHeader, cfg.trustXFF)
	perMinute := domain.RateLimitPolicy{Name: "per-minute", MaxRequests: cfg.rateMaxRequests, Window: cfg.rateWindow}
	perHour := domain.RateLimitPolicy{Name: "per-hour", MaxRequests: cfg.rateHourlyMax, Window: time.Hour}
	admin := domain.RateLimitPolicy{Name: "admin", MaxRequests: cfg.adminMax, Window: time.Minute}

	retry := application.RetryPolicy{
		MaxRetries:   cfg.retryMax,
		InitialDelay: cfg.retryInitialDelay,
		MaxDelay:     cfg.retryMaxDelay,
		Jitter:       cfg.retryJitter,
		Retryable:    application.IsRetryable,
	}

	mux := http.NewServeMux()
	for _, p := range buildProviders(cfg, perMinute, perHour) {
		if pc := cfg.providers[p.name]; pc.rps > 0 {
			deps.throttle.SetLimit(p.name, pc.rps, pc.burst)
		}
		logger.Info("provider route",
			slog.String("route", "/api/"+p.name),
			slog.Bool("configured", p.upstream.Configured()),
			slog.Duration("ttl", p.ttl),
			slog.String("policy", p.policy.ID()),
		)
		mux.Handle("GET /api/"+p.name, gateway.Handler(deps.orchestrator, gateway.RouteOptions{
			Name:   p.name,
			KeyFn:  keyFn,
			Build:  p.buildRequest(retry, keyFn),
			Logger: logger,
		}))
	}

	adminMW := gateway.Middleware(gateway.Options{
		Limiter:             deps.limiter,
		Policy:              admin,
		Stats:               deps.stats,
		KeyFn:               keyFn,
		AddRateLimitHeaders: true,
	})

	mux.Handle("GET /admin/ratelimit", adminMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAdminJSON(w, deps.limiter.Stats(r.URL.Query().Get("prefix")))
	})))
	mux.Handle("DELETE /admin/ratelimit", adminMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.URL.Query().Get("identifier"))
		if id == "" {
			http.Error(w, "identifier is required", http.StatusBadRequest)
			return
		}
		deps.limiter.Reset(id)
		w.WriteHeader(http.StatusNoContent)
	})))
	mux.Handle("GET /admin/stats", adminMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reader, ok := deps.stats.(domain.StatsReader)
		if !ok {
			http.Error(w, "stats are disabled", http.StatusNotFound)
			return
		}
		snap, err := reader.Snapshot(r.Context())
		if err != nil {
			logger.LogAttrs(r.Context(), slog.LevelError, "failed to read stats",
				slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
				slog.String("error", err.Error()),
			)
			http.Error(w, "stats are temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		writeAdminJSON(w, snap)
	})))
	mux.Handle("GET /admin/upstream", adminMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAdminJSON(w, deps.slots.Usage())
	})))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return gateway.RequestID(mux)
}
