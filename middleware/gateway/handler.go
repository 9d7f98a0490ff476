package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"data-gateway/middleware/gateway/application"
	"data-gateway/middleware/gateway/domain"
)

const headerCache = "X-Cache"

// Fetcher é o que o handler precisa do orquestrador.
type Fetcher interface {
	Fetch(ctx context.Context, req application.Request) application.Result
}

// ParamError é um erro de parâmetro da requisição; a mensagem volta ao cliente.
type ParamError struct {
	Param string
	Msg   string
}

func (e *ParamError) Error() string { return e.Param + ": " + e.Msg }

type RouteOptions struct {
	Name  string
	KeyFn KeyFunc
	// Build traduz a requisição HTTP numa consulta ao gateway.
	Build  func(r *http.Request) (application.Request, error)
	Logger *slog.Logger
}

type response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Cached bool            `json:"cached"`
	Stale  bool            `json:"stale"`
	Demo   bool            `json:"demo,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Handler traduz o resultado do orquestrador para o contrato HTTP:
// 200 com cached/stale, 429 com Retry-After, 502/504 com mensagem genérica.
func Handler(f Fetcher, opts RouteOptions) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc("", false)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := opts.Build(r)
		if err != nil {
			var pErr *ParamError
			if errors.As(err, &pErr) {
				writeError(w, http.StatusBadRequest, pErr.Error(), nil)
				return
			}
			logger.LogAttrs(r.Context(), slog.LevelError, "failed to build gateway request",
				slog.String("route", opts.Name),
				slog.String("request_id", RequestIDFromContext(r.Context())),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadRequest, "invalid request", nil)
			return
		}
		if req.Identifier == "" {
			req.Identifier = opts.KeyFn(r)
		}
		if req.Route == "" {
			req.Route = opts.Name
		}

		res := f.Fetch(r.Context(), req)
		writeRateLimitHeaders(w, req.RatePolicy, res.Decision)

		switch res.Outcome {
		case application.OutcomeFresh, application.OutcomeDegraded, application.OutcomeDemo:
			switch {
			case res.Stale:
				w.Header().Set(headerCache, "STALE")
			case res.Cached:
				w.Header().Set(headerCache, "HIT")
			default:
				w.Header().Set(headerCache, "MISS")
			}
			writeJSON(w, http.StatusOK, response{
				Data:   rawJSON(res.Value),
				Cached: res.Cached,
				Stale:  res.Stale,
				Demo:   res.Outcome == application.OutcomeDemo,
			})

		case application.OutcomeRateLimited:
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later", nil)

		default:
			status := http.StatusBadGateway
			if domain.KindOf(res.Err) == domain.KindTimeout {
				status = http.StatusGatewayTimeout
			}
			logger.LogAttrs(r.Context(), slog.LevelWarn, "gateway request failed",
				slog.String("route", req.Route),
				slog.String("request_id", RequestIDFromContext(r.Context())),
				slog.Int("status", status),
				slog.Any("error", res.Err),
			)
			writeError(w, status, "upstream data is temporarily unavailable", req.Fallback)
		}
	})
}

func writeError(w http.ResponseWriter, status int, msg string, fallback []byte) {
	writeJSON(w, status, response{Data: rawJSON(fallback), Demo: fallback != nil, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// rawJSON devolve v como JSON bruto; se não for JSON válido, vira string JSON.
func rawJSON(v []byte) json.RawMessage {
	if len(v) == 0 {
		return nil
	}
	if json.Valid(v) {
		return v
	}
	s, _ := json.Marshal(string(v))
	return s
}
