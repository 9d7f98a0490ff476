package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"data-gateway/middleware/gateway/domain"

	"golang.org/x/sync/singleflight"
)

// Upstream faz uma única chamada ao provedor.
type Upstream func(ctx context.Context) ([]byte, error)

// Outcome discrimina o resultado de Fetch.
type Outcome int

const (
	OutcomeFresh Outcome = iota + 1
	OutcomeDegraded
	OutcomeRateLimited
	OutcomeFailed
	OutcomeDemo
)

var outcomeStrings = map[Outcome]string{
	OutcomeFresh:       "fresh",
	OutcomeDegraded:    "degraded",
	OutcomeRateLimited: "rate_limited",
	OutcomeFailed:      "failed",
	OutcomeDemo:        "demo",
}

func (o Outcome) String() string {
	if s, ok := outcomeStrings[o]; ok {
		return s
	}
	return "unknown"
}

// Request descreve uma consulta lógica ao provedor.
//
// Call nil significa provedor não configurado: Fetch devolve Fallback como demo.
type Request struct {
	Identifier string
	Route      string
	Provider   string

	RatePolicy domain.RateLimitPolicy
	CacheKey   string
	TTL        time.Duration
	Retry      RetryPolicy

	Call     Upstream
	Fallback []byte
}

// Result é o desfecho de Fetch. Só os campos relevantes ao Outcome são preenchidos.
type Result struct {
	Outcome  Outcome
	Value    []byte
	Cached   bool
	Stale    bool
	Decision domain.Decision
	Attempts int
	// Err é um *domain.GatewayError quando Outcome é RateLimited ou Failed.
	Err error
}

// Orchestrator compõe admissão, cache-aside, retry e fallback stale.
type Orchestrator struct {
	Admission Service
	Cache     domain.Cache
	Retry     RetryExecutor
	Slots     ConcurrencyService
	Throttle  domain.Throttle
	Stats     domain.StatsStore
	Logger    *slog.Logger

	// Timeout limita o Fetch inteiro (admissão + cache + retries). 0 desliga.
	Timeout time.Duration
	// StaleReadTimeout limita a leitura stale feita depois do prazo estourar.
	StaleReadTimeout time.Duration
	// Coalesce compartilha uma única execução entre misses simultâneos da mesma chave.
	Coalesce bool

	now    func() time.Time
	flight singleflight.Group
}

type flightResult struct {
	value    []byte
	attempts int
}

// Fetch nunca entra em pânico nem devolve erro solto: todo caminho vira um Result.
func (o *Orchestrator) Fetch(ctx context.Context, req Request) Result {
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	res := o.fetch(ctx, req)
	o.record(ctx, req, res)
	return res
}

func (o *Orchestrator) fetch(ctx context.Context, req Request) Result {
	dec := o.Admission.Decide(domain.Key(req.Identifier), req.RatePolicy)
	if !dec.Allowed {
		return Result{
			Outcome:  OutcomeRateLimited,
			Decision: dec,
			Err:      &domain.GatewayError{Kind: domain.KindAdmissionDenied},
		}
	}

	if req.Call == nil {
		return Result{Outcome: OutcomeDemo, Value: req.Fallback, Decision: dec}
	}

	if v, ok := o.cacheGet(ctx, req.CacheKey); ok {
		return Result{Outcome: OutcomeFresh, Value: v, Cached: true, Decision: dec}
	}

	fr, err := o.execute(ctx, req)
	if err == nil {
		return Result{Outcome: OutcomeFresh, Value: fr.value, Decision: dec, Attempts: fr.attempts}
	}

	if errors.Is(err, domain.ErrNotConfigured) {
		return Result{Outcome: OutcomeDemo, Value: req.Fallback, Decision: dec, Attempts: fr.attempts}
	}

	kind := o.classify(ctx, req, err)
	if v, ok := o.cacheGetStale(ctx, req.CacheKey); ok {
		o.logger().LogAttrs(ctx, slog.LevelWarn, "serving stale data",
			slog.String("route", req.Route),
			slog.String("provider", req.Provider),
			slog.String("reason", kind.String()),
			slog.String("error", err.Error()),
		)
		return Result{Outcome: OutcomeDegraded, Value: v, Cached: true, Stale: true, Decision: dec, Attempts: fr.attempts}
	}

	o.logger().LogAttrs(ctx, slog.LevelError, "upstream failed without cached fallback",
		slog.String("route", req.Route),
		slog.String("provider", req.Provider),
		slog.String("reason", kind.String()),
		slog.Int("attempts", fr.attempts),
		slog.String("error", err.Error()),
	)
	return Result{
		Outcome:  OutcomeFailed,
		Decision: dec,
		Attempts: fr.attempts,
		Err:      &domain.GatewayError{Kind: kind, Cause: err},
	}
}

// execute roda a chamada com retry, opcionalmente compartilhada entre misses
// simultâneos da mesma chave. Cada chamador espera respeitando o próprio ctx.
func (o *Orchestrator) execute(ctx context.Context, req Request) (flightResult, error) {
	if !o.Coalesce || req.CacheKey == "" {
		return o.run(ctx, req)
	}

	// só quem executou a chamada contabiliza as tentativas
	executed := false
	ch := o.flight.DoChan(req.CacheKey, func() (any, error) {
		executed = true
		// a execução compartilhada não pode morrer quando o primeiro chamador desiste
		flightCtx := context.WithoutCancel(ctx)
		if o.Timeout > 0 {
			var cancel context.CancelFunc
			flightCtx, cancel = context.WithTimeout(flightCtx, o.Timeout)
			defer cancel()
		}
		return o.run(flightCtx, req)
	})

	select {
	case r := <-ch:
		fr, _ := r.Val.(flightResult)
		if !executed {
			fr.attempts = 0
		}
		return fr, r.Err
	case <-ctx.Done():
		return flightResult{}, ctx.Err()
	}
}

// throttleError marca uma tentativa recusada pela cota do provedor, antes de
// qualquer chamada ao upstream.
type throttleError struct{ err error }

func (e *throttleError) Error() string { return e.err.Error() }
func (e *throttleError) Unwrap() error { return e.err }

// run executa a chamada com retry e grava o sucesso no cache.
//
// O slot é tomado a cada tentativa e devolvido antes do backoff. Se a cota do
// provedor recusar uma tentativa, a última falha real do upstream é a causa.
func (o *Orchestrator) run(ctx context.Context, req Request) (flightResult, error) {
	policy := req.Retry
	policy.Retryable = func(err error) bool {
		var te *throttleError
		if errors.As(err, &te) {
			return false
		}
		return req.Retry.retryable(err)
	}

	var (
		value   []byte
		lastErr error
		calls   int
	)
	_, err := o.Retry.Run(ctx, policy, func(ctx context.Context) error {
		if o.Throttle != nil {
			if err := o.Throttle.Wait(ctx, req.Provider); err != nil {
				return &throttleError{err: err}
			}
		}
		release, err := o.Slots.Acquire(ctx)
		if err != nil {
			lastErr = err
			return err
		}
		defer release()

		calls++
		v, err := req.Call(ctx)
		if err != nil {
			lastErr = err
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		var te *throttleError
		if errors.As(err, &te) && lastErr != nil {
			err = lastErr
		}
		return flightResult{attempts: calls}, err
	}

	o.cacheSet(ctx, req.CacheKey, value, req.TTL)
	return flightResult{value: value, attempts: calls}, nil
}

func (o *Orchestrator) classify(ctx context.Context, req Request, err error) domain.ErrorKind {
	switch {
	case ctx.Err() != nil:
		return domain.KindTimeout
	case errors.As(err, new(*throttleError)):
		// a cota não cabe no prazo restante
		return domain.KindTimeout
	case req.Retry.retryable(err):
		return domain.KindExhausted
	default:
		return domain.KindPermanent
	}
}

func (o *Orchestrator) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if o.Cache == nil || key == "" {
		return nil, false
	}
	v, ok, err := o.Cache.Get(ctx, key)
	if err != nil {
		o.logger().LogAttrs(ctx, slog.LevelWarn, "cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	return v, ok
}

// cacheGetStale roda mesmo com o prazo do Fetch estourado.
func (o *Orchestrator) cacheGetStale(ctx context.Context, key string) ([]byte, bool) {
	if o.Cache == nil || key == "" {
		return nil, false
	}
	budget := o.StaleReadTimeout
	if budget <= 0 {
		budget = 250 * time.Millisecond
	}
	staleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
	defer cancel()

	v, ok, err := o.Cache.GetStale(staleCtx, key)
	if err != nil {
		o.logger().LogAttrs(ctx, slog.LevelWarn, "stale cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	return v, ok
}

func (o *Orchestrator) cacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if o.Cache == nil || key == "" || ttl <= 0 {
		return
	}
	if err := o.Cache.Set(ctx, key, value, ttl); err != nil {
		o.logger().LogAttrs(ctx, slog.LevelWarn, "cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) record(ctx context.Context, req Request, res Result) {
	if o.Stats == nil {
		return
	}
	ev := domain.StatsEvent{
		Key:      domain.Key(req.Identifier),
		Outcome:  res.Outcome.String(),
		Route:    req.Route,
		Provider: req.Provider,
		Attempts: res.Attempts,
		At:       o.clock()(),
	}
	if err := o.Stats.Record(context.WithoutCancel(ctx), ev); err != nil {
		o.logger().LogAttrs(ctx, slog.LevelDebug, "stats record failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) clock() func() time.Time {
	if o.now != nil {
		return o.now
	}
	return time.Now
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return discardLogger
}
