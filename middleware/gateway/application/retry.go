package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"data-gateway/middleware/gateway/domain"
)

// RetryPolicy é configuração imutável, passada por valor.
//
// MaxRetries conta tentativas adicionais após a primeira.
// Retryable nil usa IsRetryable.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Jitter em [0,1): a espera real fica em [delay*(1-Jitter), delay].
	Jitter    float64
	Retryable func(error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		Retryable:    IsRetryable,
	}
}

// Delay retorna min(InitialDelay * 2^attempt, MaxDelay), sem jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.InitialDelay
	if d <= 0 {
		return 0
	}
	for i := 0; i < attempt; i++ {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// IsRetryable é a classificação padrão: falhas de rede e status 5xx são
// transitórias; 4xx nunca é retentado. Erros desconhecidos não são retentados.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrNotConfigured) {
		return false
	}

	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) && upErr.Status != 0 {
		switch {
		case upErr.Status >= 500 && upErr.Status <= 599:
			return true
		case upErr.Status >= 400 && upErr.Status <= 499:
			return false
		}
	}

	switch {
	case errors.Is(err, domain.ErrTransport),
		errors.Is(err, domain.ErrSaturated),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// RetryExecutor executa uma operação com backoff exponencial.
//
// A espera entre tentativas estaciona só a goroutine chamadora e respeita o ctx.
type RetryExecutor struct {
	// Sleep substitui a espera (testes). Deve retornar ctx.Err() se o ctx encerrar.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// Run tenta op até ter sucesso, esgotar MaxRetries ou receber uma falha não
// retentável. Devolve o número de tentativas e a última falha, sem embrulhar.
//
// Se o ctx encerrar durante uma espera, a última falha observada é devolvida;
// o chamador decide se isso é timeout olhando ctx.Err().
func (e RetryExecutor) Run(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error) (attempts int, err error) {
	for attempt := 0; ; attempt++ {
		attempts++
		err = op(ctx)
		if err == nil {
			return attempts, nil
		}
		if attempt >= p.MaxRetries || !p.retryable(err) || ctx.Err() != nil {
			return attempts, err
		}

		delay := p.Delay(attempt)
		if p.Jitter > 0 {
			delay -= time.Duration(float64(delay) * p.Jitter * rand.Float64())
		}
		e.logger().LogAttrs(ctx, slog.LevelDebug, "retrying upstream call",
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if e.sleep(ctx, delay) != nil {
			return attempts, err
		}
	}
}

func (e RetryExecutor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (e RetryExecutor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return discardLogger
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var discardLogger = slog.New(slog.DiscardHandler)
