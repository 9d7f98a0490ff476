package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"errors"
	"math"
	"strconv"
	"time"
)

type Key string

// UnknownKey agrupa todos os clientes sem identificador resolvível num único contador.
const UnknownKey Key = "unknown"

var ErrInvalidPolicy = errors.New("rate limit policy requires MaxRequests > 0 and Window > 0")

// RateLimitPolicy é imutável e escolhida por rota, não por cliente.
type RateLimitPolicy struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

// ID identifica a política dentro do limiter. Políticas sem nome usam "<max>/<window>".
func (p RateLimitPolicy) ID() string {
	if p.Name != "" {
		return p.Name
	}
	return strconv.Itoa(p.MaxRequests) + "/" + p.Window.String()
}

func (p RateLimitPolicy) Validate() error {
	if p.MaxRequests <= 0 || p.Window <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter só é preenchido quando bloqueado: windowResetAt - now.
	RetryAfter time.Duration
}

// RetryAfterSeconds arredonda RetryAfter para cima (segundos inteiros, mínimo 1 quando bloqueado).
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// RateLimiter decide a admissão de um identificador sob uma política.
//
// Implementações devem tornar o check-and-increment atômico por chave.
type RateLimiter interface {
	Check(identifier string, policy RateLimitPolicy) Decision
}

// RecordSnapshot é uma cópia somente-leitura de um registro do limiter.
type RecordSnapshot struct {
	Identifier    string
	Policy        string
	Count         int
	WindowResetAt time.Time
}
