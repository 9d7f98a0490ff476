package infra

import (
	"context"
	"fmt"
	"sync"

	"data-gateway/middleware/gateway/domain"

	"golang.org/x/time/rate"
)

var _ domain.Throttle = (*ProviderThrottle)(nil)

// ProviderThrottle é um token bucket (x/time/rate) por provedor, para não estourar
// a quota do terceiro independentemente de quantos clientes estão chamando.
//
// Provedores sem limite configurado passam direto.
type ProviderThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewProviderThrottle() *ProviderThrottle {
	return &ProviderThrottle{limiters: make(map[string]*rate.Limiter)}
}

// SetLimit configura rps/burst para o provedor. rps <= 0 remove o limite.
func (t *ProviderThrottle) SetLimit(provider string, rps float64, burst int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rps <= 0 {
		delete(t.limiters, provider)
		return
	}
	if burst <= 0 {
		burst = 1
	}
	t.limiters[provider] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait implementa domain.Throttle.
func (t *ProviderThrottle) Wait(ctx context.Context, provider string) error {
	t.mu.Lock()
	lim := t.limiters[provider]
	t.mu.Unlock()

	if lim == nil {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait for provider %v: %w", provider, err)
	}
	return nil
}
