package application

import (
	"data-gateway/middleware/gateway/domain"
)

// Service concentra a regra de admissão do gateway.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Limiter domain.RateLimiter
}

// Decide consulta o limiter para (key, policy). Sem limiter ou com política
// inválida, a requisição é admitida.
func (s Service) Decide(key domain.Key, policy domain.RateLimitPolicy) domain.Decision {
	if s.Limiter == nil || policy.Validate() != nil {
		return domain.Decision{Allowed: true, Limit: policy.MaxRequests, Remaining: policy.MaxRequests}
	}
	if key == "" {
		key = domain.UnknownKey
	}
	return s.Limiter.Check(string(key), policy)
}
