package infra

import (
	"context"
	"sync"
	"sync/atomic"

	"data-gateway/middleware/gateway/domain"
)

var _ domain.SlotPool = (*UpstreamSlots)(nil)

// UpstreamSlots é um semáforo baseado em channel que limita quantas execuções
// ao provedor rodam ao mesmo tempo. Um *UpstreamSlots nil não limita nada.
type UpstreamSlots struct {
	sem      chan struct{}
	waiting  atomic.Int64
	rejected atomic.Int64
}

// NewUpstreamSlots retorna nil quando capacity <= 0.
func NewUpstreamSlots(capacity int) *UpstreamSlots {
	if capacity <= 0 {
		return nil
	}
	return &UpstreamSlots{sem: make(chan struct{}, capacity)}
}

// Acquire bloqueia até haver vaga ou o ctx encerrar. O release devolvido
// pode ser chamado mais de uma vez; só a primeira chamada libera a vaga.
func (s *UpstreamSlots) Acquire(ctx context.Context) (func(), bool) {
	if s == nil {
		return func() {}, true
	}

	select {
	case s.sem <- struct{}{}:
		return s.releaser(), true
	default:
	}

	s.waiting.Add(1)
	defer s.waiting.Add(-1)

	select {
	case s.sem <- struct{}{}:
		return s.releaser(), true
	case <-ctx.Done():
		s.rejected.Add(1)
		return nil, false
	}
}

func (s *UpstreamSlots) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-s.sem })
	}
}

func (s *UpstreamSlots) Usage() domain.SlotUsage {
	if s == nil {
		return domain.SlotUsage{}
	}
	return domain.SlotUsage{
		Capacity: cap(s.sem),
		InUse:    len(s.sem),
		Waiting:  s.waiting.Load(),
		Rejected: s.rejected.Load(),
	}
}
