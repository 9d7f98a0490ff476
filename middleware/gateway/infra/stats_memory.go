package infra

import (
	"context"
	"maps"
	"sync"

	"data-gateway/middleware/gateway/domain"
)

var (
	_ domain.StatsStore  = (*MemoryStatsStore)(nil)
	_ domain.StatsReader = (*MemoryStatsStore)(nil)
)

// MemoryStatsStore agrega desfechos em memória, por rota, provedor e (opcionalmente) key.
// Útil para testes e para uma instância única.
//
// Não faz expiração: com WithTrackKeys a cardinalidade cresce com o número de clientes.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    domain.Counters
	byRoute  map[string]domain.Counters
	byKey    map[string]domain.Counters
	attempts domain.Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		total:    make(domain.Counters),
		byRoute:  make(map[string]domain.Counters),
		byKey:    make(map[string]domain.Counters),
		attempts: make(domain.Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	outcome := outcomeField(ev.Outcome)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total[outcome]++
	if ev.Route != "" {
		bump(s.byRoute, ev.Route, outcome)
	}
	if s.trackKeys && ev.Key != "" {
		bump(s.byKey, string(ev.Key), outcome)
	}
	if ev.Provider != "" && ev.Attempts > 0 {
		s.attempts[ev.Provider] += int64(ev.Attempts)
	}
	return nil
}

func bump(m map[string]domain.Counters, bucket, outcome string) {
	c := m[bucket]
	if c == nil {
		c = make(domain.Counters)
		m[bucket] = c
	}
	c[outcome]++
}

// Snapshot devolve cópias; o chamador pode alterá-las livremente.
func (s *MemoryStatsStore) Snapshot(context.Context) (domain.StatsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.StatsSnapshot{
		Total:    maps.Clone(s.total),
		ByRoute:  cloneNested(s.byRoute),
		Attempts: maps.Clone(s.attempts),
	}
	if s.trackKeys {
		snap.ByKey = cloneNested(s.byKey)
	}
	return snap, nil
}

func cloneNested(m map[string]domain.Counters) map[string]domain.Counters {
	out := make(map[string]domain.Counters, len(m))
	for k, v := range m {
		out[k] = maps.Clone(v)
	}
	return out
}

func outcomeField(outcome string) string {
	if outcome == "" {
		return "unknown"
	}
	return outcome
}
