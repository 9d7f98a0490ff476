package infra

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"data-gateway/middleware/gateway/domain"
)

var _ domain.RateLimiter = (*FixedWindowLimiter)(nil)

// FixedWindowLimiter é um rate limit de janela fixa em memória, com registros por
// (identificador, política) distribuídos em shards e limpeza periódica.
//
// Rajadas de até 2x MaxRequests na virada da janela são aceitas: é janela fixa,
// não deslizante.
type FixedWindowLimiter struct {
	shards     []limiterShard
	now        func() time.Time
	sweepEvery time.Duration
}

type limiterShard struct {
	mu      sync.Mutex
	records map[recordKey]*windowRecord
}

type recordKey struct {
	identifier string
	policy     string
}

type windowRecord struct {
	count         int
	windowResetAt time.Time
}

type LimiterOption func(*FixedWindowLimiter)

func WithShards(n int) LimiterOption {
	return func(l *FixedWindowLimiter) {
		if n > 0 {
			l.shards = make([]limiterShard, n)
		}
	}
}

func WithSweepEvery(d time.Duration) LimiterOption {
	return func(l *FixedWindowLimiter) { l.sweepEvery = d }
}

func WithClock(now func() time.Time) LimiterOption {
	return func(l *FixedWindowLimiter) { l.now = now }
}

func NewFixedWindowLimiter(opts ...LimiterOption) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		shards:     make([]limiterShard, 32),
		now:        time.Now,
		sweepEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	for i := range l.shards {
		l.shards[i].records = make(map[recordKey]*windowRecord)
	}
	return l
}

func (l *FixedWindowLimiter) SweepEvery() time.Duration { return l.sweepEvery }

// Check implementa domain.RateLimiter.
func (l *FixedWindowLimiter) Check(identifier string, policy domain.RateLimitPolicy) domain.Decision {
	identifier = normalizeIdentifier(identifier)
	key := recordKey{identifier: identifier, policy: policy.ID()}
	sh := l.shardFor(identifier)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := l.now()
	rec, ok := sh.records[key]
	if !ok || !now.Before(rec.windowResetAt) {
		rec = &windowRecord{count: 1, windowResetAt: now.Add(policy.Window)}
		sh.records[key] = rec
		return domain.Decision{
			Allowed:   true,
			Limit:     policy.MaxRequests,
			Remaining: policy.MaxRequests - 1,
			ResetAt:   rec.windowResetAt,
		}
	}

	if rec.count < policy.MaxRequests {
		rec.count++
		return domain.Decision{
			Allowed:   true,
			Limit:     policy.MaxRequests,
			Remaining: policy.MaxRequests - rec.count,
			ResetAt:   rec.windowResetAt,
		}
	}

	return domain.Decision{
		Allowed:    false,
		Limit:      policy.MaxRequests,
		Remaining:  0,
		ResetAt:    rec.windowResetAt,
		RetryAfter: rec.windowResetAt.Sub(now),
	}
}

// Reset remove todos os registros do identificador, em todas as políticas.
func (l *FixedWindowLimiter) Reset(identifier string) {
	identifier = normalizeIdentifier(identifier)
	sh := l.shardFor(identifier)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	for k := range sh.records {
		if k.identifier == identifier {
			delete(sh.records, k)
		}
	}
}

// Stats retorna uma cópia dos registros cujo identificador começa com prefix.
func (l *FixedWindowLimiter) Stats(prefix string) []domain.RecordSnapshot {
	var out []domain.RecordSnapshot
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		for k, rec := range sh.records {
			if strings.HasPrefix(k.identifier, prefix) {
				out = append(out, domain.RecordSnapshot{
					Identifier:    k.identifier,
					Policy:        k.policy,
					Count:         rec.count,
					WindowResetAt: rec.windowResetAt,
				})
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identifier != out[j].Identifier {
			return out[i].Identifier < out[j].Identifier
		}
		return out[i].Policy < out[j].Policy
	})
	return out
}

// Len retorna o número de registros vivos ou ainda não varridos.
func (l *FixedWindowLimiter) Len() int {
	n := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

// Cleanup remove registros cuja janela já terminou. Usa o mesmo lock do Check,
// então um registro recém-resetado nunca é removido.
func (l *FixedWindowLimiter) Cleanup() int {
	removed := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		now := l.now()
		for k, rec := range sh.records {
			if !now.Before(rec.windowResetAt) {
				delete(sh.records, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// StartJanitor inicia uma goroutine que roda Cleanup em cadência fixa.
// Pare cancelando o contexto ou chamando stop, que espera a goroutine terminar.
func (l *FixedWindowLimiter) StartJanitor(ctx context.Context) (stop func()) {
	return startJanitor(ctx, l.sweepEvery, func() { l.Cleanup() })
}

func (l *FixedWindowLimiter) shardFor(identifier string) *limiterShard {
	if len(l.shards) == 1 {
		return &l.shards[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(identifier))
	return &l.shards[h.Sum32()%uint32(len(l.shards))]
}

func normalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return string(domain.UnknownKey)
	}
	return identifier
}
