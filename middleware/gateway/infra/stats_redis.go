package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"data-gateway/middleware/gateway/domain"

	"github.com/redis/go-redis/v9"
)

var (
	_ domain.StatsStore  = (*RedisStatsStore)(nil)
	_ domain.StatsReader = (*RedisStatsStore)(nil)
)

// RedisStatsStore agrega desfechos em hashes do Redis, compartilhados entre instâncias.
//
// Layout (prefixo padrão "gateway:stats"):
//
//	<prefix>:total                hash outcome -> n (não expira)
//	<prefix>:route                hash "<route>|<outcome>" -> n (não expira)
//	<prefix>:attempts             hash provider -> tentativas (não expira)
//	<prefix>:minute:YYYYMMDDhhmm  hash outcome -> n (expira em ttl)
//	<prefix>:key:<key>            hash outcome -> n (expira em ttl, só com trackKeys)
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix    string
	ttl       time.Duration
	perMinute bool
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithStatsTTL define a expiração das séries por minuto e por key.
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket aceita "minute" (padrão) ou "none".
func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.perMinute = strings.ToLower(strings.TrimSpace(bucket)) != "none"
	}
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:       rdb,
		prefix:    "gateway:stats",
		ttl:       24 * time.Hour,
		perMinute: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	outcome := outcomeField(strings.TrimSpace(ev.Outcome))

	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, s.key("total"), outcome, 1)

		if route := strings.TrimSpace(ev.Route); route != "" {
			pipe.HIncrBy(ctx, s.key("route"), route+"|"+outcome, 1)
		}
		if provider := strings.TrimSpace(ev.Provider); provider != "" && ev.Attempts > 0 {
			pipe.HIncrBy(ctx, s.key("attempts"), provider, int64(ev.Attempts))
		}
		if s.perMinute {
			s.incrExpiring(ctx, pipe, s.key("minute", at.UTC().Format("200601021504")), outcome)
		}
		if k := strings.TrimSpace(string(ev.Key)); s.trackKeys && k != "" {
			s.incrExpiring(ctx, pipe, s.key("key", k), outcome)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record stats: %w", err)
	}
	return nil
}

func (s *RedisStatsStore) incrExpiring(ctx context.Context, pipe redis.Pipeliner, key, outcome string) {
	pipe.HIncrBy(ctx, key, outcome, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}

// Snapshot lê os agregados cumulativos. Séries por key não entram: exigiriam SCAN.
func (s *RedisStatsStore) Snapshot(ctx context.Context) (domain.StatsSnapshot, error) {
	var total, route, attempts *redis.MapStringStringCmd
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		total = pipe.HGetAll(ctx, s.key("total"))
		route = pipe.HGetAll(ctx, s.key("route"))
		attempts = pipe.HGetAll(ctx, s.key("attempts"))
		return nil
	})
	if err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("read stats: %w", err)
	}

	snap := domain.StatsSnapshot{
		Total:    parseCounters(total.Val()),
		ByRoute:  make(map[string]domain.Counters),
		Attempts: parseCounters(attempts.Val()),
	}
	for field, n := range parseCounters(route.Val()) {
		i := strings.LastIndex(field, "|")
		if i < 0 {
			continue
		}
		name, outcome := field[:i], field[i+1:]
		c := snap.ByRoute[name]
		if c == nil {
			c = make(domain.Counters)
			snap.ByRoute[name] = c
		}
		c[outcome] = n
	}
	return snap, nil
}

func parseCounters(raw map[string]string) domain.Counters {
	out := make(domain.Counters, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out
}
