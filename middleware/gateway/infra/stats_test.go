package infra

import (
	"context"
	"testing"
	"time"

	"data-gateway/middleware/gateway/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStatsStore_Snapshot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStatsStore(WithTrackKeys(true))

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ip-1", Outcome: "fresh", Route: "fx", Provider: "fx", Attempts: 1}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ip-1", Outcome: "fresh", Route: "fx"}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ip-2", Outcome: "degraded", Route: "quote", Provider: "quote", Attempts: 3}))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.Counters{"fresh": 2, "degraded": 1}, snap.Total)
	assert.Equal(t, domain.Counters{"fresh": 2}, snap.ByRoute["fx"])
	assert.Equal(t, domain.Counters{"degraded": 1}, snap.ByKey["ip-2"])
	assert.Equal(t, domain.Counters{"fx": 1, "quote": 3}, snap.Attempts)
}

func TestMemoryStatsStore_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStatsStore()
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ip-1", Outcome: "failed", Route: "news"}))

	snap, _ := s.Snapshot(ctx)
	assert.Nil(t, snap.ByKey, "keys are only kept when tracking is enabled")
	snap.Total["failed"] = 100
	snap.ByRoute["news"]["failed"] = 100

	again, _ := s.Snapshot(ctx)
	assert.EqualValues(t, 1, again.Total["failed"])
	assert.EqualValues(t, 1, again.ByRoute["news"]["failed"])
}

func TestRedisStatsStore_Record(t *testing.T) {
	ctx := context.Background()
	server, client := newTestRedis(t)

	s := NewRedisStatsStore(client,
		WithStatsPrefix("gw:stats:"),
		WithStatsTTL(time.Hour),
		WithStatsTrackKeys(true),
	)

	at := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ip-1", Outcome: "fresh", Route: "fx", Provider: "fx", Attempts: 2, At: at}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ip-1", Outcome: "rate_limited", Route: "fx", At: at}))

	assert.Equal(t, "1", server.HGet("gw:stats:total", "fresh"))
	assert.Equal(t, "1", server.HGet("gw:stats:total", "rate_limited"))
	assert.Equal(t, "1", server.HGet("gw:stats:minute:202406231015", "fresh"))
	assert.Equal(t, "1", server.HGet("gw:stats:route", "fx|rate_limited"))
	assert.Equal(t, "2", server.HGet("gw:stats:attempts", "fx"))
	assert.Equal(t, "1", server.HGet("gw:stats:key:ip-1", "fresh"))
	assert.Equal(t, time.Hour, server.TTL("gw:stats:key:ip-1"))
	assert.Equal(t, time.Hour, server.TTL("gw:stats:minute:202406231015"))
	assert.Equal(t, time.Duration(0), server.TTL("gw:stats:total"))
}

func TestRedisStatsStore_Snapshot(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	s := NewRedisStatsStore(client)

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Outcome: "fresh", Route: "GET /admin/ratelimit"}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Outcome: "failed", Route: "quote", Provider: "quote", Attempts: 3}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Outcome: "failed", Route: "quote", Provider: "quote", Attempts: 3}))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.Counters{"fresh": 1, "failed": 2}, snap.Total)
	assert.Equal(t, map[string]domain.Counters{
		"GET /admin/ratelimit": {"fresh": 1},
		"quote":                {"failed": 2},
	}, snap.ByRoute)
	assert.Equal(t, domain.Counters{"quote": 6}, snap.Attempts)
}

func TestRedisStatsStore_NoBucket(t *testing.T) {
	ctx := context.Background()
	server, client := newTestRedis(t)

	s := NewRedisStatsStore(client, WithStatsBucket(" NONE "))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Outcome: "demo"}))

	assert.Equal(t, "1", server.HGet("gateway:stats:total", "demo"))
	for _, k := range server.Keys() {
		assert.NotContains(t, k, ":minute:")
	}
}

func TestRedisStatsStore_ReturnsErrorWhenRedisIsDown(t *testing.T) {
	server, client := newTestRedis(t)
	s := NewRedisStatsStore(client)
	server.Close()

	assert.Error(t, s.Record(context.Background(), domain.StatsEvent{Outcome: "fresh"}))
	_, err := s.Snapshot(context.Background())
	assert.Error(t, err)
}
