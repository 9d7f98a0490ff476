package main

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type config struct {
	listenAddr string
	logLevel   slog.Level
	keyHeader  string
	trustXFF   bool

	rateMaxRequests int
	rateWindow      time.Duration
	rateHourlyMax   int
	adminMax        int
	sweepEvery      time.Duration
	limiterShards   int

	retryMax          int
	retryInitialDelay time.Duration
	retryMaxDelay     time.Duration
	retryJitter       float64

	fetchTimeout           time.Duration
	coalesce               bool
	upstreamConcurrency    int
	upstreamAcquireTimeout time.Duration
	upstreamTimeout        time.Duration

	cacheBackend    string
	cacheStaleFor   time.Duration
	cacheMaxEntries int
	cachePrefix     string
	redisAddr       string
	redisPassword   string
	redisDB         int

	statsBackend   string
	statsPrefix    string
	statsTTL       time.Duration
	statsBucket    string
	statsTrackKeys bool

	providers map[string]providerConfig
}

type providerConfig struct {
	url    string
	apiKey string
	ttl    time.Duration
	rps    float64
	burst  int
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.logLevel = parseLevel(getenvDefault("LOG_LEVEL", "info"))
	cfg.keyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)

	cfg.rateMaxRequests = getenvIntDefault("RATE_MAX_REQUESTS", 10)
	cfg.rateWindow = getenvDurationDefault("RATE_WINDOW", time.Minute)
	cfg.rateHourlyMax = getenvIntDefault("RATE_HOURLY_MAX", 100)
	cfg.adminMax = getenvIntDefault("ADMIN_RATE_MAX_REQUESTS", 30)
	cfg.sweepEvery = getenvDurationDefault("RATE_SWEEP_EVERY", time.Minute)
	cfg.limiterShards = getenvIntDefault("RATE_SHARDS", 32)

	cfg.retryMax = getenvIntDefault("RETRY_MAX", 2)
	cfg.retryInitialDelay = getenvDurationDefault("RETRY_INITIAL_DELAY", 500*time.Millisecond)
	cfg.retryMaxDelay = getenvDurationDefault("RETRY_MAX_DELAY", 4*time.Second)
	cfg.retryJitter = getenvFloatDefault("RETRY_JITTER", 0)

	cfg.fetchTimeout = getenvDurationDefault("FETCH_TIMEOUT", 10*time.Second)
	cfg.coalesce = getenvBoolDefault("COALESCE", true)
	cfg.upstreamConcurrency = getenvIntDefault("UPSTREAM_CONCURRENCY", 20)
	cfg.upstreamAcquireTimeout = getenvDurationDefault("UPSTREAM_ACQUIRE_TIMEOUT", 2*time.Second)
	cfg.upstreamTimeout = getenvDurationDefault("UPSTREAM_TIMEOUT", 5*time.Second)

	cfg.cacheBackend = strings.ToLower(getenvDefault("CACHE_BACKEND", "memory"))
	cfg.cacheStaleFor = getenvDurationDefault("CACHE_STALE_FOR", 24*time.Hour)
	cfg.cacheMaxEntries = getenvIntDefault("CACHE_MAX_ENTRIES", 10000)
	cfg.cachePrefix = getenvDefault("CACHE_PREFIX", "gateway:cache")
	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)

	cfg.statsBackend = strings.ToLower(getenvDefault("STATS_BACKEND", "memory"))
	cfg.statsPrefix = getenvDefault("STATS_PREFIX", "gateway:stats")
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("STATS_BUCKET", "minute")
	cfg.statsTrackKeys = getenvBoolDefault("STATS_TRACK_KEYS", false)

	cfg.providers = map[string]providerConfig{
		"fx":         readProvider("FX", 5*time.Minute),
		"quote":      readProvider("QUOTE", 30*time.Second),
		"news":       readProvider("NEWS", 15*time.Minute),
		"geo":        readProvider("GEO", 24*time.Hour),
		"indicators": readProvider("INDICATORS", 6*time.Hour),
	}

	if cfg.rateMaxRequests <= 0 || cfg.rateHourlyMax <= 0 || cfg.adminMax <= 0 {
		return config{}, errors.New("RATE_MAX_REQUESTS, RATE_HOURLY_MAX and ADMIN_RATE_MAX_REQUESTS must be > 0")
	}
	if cfg.rateWindow <= 0 {
		return config{}, errors.New("RATE_WINDOW must be > 0")
	}
	if cfg.retryMax < 0 {
		return config{}, errors.New("RETRY_MAX must be >= 0")
	}
	if cfg.retryJitter < 0 || cfg.retryJitter >= 1 {
		return config{}, errors.New("RETRY_JITTER must be in [0, 1)")
	}
	if cfg.upstreamConcurrency < 0 {
		return config{}, errors.New("UPSTREAM_CONCURRENCY must be >= 0")
	}
	switch cfg.cacheBackend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.redisAddr) == "" {
			return config{}, errors.New("REDIS_ADDR is required when CACHE_BACKEND=redis")
		}
	default:
		return config{}, errors.New("CACHE_BACKEND must be memory or redis")
	}
	switch cfg.statsBackend {
	case "none", "memory":
	case "redis":
		if strings.TrimSpace(cfg.redisAddr) == "" {
			return config{}, errors.New("REDIS_ADDR is required when STATS_BACKEND=redis")
		}
	default:
		return config{}, errors.New("STATS_BACKEND must be none, memory or redis")
	}
	return cfg, nil
}

// readProvider lê <PREFIX>_URL, <PREFIX>_API_KEY, <PREFIX>_TTL, <PREFIX>_RPS e <PREFIX>_BURST.
func readProvider(prefix string, defTTL time.Duration) providerConfig {
	return providerConfig{
		url:    os.Getenv(prefix + "_URL"),
		apiKey: os.Getenv(prefix + "_API_KEY"),
		ttl:    getenvDurationDefault(prefix+"_TTL", defTTL),
		rps:    getenvFloatDefault(prefix+"_RPS", 0),
		burst:  getenvIntDefault(prefix+"_BURST", 1),
	}
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
