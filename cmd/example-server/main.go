// Command example-server simula um provedor de dados instável para validar o gateway
// localmente: responde JSON, mas falha com 503 numa fração das requisições e
// adiciona latência.
//
//	FAIL_RATE=0.5 go run ./cmd/example-server
//	FX_URL=http://localhost:8081 FX_API_KEY=dev go run ./cmd/gateway
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	failRate := 0.3
	if v, err := strconv.ParseFloat(os.Getenv("FAIL_RATE"), 64); err == nil {
		failRate = v
	}
	latency := 50 * time.Millisecond
	if v, err := time.ParseDuration(os.Getenv("LATENCY")); err == nil {
		latency = v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var served atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{path...}", func(w http.ResponseWriter, r *http.Request) {
		n := served.Add(1)
		time.Sleep(latency)

		if rand.Float64() < failRate {
			logger.Info("injected failure", slog.Int64("n", n), slog.String("path", r.URL.Path))
			http.Error(w, "provider overloaded", http.StatusServiceUnavailable)
			return
		}

		query := map[string]string{}
		for k := range r.URL.Query() {
			if k == "apikey" {
				continue
			}
			query[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"path":   r.URL.Path,
			"query":  query,
			"value":  rand.IntN(10000),
			"served": n,
			"at":     time.Now().UTC().Format(time.RFC3339),
		})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("fake provider listening", slog.String("addr", addr), slog.Float64("fail_rate", failRate))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
