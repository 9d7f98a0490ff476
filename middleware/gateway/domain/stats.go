package domain

import (
	"context"
	"time"
)

// StatsEvent representa o desfecho de uma consulta ao gateway.
//
// Ele é propositalmente "agnóstico de HTTP": Route/Provider são strings genéricas.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key sem controle pode
// explodir o número de chaves no Redis).
type StatsEvent struct {
	Key      Key
	Outcome  string
	Route    string
	Provider string
	Attempts int

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do gateway.
//
// O chamador trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// Counters conta eventos por desfecho (fresh, degraded, rate_limited, failed, demo, admitted).
type Counters map[string]int64

// StatsSnapshot é a leitura agregada exposta nas rotas administrativas.
// Attempts soma as tentativas feitas a cada provedor.
type StatsSnapshot struct {
	Total    Counters            `json:"total"`
	ByRoute  map[string]Counters `json:"by_route"`
	ByKey    map[string]Counters `json:"by_key,omitempty"`
	Attempts Counters            `json:"attempts,omitempty"`
}

// StatsReader é implementado pelos stores capazes de devolver um agregado.
type StatsReader interface {
	Snapshot(ctx context.Context) (StatsSnapshot, error)
}
