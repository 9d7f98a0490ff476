// Package application contém os casos de uso do gateway: admissão por cliente,
// execução com retry e backoff exponencial, e a orquestração cache-aside com
// fallback para dado stale.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Orchestrator.Fetch(ctx, req) retorna um Result (fresh, degraded, rate_limited, failed, demo).
package application
