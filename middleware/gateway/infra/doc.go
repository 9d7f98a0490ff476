// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - FixedWindowLimiter: rate limit de janela fixa em memória, shardado, com janitor
//   - MemoryCache / RedisCache: cache TTL com leitura stale
//   - HTTPUpstream: uma tentativa de GET a um provedor JSON
//   - ProviderThrottle: token bucket por provedor usando golang.org/x/time/rate
//   - UpstreamSlots: semáforo que limita chamadas simultâneas aos provedores
//   - MemoryStatsStore / RedisStatsStore: contadores de desfecho por rota e provedor
package infra
