// Package gateway fornece adapters HTTP (net/http) para o gateway de dados externos.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (admissão, retry com backoff, orquestração cache-aside
//     com fallback stale) sem net/http
//   - infra: implementações concretas (janela fixa, caches, provedor HTTP, throttle)
//   - gateway (este pacote): handlers/middlewares HTTP + extração de chave + tradução
//     do resultado para status/headers/JSON
//
// Fluxo de uma rota de dados:
//
//  1. Extrai a chave do cliente (header/XFF/IP, ou "unknown")
//  2. Monta a consulta (chave de cache, TTL, políticas, chamada ao provedor)
//  3. O orquestrador decide: 429, cache fresco, chamada com retry, stale ou falha
//  4. O handler responde JSON com as flags cached/stale e os headers de rate limit
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_MAX_REQUESTS, RATE_WINDOW, RETRY_MAX, CACHE_BACKEND e FETCH_TIMEOUT.
package gateway
