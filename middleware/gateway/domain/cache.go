package domain

import (
	"context"
	"net/url"
	"time"
)

// Cache é o colaborador TTL usado pelo orquestrador (cache-aside).
//
// Get só retorna entradas frescas. GetStale ignora o TTL, limitado ao horizonte
// de retenção da implementação, e só deve ser usado como fallback de falha.
// Erros de armazenamento são retornados; o orquestrador os trata como miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetStale(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CacheKey monta uma chave determinística: parâmetros ordenados por nome,
// então consultas lógicas iguais sempre caem na mesma entrada.
func CacheKey(namespace string, params map[string]string) string {
	if len(params) == 0 {
		return namespace
	}
	v := make(url.Values, len(params))
	for k, p := range params {
		v.Set(k, p)
	}
	return namespace + ":" + v.Encode()
}
