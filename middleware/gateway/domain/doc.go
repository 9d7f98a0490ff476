// Package domain define contratos e tipos de domínio do gateway de dados externos:
// admissão (rate limit), cache, vagas de concorrência, throttle por provedor,
// estatísticas e a taxonomia de erros.
//
// Este pacote não depende de net/http nem de implementações concretas.
package domain
