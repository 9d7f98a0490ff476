package domain

import "context"

// SlotPool representa um recurso com capacidade finita (ex: chamadas simultâneas a um provedor).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada ao fim da execução.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}

// SlotUsage é a ocupação de um SlotPool num instante. Capacity 0 significa sem limite.
type SlotUsage struct {
	Capacity int   `json:"capacity"`
	InUse    int   `json:"in_use"`
	Waiting  int64 `json:"waiting"`
	Rejected int64 `json:"rejected"`
}

// Throttle limita o ritmo de chamadas por provedor (quota do terceiro).
// Wait bloqueia até haver permissão ou o ctx encerrar.
type Throttle interface {
	Wait(ctx context.Context, provider string) error
}
