package application

import (
	"context"
	"time"

	"data-gateway/middleware/gateway/domain"
)

// ConcurrencyService limita quantas execuções ao provedor rodam ao mesmo tempo.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire espera por uma vaga por no máximo AcquireTimeout (sem timeout: até ctx encerrar).
//
// Se o próprio ctx encerrou, retorna ctx.Err(); se só o timeout de aquisição
// estourou, retorna domain.ErrSaturated, que o classificador trata como transitório.
func (s ConcurrencyService) Acquire(ctx context.Context) (release func(), err error) {
	if s.Pool == nil {
		return func() {}, nil
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if ok {
		return release, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, domain.ErrSaturated
}
