package infra

import (
	"context"
	"sync"
	"time"
)

// startJanitor roda fn a cada `every` até ctx encerrar ou stop ser chamado.
// Com every <= 0 não inicia nada.
func startJanitor(ctx context.Context, every time.Duration, fn func()) (stop func()) {
	if every <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t := time.NewTicker(every)
	go func() {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
