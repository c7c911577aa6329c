package agent

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ErrandDispatchPlatform/services/tracker-agent/internal/geolocation"
)

// session владеет ресурсами одного сеанса отслеживания: таймером, подпиской
// на изменения позиции и незавершенными отчетами. close идемпотентен.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	// halted закрывается при переходе сеанса в Errored
	halted chan struct{}

	loops    errgroup.Group
	inflight sync.WaitGroup

	ticker *time.Ticker
	watch  geolocation.Watch

	closeOnce  sync.Once
	closeErr   error
	finishOnce sync.Once
	finishErr  error
}

func newSession(parent context.Context) *session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &session{ctx: ctx, cancel: cancel, halted: make(chan struct{})}
}

// close останавливает таймер и подписку. Подписка закрывается даже если
// с таймером что-то пошло не так, и наоборот. Ждет выхода циклов.
func (s *session) close() error {
	s.closeOnce.Do(func() {
		s.cancel()

		var teardown errgroup.Group
		teardown.Go(func() error {
			if s.ticker != nil {
				s.ticker.Stop()
			}
			return nil
		})
		teardown.Go(func() error {
			if s.watch != nil {
				return s.watch.Close()
			}
			return nil
		})

		s.closeErr = stderrors.Join(teardown.Wait(), s.loops.Wait())
	})
	return s.closeErr
}
