package geolocation

import (
	"context"
	"time"
)

// StaticProvider всегда возвращает одну и ту же точку. Watch не присылает обновлений.
type StaticProvider struct {
	fix Fix
	now func() time.Time
}

// NewStaticProvider создает провайдер фиксированной точки
func NewStaticProvider(lat, lng float64, accuracy *float64) *StaticProvider {
	return &StaticProvider{fix: Fix{Lat: lat, Lng: lng, Accuracy: accuracy}, now: time.Now}
}

func (p *StaticProvider) CurrentPosition(ctx context.Context, _ Options) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, Classify(err)
	}
	fix := p.fix
	fix.Timestamp = p.now()
	return fix, nil
}

func (p *StaticProvider) Watch(ctx context.Context, _ Options) (Watch, error) {
	return newChannelWatch(ctx), nil
}

// channelWatch подписка поверх канала, закрывается один раз
type channelWatch struct {
	updates chan Update
	cancel  context.CancelFunc
	ctx     context.Context
}

func newChannelWatch(parent context.Context) *channelWatch {
	ctx, cancel := context.WithCancel(parent)
	return &channelWatch{updates: make(chan Update), cancel: cancel, ctx: ctx}
}

func (w *channelWatch) Updates() <-chan Update { return w.updates }

func (w *channelWatch) Close() error {
	w.cancel()
	return nil
}

// send отдает обновление подписчику, если подписка еще жива
func (w *channelWatch) send(u Update) bool {
	select {
	case w.updates <- u:
		return true
	case <-w.ctx.Done():
		return false
	}
}
