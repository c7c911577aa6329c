package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"ErrandDispatchPlatform/pkg/geo"
	"ErrandDispatchPlatform/pkg/logger"
	"ErrandDispatchPlatform/services/tracker-agent/internal/client"
	"ErrandDispatchPlatform/services/tracker-agent/internal/geolocation"
)

// State состояние агента
type State string

const (
	StateIdle     State = "IDLE"
	StateStarting State = "STARTING"
	StateTracking State = "TRACKING"
	StateStopping State = "STOPPING"
	StateErrored  State = "ERRORED"
)

var (
	ErrAlreadyRunning = stderrors.New("tracking is already running")
	ErrNotTracking    = stderrors.New("tracking is not active")
	// ErrStopped возвращается операциям, прерванным остановкой сеанса
	ErrStopped = stderrors.New("tracking session was stopped")
)

// Reporter серверная часть: прием позиции и снятие с линии
type Reporter interface {
	ReportPosition(ctx context.Context, report client.PositionReport) (*client.Ack, error)
	SetOffline(ctx context.Context) error
}

// Config параметры агента
type Config struct {
	FixTimeout          time.Duration
	ReportInterval      time.Duration
	ReportTimeout       time.Duration
	MovementThresholdKm float64
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		FixTimeout:          10 * time.Second,
		ReportInterval:      5 * time.Minute,
		ReportTimeout:       15 * time.Second,
		MovementThresholdKm: 0.05,
	}
}

// Status снимок состояния агента
type Status struct {
	State     State
	Online    bool
	Last      *geolocation.Fix
	LastError *geolocation.FixError
	// ReportError отказ сервера, остановивший сеанс (401, 403)
	ReportError error
}

// Agent ведет сеанс отслеживания одного исполнителя.
//
// Start выходит на линию, Stop уходит с линии. Во время Tracking работают два
// источника отчетов: периодический таймер и подписка на перемещения. Все
// изменения состояния проходят под mu и привязаны к текущему сеансу, поэтому
// отчет, начатый до Stop, не может вернуть online=true после него.
type Agent struct {
	provider geolocation.Provider
	reporter Reporter
	cfg      Config
	logger   logger.Logger

	mu      sync.Mutex
	state   State
	session *session
	online  bool
	last    *geolocation.Fix
	lastErr   *geolocation.FixError
	reportErr error
}

// New создает агента в состоянии Idle
func New(provider geolocation.Provider, reporter Reporter, cfg Config, log logger.Logger) *Agent {
	def := DefaultConfig()
	if cfg.FixTimeout <= 0 {
		cfg.FixTimeout = def.FixTimeout
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = def.ReportInterval
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = def.ReportTimeout
	}
	if cfg.MovementThresholdKm <= 0 {
		cfg.MovementThresholdKm = def.MovementThresholdKm
	}

	return &Agent{
		provider: provider,
		reporter: reporter,
		cfg:      cfg,
		logger:   log.With(logger.String("component", "tracker-agent")),
		state:    StateIdle,
	}
}

// Status возвращает снимок состояния
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{State: a.state, Online: a.online, LastError: a.lastErr, ReportError: a.reportErr}
	if a.last != nil {
		last := *a.last
		st.Last = &last
	}
	return st
}

// Start выводит исполнителя на линию: получает точную позицию (не дольше
// FixTimeout), отправляет ее с is_online=true и включает отслеживание.
// Ошибка геолокации переводит агента в Errored и возвращается как *geolocation.FixError.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateErrored && a.session != nil {
		// SetOffline прошлого сеанса не должен прийти после нового is_online=true
		prev := a.session
		a.mu.Unlock()
		_ = a.finish(prev)
		a.mu.Lock()
	}
	if a.state != StateIdle && a.state != StateErrored {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	s := newSession(ctx)
	a.session = s
	a.state = StateStarting
	a.lastErr = nil
	a.reportErr = nil
	a.mu.Unlock()

	a.logger.Info("Going online", logger.CtxField(ctx))

	fix, err := a.fix(s, true)
	if err != nil {
		if s.ctx.Err() != nil {
			return ErrStopped
		}
		fe := geolocation.Classify(err)
		if a.markErrored(s, fe) {
			_ = a.finish(s)
		}
		return fe
	}

	online := true
	if err := a.report(s, fix, &online); err != nil {
		if stderrors.Is(err, ErrStopped) || s.ctx.Err() != nil {
			return ErrStopped
		}
		a.abort(s)
		return fmt.Errorf("failed to report initial position: %w", err)
	}

	watch, werr := a.provider.Watch(s.ctx, geolocation.Options{HighAccuracy: false})
	if werr != nil {
		a.logger.Warn("Continuous position watch unavailable, relying on periodic reports",
			logger.CtxField(ctx), logger.Error(werr))
	}

	a.mu.Lock()
	if a.session != s || a.state != StateStarting {
		a.mu.Unlock()
		if watch != nil {
			_ = watch.Close()
		}
		return ErrStopped
	}
	a.state = StateTracking
	s.ticker = time.NewTicker(a.cfg.ReportInterval)
	s.watch = watch
	s.loops.Go(func() error { return a.tickLoop(s) })
	if watch != nil {
		s.loops.Go(func() error { return a.watchLoop(s) })
	}
	a.mu.Unlock()

	a.logger.Info("Tracking started",
		logger.CtxField(ctx),
		logger.Float64("lat", fix.Lat),
		logger.Float64("lng", fix.Lng),
	)
	return nil
}

// Halted возвращает канал, который закроется, если текущий сеанс остановится
// из-за ошибки геолокации или отказа сервера. Без активного сеанса канал никогда не закроется.
func (a *Agent) Halted() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	return a.session.halted
}

// Stop уходит с линии: гасит таймер и подписку, дожидается отчетов в полете
// и отправляет SetOffline. Повторный вызов ничего не делает.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	s := a.session
	if s == nil || a.state == StateIdle || a.state == StateStopping {
		a.mu.Unlock()
		return nil
	}
	a.state = StateStopping
	a.online = false
	a.mu.Unlock()

	err := a.finish(s)

	a.mu.Lock()
	if a.session == s {
		a.session = nil
		a.state = StateIdle
	}
	a.mu.Unlock()

	a.logger.Info("Tracking stopped", logger.CtxField(ctx))
	return err
}

// Resume вызывается при возврате приложения на передний план: отправляет
// внеочередной отчет, не сбрасывая периодический таймер.
func (a *Agent) Resume(ctx context.Context) error {
	s, err := a.trackingSession()
	if err != nil {
		return err
	}

	fix, err := a.fix(s, true)
	if err != nil {
		if s.ctx.Err() != nil {
			return ErrStopped
		}
		fe := geolocation.Classify(err)
		a.handleFixError(s, fe, "resume")
		return fe
	}
	if err := a.report(s, fix, nil); err != nil {
		a.handleReportError(s, err, "resume")
		return err
	}
	return nil
}

// UpdateNow ручное обновление позиции, работает как Resume
func (a *Agent) UpdateNow(ctx context.Context) error {
	return a.Resume(ctx)
}

func (a *Agent) trackingSession() (*session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateTracking || a.session == nil {
		return nil, ErrNotTracking
	}
	return a.session, nil
}

func (a *Agent) tickLoop(s *session) error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-s.ticker.C:
		}

		fix, err := a.fix(s, true)
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if a.handleFixError(s, geolocation.Classify(err), "tick") {
				return nil
			}
			continue
		}
		if err := a.report(s, fix, nil); err != nil && a.handleReportError(s, err, "tick") {
			return nil
		}
	}
}

func (a *Agent) watchLoop(s *session) error {
	updates := s.watch.Updates()
	for {
		var u geolocation.Update
		select {
		case <-s.ctx.Done():
			return nil
		case u = <-updates:
		}

		if u.Err != nil {
			if a.handleFixError(s, geolocation.Classify(u.Err), "watch") {
				return nil
			}
			continue
		}

		if !a.movedEnough(u.Fix) {
			continue
		}
		if err := a.report(s, u.Fix, nil); err != nil && a.handleReportError(s, err, "watch") {
			return nil
		}
	}
}

// handleFixError логирует ошибку геолокации. Для фатальных причин переводит
// агента в Errored и сворачивает сеанс в фоне. Возвращает true, если сеанс окончен.
func (a *Agent) handleFixError(s *session, fe *geolocation.FixError, source string) bool {
	if !fe.Fatal() {
		a.logger.Warn("Position fix failed",
			logger.String("source", source),
			logger.String("cause", string(fe.Cause)),
			logger.Error(fe),
		)
		return false
	}
	if a.markErrored(s, fe) {
		go func() { _ = a.finish(s) }()
	}
	return true
}

// handleReportError логирует неудачный отчет; повтор будет на следующем тике.
// Отказ, который повтор не исправит (истекший токен, неактивная подписка),
// переводит агента в Errored. Возвращает true, если сеанс окончен.
func (a *Agent) handleReportError(s *session, err error, source string) bool {
	if stderrors.Is(err, ErrStopped) {
		return false
	}
	if !client.IsPermanent(err) {
		a.logger.Warn("Position report failed, will retry on next tick",
			logger.String("source", source),
			logger.Error(err),
		)
		return false
	}
	if a.markRejected(s, err) {
		go func() { _ = a.finish(s) }()
	}
	return true
}

// movedEnough сообщает, сместился ли исполнитель от последней принятой позиции
// не меньше чем на порог
func (a *Agent) movedEnough(fix geolocation.Fix) bool {
	a.mu.Lock()
	last := a.last
	a.mu.Unlock()

	return MovedEnough(last, fix, a.cfg.MovementThresholdKm)
}

// MovedEnough true, если last отсутствует или расстояние до next >= thresholdKm
func MovedEnough(last *geolocation.Fix, next geolocation.Fix, thresholdKm float64) bool {
	if last == nil {
		return true
	}
	return geo.HaversineKm(last.Lat, last.Lng, next.Lat, next.Lng) >= thresholdKm
}

func (a *Agent) fix(s *session, highAccuracy bool) (geolocation.Fix, error) {
	ctx, cancel := context.WithTimeout(s.ctx, a.cfg.FixTimeout)
	defer cancel()
	return a.provider.CurrentPosition(ctx, geolocation.Options{HighAccuracy: highAccuracy})
}

// report отправляет позицию в рамках сеанса s. Результат применяется к
// состоянию агента, только если s все еще текущий и активный сеанс.
func (a *Agent) report(s *session, fix geolocation.Fix, setOnline *bool) error {
	a.mu.Lock()
	if !a.activeLocked(s) {
		a.mu.Unlock()
		return ErrStopped
	}
	s.inflight.Add(1)
	a.mu.Unlock()
	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(s.ctx, a.cfg.ReportTimeout)
	defer cancel()

	_, err := a.reporter.ReportPosition(ctx, client.PositionReport{
		Lat:      fix.Lat,
		Lng:      fix.Lng,
		Accuracy: fix.Accuracy,
		IsOnline: setOnline,
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.activeLocked(s) {
		return ErrStopped
	}
	if err != nil {
		return err
	}

	accepted := fix
	a.last = &accepted
	if setOnline != nil {
		a.online = *setOnline
	}
	return nil
}

func (a *Agent) activeLocked(s *session) bool {
	return a.session == s && (a.state == StateStarting || a.state == StateTracking)
}

// markErrored переводит активный сеанс s в Errored из-за ошибки геолокации
func (a *Agent) markErrored(s *session, fe *geolocation.FixError) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.haltLocked(s) {
		return false
	}
	a.lastErr = fe

	a.logger.Error("Tracking halted by geolocation error",
		logger.String("cause", string(fe.Cause)),
		logger.String("user_message", fe.UserMessage()),
		logger.Error(fe),
	)
	return true
}

// markRejected переводит активный сеанс s в Errored после отказа сервера
func (a *Agent) markRejected(s *session, err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.haltLocked(s) {
		return false
	}
	a.reportErr = err

	a.logger.Error("Tracking halted: server rejected position report", logger.Error(err))
	return true
}

func (a *Agent) haltLocked(s *session) bool {
	if !a.activeLocked(s) {
		return false
	}
	a.state = StateErrored
	a.online = false
	close(s.halted)
	return true
}

// abort возвращает агента в Idle после неудачного первого отчета
func (a *Agent) abort(s *session) {
	a.mu.Lock()
	if !a.activeLocked(s) {
		a.mu.Unlock()
		return
	}
	a.state = StateStopping
	a.online = false
	a.mu.Unlock()

	_ = a.finish(s)

	a.mu.Lock()
	if a.session == s {
		a.session = nil
		a.state = StateIdle
	}
	a.mu.Unlock()
}

// finish закрывает сеанс, дожидается отчетов в полете и снимает исполнителя
// с линии. Выполняется один раз на сеанс.
func (a *Agent) finish(s *session) error {
	s.finishOnce.Do(func() {
		closeErr := s.close()
		if closeErr != nil {
			a.logger.Warn("Tracking teardown reported an error", logger.Error(closeErr))
		}
		s.inflight.Wait()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), a.cfg.ReportTimeout)
		defer cancel()
		if err := a.reporter.SetOffline(ctx); err != nil {
			a.logger.Warn("Failed to set worker offline", logger.Error(err))
			s.finishErr = err
		}
	})
	return s.finishErr
}
