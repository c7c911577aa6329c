package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker интерфейс для проверки здоровья сервиса
type HealthChecker interface {
	Check(ctx context.Context) *HealthStatus
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]Status `json:"services,omitempty"`
	Version   string            `json:"version,omitempty"`
}

// Status представляет статус зависимости
type Status struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Probe проверяет одну зависимость
type Probe func(ctx context.Context) error

// Checker опрашивает зарегистрированные зависимости параллельно
type Checker struct {
	version string
	timeout time.Duration
	probes  map[string]Probe
}

// NewChecker создает Checker с таймаутом на каждую проверку
func NewChecker(version string, timeout time.Duration) *Checker {
	return &Checker{version: version, timeout: timeout, probes: map[string]Probe{}}
}

// Register добавляет зависимость
func (c *Checker) Register(name string, probe Probe) *Checker {
	c.probes[name] = probe
	return c
}

// Check опрашивает все зависимости. Одна упавшая делает сервис unhealthy.
func (c *Checker) Check(ctx context.Context) *HealthStatus {
	out := &HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Services:  make(map[string]Status, len(c.probes)),
		Version:   c.version,
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, probe := range c.probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			st := Status{Status: StatusHealthy}
			if err := probe(pctx); err != nil {
				st = Status{Status: StatusUnhealthy, Details: err.Error()}
			}

			mu.Lock()
			out.Services[name] = st
			if st.Status != StatusHealthy {
				out.Status = StatusUnhealthy
			}
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	return out
}

// Handler отдает полный статус; 503, если хотя бы одна зависимость недоступна
func Handler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := checker.Check(r.Context())

		code := http.StatusOK
		if status.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

// ReadyHandler возвращает 200, если сервис готов принимать трафик
func ReadyHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker.Check(r.Context()).Status != StatusHealthy {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// LiveHandler возвращает 200, пока процесс жив
func LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
