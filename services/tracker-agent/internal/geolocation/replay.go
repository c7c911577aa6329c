package geolocation

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// Track маршрут для воспроизведения
type Track struct {
	// Interval пауза между точками при непрерывном отслеживании
	Interval string `yaml:"interval"`
	Points   []Fix  `yaml:"points"`
}

// ReplayProvider воспроизводит заранее записанный маршрут.
// CurrentPosition возвращает текущую точку, Watch продвигается по маршруту
// с заданным интервалом и останавливается на последней точке.
type ReplayProvider struct {
	mu       sync.Mutex
	points   []Fix
	cursor   int
	interval time.Duration
	now      func() time.Time
}

// NewReplayProvider создает провайдер из набора точек
func NewReplayProvider(points []Fix, interval time.Duration) (*ReplayProvider, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("track has no points")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("replay interval must be positive")
	}
	return &ReplayProvider{points: points, interval: interval, now: time.Now}, nil
}

// LoadTrack читает маршрут из YAML файла
func LoadTrack(path string) (*ReplayProvider, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read track: %w", err)
	}

	var track Track
	if err := yaml.Unmarshal(content, &track); err != nil {
		return nil, fmt.Errorf("failed to parse track: %w", err)
	}

	interval := 30 * time.Second
	if track.Interval != "" {
		interval, err = time.ParseDuration(track.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid track interval %q: %w", track.Interval, err)
		}
	}
	return NewReplayProvider(track.Points, interval)
}

func (p *ReplayProvider) CurrentPosition(ctx context.Context, _ Options) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, Classify(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current(), nil
}

func (p *ReplayProvider) Watch(ctx context.Context, _ Options) (Watch, error) {
	w := newChannelWatch(ctx)
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
			}

			fix, moved := p.advance()
			if !moved {
				continue
			}
			if !w.send(Update{Fix: fix}) {
				return
			}
		}
	}()
	return w, nil
}

func (p *ReplayProvider) advance() (Fix, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor >= len(p.points)-1 {
		return Fix{}, false
	}
	p.cursor++
	return p.current(), true
}

func (p *ReplayProvider) current() Fix {
	fix := p.points[p.cursor]
	fix.Timestamp = p.now()
	return fix
}
