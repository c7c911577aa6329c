package memory

import (
	"context"
	"fmt"
	"sync"

	"ErrandDispatchPlatform/pkg/geo"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
	"ErrandDispatchPlatform/services/dispatch-service/internal/repository"
)

// LocationStore хранит последние позиции исполнителей в памяти
type LocationStore struct {
	mu        sync.Mutex
	locations map[string]*domain.WorkerLocation
}

var _ repository.LocationRepository = (*LocationStore)(nil)

func NewLocationStore() *LocationStore {
	return &LocationStore{locations: make(map[string]*domain.WorkerLocation)}
}

func (s *LocationStore) Upsert(_ context.Context, report domain.PositionReport) (*domain.WorkerLocation, *domain.WorkerLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *domain.WorkerLocation
	online := false
	if existing, ok := s.locations[report.WorkerID]; ok {
		cp := *existing
		prev = &cp
		online = existing.IsOnline
	}
	if report.SetOnline != nil {
		online = *report.SetOnline
	}

	cur := &domain.WorkerLocation{
		WorkerID:  report.WorkerID,
		Lat:       report.Lat,
		Lng:       report.Lng,
		Accuracy:  report.Accuracy,
		Timestamp: report.Timestamp,
		IsOnline:  online,
	}
	s.locations[report.WorkerID] = cur

	out := *cur
	return prev, &out, nil
}

func (s *LocationStore) SetOffline(_ context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loc, ok := s.locations[workerID]; ok {
		loc.IsOnline = false
	}
	return nil
}

func (s *LocationStore) Get(_ context.Context, workerID string) (*domain.WorkerLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.locations[workerID]
	if !ok {
		return nil, domain.ErrLocationNotFound.WithDetails(fmt.Sprintf("worker_id: %s", workerID))
	}
	cp := *loc
	return &cp, nil
}

func (s *LocationStore) CountOnlineNearby(_ context.Context, q domain.NearbyQuery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := q.Now.Add(-q.StaleAfter)
	count := 0
	for _, loc := range s.locations {
		if !loc.IsOnline || loc.Timestamp.Before(cutoff) {
			continue
		}
		if geo.HaversineKm(q.Lat, q.Lng, loc.Lat, loc.Lng) <= q.RadiusKm {
			count++
		}
	}
	return count, nil
}
