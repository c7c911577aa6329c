package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"ErrandDispatchPlatform/pkg/config"
	"ErrandDispatchPlatform/pkg/geo"
	"ErrandDispatchPlatform/pkg/logger"
	"ErrandDispatchPlatform/pkg/validation"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
	"ErrandDispatchPlatform/services/dispatch-service/internal/repository"
)

// maxNearbyRadiusKm верхняя граница радиуса поиска исполнителей
const maxNearbyRadiusKm = 100

// PositionInput отчет клиента о местоположении
type PositionInput struct {
	Lat       float64
	Lng       float64
	Accuracy  *float64
	SetOnline *bool
}

// NearbyInput параметры подсчета; nil означает значение по умолчанию
type NearbyInput struct {
	Lat        float64
	Lng        float64
	RadiusKm   *float64
	StaleAfter *time.Duration
}

// LocationService принимает отчеты исполнителей о местоположении
type LocationService struct {
	locations repository.LocationRepository
	profiles  repository.WorkerProfileRepository
	validator *validation.Validator
	logger    logger.Logger
	now       func() time.Time

	defaultRadiusKm float64
	defaultStale    time.Duration
}

// NewLocationService создает новый экземпляр LocationService
func NewLocationService(
	locations repository.LocationRepository,
	profiles repository.WorkerProfileRepository,
	cfg config.DispatchConfig,
	log logger.Logger,
	opts ...Option,
) *LocationService {
	o := buildOptions(opts)
	return &LocationService{
		locations:       locations,
		profiles:        profiles,
		validator:       validation.NewValidator(),
		logger:          log,
		now:             o.now,
		defaultRadiusKm: cfg.NearbyRadiusKm,
		defaultStale:    cfg.PositionStaleAfter.Std(),
	}
}

// ReportPosition сохраняет позицию по правилу last-write-wins.
// Признак онлайн меняется, только если он передан в отчете.
func (s *LocationService) ReportPosition(ctx context.Context, workerID string, in PositionInput) (*domain.PositionAck, error) {
	if err := s.validator.ValidateCoordinates(in.Lat, in.Lng); err != nil {
		return nil, err
	}
	if in.Accuracy != nil && (math.IsNaN(*in.Accuracy) || *in.Accuracy < 0) {
		return nil, domain.ErrInvalidPosition.WithDetails(fmt.Sprintf("accuracy must be a non-negative number, got: %v", *in.Accuracy))
	}

	profile, err := s.profiles.GetByWorkerID(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if !profile.CanReportPosition() {
		return nil, domain.ErrForbidden.WithDetails(fmt.Sprintf("subscription is %s", profile.SubscriptionStatus))
	}

	prev, cur, err := s.locations.Upsert(ctx, domain.PositionReport{
		WorkerID:  workerID,
		Lat:       in.Lat,
		Lng:       in.Lng,
		Accuracy:  in.Accuracy,
		SetOnline: in.SetOnline,
		Timestamp: s.now(),
	})
	if err != nil {
		return nil, err
	}

	ack := &domain.PositionAck{
		WorkerID:  workerID,
		Timestamp: cur.Timestamp,
		IsOnline:  cur.IsOnline,
	}
	if prev != nil {
		moved := geo.HaversineKm(prev.Lat, prev.Lng, cur.Lat, cur.Lng)
		ack.MovedKm = &moved
		ack.WasOnline = prev.IsOnline
	}

	s.logger.Debug("Position stored",
		logger.CtxField(ctx),
		logger.String("worker_id", workerID),
		logger.Bool("online", cur.IsOnline),
	)
	return ack, nil
}

// SetOffline снимает признак онлайн без передачи позиции
func (s *LocationService) SetOffline(ctx context.Context, workerID string) error {
	if err := s.locations.SetOffline(ctx, workerID); err != nil {
		return err
	}

	s.logger.Info("Worker went offline",
		logger.CtxField(ctx),
		logger.String("worker_id", workerID),
	)
	return nil
}

// GetPosition возвращает последнюю известную позицию исполнителя
func (s *LocationService) GetPosition(ctx context.Context, workerID string) (*domain.WorkerLocation, error) {
	return s.locations.Get(ctx, workerID)
}

// CountNearbyOnline считает исполнителей онлайн в радиусе со свежей позицией
func (s *LocationService) CountNearbyOnline(ctx context.Context, in NearbyInput) (int, error) {
	if err := s.validator.ValidateCoordinates(in.Lat, in.Lng); err != nil {
		return 0, err
	}

	radius := s.defaultRadiusKm
	if in.RadiusKm != nil {
		radius = *in.RadiusKm
	}
	if err := s.validator.ValidatePositive(radius, "radius"); err != nil {
		return 0, err
	}
	if radius > maxNearbyRadiusKm {
		return 0, domain.ErrValidation.WithDetails(fmt.Sprintf("radius must not exceed %d km", maxNearbyRadiusKm))
	}

	stale := s.defaultStale
	if in.StaleAfter != nil {
		stale = *in.StaleAfter
	}
	if stale <= 0 {
		return 0, domain.ErrValidation.WithDetails("stale cutoff must be positive")
	}

	return s.locations.CountOnlineNearby(ctx, domain.NearbyQuery{
		Lat:        in.Lat,
		Lng:        in.Lng,
		RadiusKm:   radius,
		StaleAfter: stale,
		Now:        s.now(),
	})
}
