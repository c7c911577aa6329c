package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ErrandDispatchPlatform/pkg/config"
	"ErrandDispatchPlatform/pkg/errors"
	"ErrandDispatchPlatform/pkg/logger"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
	"ErrandDispatchPlatform/services/dispatch-service/internal/repository/memory"
)

func setupLocationService(t *testing.T, now *time.Time) *LocationService {
	t.Helper()
	profiles := memory.NewStore()
	profiles.PutProfile(domain.WorkerProfile{WorkerID: "active", SubscriptionStatus: domain.SubscriptionActive})
	profiles.PutProfile(domain.WorkerProfile{WorkerID: "trial", SubscriptionStatus: domain.SubscriptionTrial})
	profiles.PutProfile(domain.WorkerProfile{WorkerID: "expired", SubscriptionStatus: domain.SubscriptionExpired})

	return NewLocationService(memory.NewLocationStore(), profiles, config.Default().Dispatch, logger.NewNop(),
		WithClock(func() time.Time { return *now }))
}

func boolPtr(v bool) *bool { return &v }

func TestLocationService_ReportPosition(t *testing.T) {
	now := testNow
	svc := setupLocationService(t, &now)
	ctx := context.Background()

	ack, err := svc.ReportPosition(ctx, "active", PositionInput{Lat: 37.5665, Lng: 126.9780, SetOnline: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, ack.IsOnline)
	assert.Nil(t, ack.MovedKm)

	now = now.Add(time.Minute)
	ack, err = svc.ReportPosition(ctx, "active", PositionInput{Lat: 37.5670, Lng: 126.9780})
	require.NoError(t, err)
	assert.True(t, ack.IsOnline)
	assert.True(t, ack.WasOnline)
	require.NotNil(t, ack.MovedKm)
	assert.InDelta(t, 0.0556, *ack.MovedKm, 0.001)

	loc, err := svc.GetPosition(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, now, loc.Timestamp)

	require.NoError(t, svc.SetOffline(ctx, "active"))
	loc, err = svc.GetPosition(ctx, "active")
	require.NoError(t, err)
	assert.False(t, loc.IsOnline)
	assert.InDelta(t, 37.5670, loc.Lat, 1e-9)
}

func TestLocationService_ReportPositionErrors(t *testing.T) {
	now := testNow
	svc := setupLocationService(t, &now)
	ctx := context.Background()

	tests := []struct {
		name     string
		workerID string
		in       PositionInput
		code     errors.ErrorCode
	}{
		{"latitude out of range", "active", PositionInput{Lat: 91, Lng: 0}, errors.ErrInvalidPosition},
		{"longitude out of range", "active", PositionInput{Lat: 0, Lng: -181}, errors.ErrInvalidPosition},
		{"nan", "active", PositionInput{Lat: math.NaN(), Lng: 0}, errors.ErrInvalidPosition},
		{"negative accuracy", "active", PositionInput{Lat: 0, Lng: 0, Accuracy: func() *float64 { v := -1.0; return &v }()}, errors.ErrInvalidPosition},
		{"unknown worker", "ghost", PositionInput{Lat: 0, Lng: 0}, errors.ErrNotFound},
		{"expired subscription", "expired", PositionInput{Lat: 0, Lng: 0}, errors.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ReportPosition(ctx, tt.workerID, tt.in)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}

	_, err := svc.ReportPosition(ctx, "trial", PositionInput{Lat: 90, Lng: 180})
	assert.NoError(t, err)
}

func TestLocationService_CountNearbyOnline(t *testing.T) {
	now := testNow
	svc := setupLocationService(t, &now)
	ctx := context.Background()

	_, err := svc.ReportPosition(ctx, "active", PositionInput{Lat: 37.5665, Lng: 126.9780, SetOnline: boolPtr(true)})
	require.NoError(t, err)
	_, err = svc.ReportPosition(ctx, "trial", PositionInput{Lat: 37.7, Lng: 126.9780, SetOnline: boolPtr(true)})
	require.NoError(t, err)

	n, err := svc.CountNearbyOnline(ctx, NearbyInput{Lat: 37.5665, Lng: 126.9780})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	radius := 20.0
	n, err = svc.CountNearbyOnline(ctx, NearbyInput{Lat: 37.5665, Lng: 126.9780, RadiusKm: &radius})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// устаревшая позиция не считается, но признак онлайн сохраняется
	now = now.Add(11 * time.Minute)
	n, err = svc.CountNearbyOnline(ctx, NearbyInput{Lat: 37.5665, Lng: 126.9780, RadiusKm: &radius})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	loc, err := svc.GetPosition(ctx, "active")
	require.NoError(t, err)
	assert.True(t, loc.IsOnline)

	bad := 0.0
	_, err = svc.CountNearbyOnline(ctx, NearbyInput{Lat: 0, Lng: 0, RadiusKm: &bad})
	assert.Equal(t, errors.ErrValidation, errors.CodeOf(err))
}
