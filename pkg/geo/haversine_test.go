package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		want                   float64
		delta                  float64
	}{
		{"same point", 37.5665, 126.978, 37.5665, 126.978, 0, 1e-9},
		{"seoul to busan", 37.5665, 126.9780, 35.1796, 129.0756, 325, 2},
		{"one degree of latitude", 0, 0, 1, 0, 111.19, 0.01},
		{"antipodes", 0, 0, 0, 180, 20015.09, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, HaversineKm(tt.lat1, tt.lng1, tt.lat2, tt.lng2), tt.delta)
		})
	}
}

func TestHaversineKm_Symmetric(t *testing.T) {
	a := HaversineKm(37.5, 127.0, 37.51, 127.02)
	b := HaversineKm(37.51, 127.02, 37.5, 127.0)
	assert.InDelta(t, a, b, 1e-12)
}

// TestHaversineKm_MovementThreshold проверяет порядок величин около порога 50 м
func TestHaversineKm_MovementThreshold(t *testing.T) {
	// ~0.00045 градуса широты это около 50 м
	assert.Less(t, HaversineKm(37.5, 127.0, 37.5004, 127.0), 0.05)
	assert.Greater(t, HaversineKm(37.5, 127.0, 37.5005, 127.0), 0.05)
}
