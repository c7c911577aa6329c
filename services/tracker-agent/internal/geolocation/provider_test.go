package geolocation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, CauseTimeout, Classify(context.DeadlineExceeded).Cause)
	assert.Equal(t, CausePositionUnavailable, Classify(errors.New("no satellites")).Cause)

	denied := NewFixError(CausePermissionDenied, errors.New("user said no"))
	assert.Same(t, denied, Classify(denied))
	assert.ErrorIs(t, denied, ErrPermissionDenied)
	assert.NotErrorIs(t, denied, ErrTimeout)
}

func TestFixError_UserMessagesAreDistinct(t *testing.T) {
	seen := map[string]Cause{}
	for _, cause := range []Cause{CausePermissionDenied, CausePositionUnavailable, CauseTimeout, CauseUnsupported} {
		msg := NewFixError(cause, nil).UserMessage()
		require.NotEmpty(t, msg)
		_, dup := seen[msg]
		assert.False(t, dup, "message for %s duplicates %s", cause, seen[msg])
		seen[msg] = cause
	}

	assert.True(t, ErrPermissionDenied.Fatal())
	assert.True(t, ErrUnsupported.Fatal())
	assert.False(t, ErrTimeout.Fatal())
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(55.75, 37.61, nil)

	fix, err := p.CurrentPosition(context.Background(), Options{HighAccuracy: true})
	require.NoError(t, err)
	assert.Equal(t, 55.75, fix.Lat)
	assert.False(t, fix.Timestamp.IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.CurrentPosition(ctx, Options{})
	assert.Error(t, err)
}

func TestReplayProvider_Watch(t *testing.T) {
	p, err := NewReplayProvider([]Fix{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}, {Lat: 3, Lng: 3}}, 5*time.Millisecond)
	require.NoError(t, err)

	w, err := p.Watch(context.Background(), Options{})
	require.NoError(t, err)
	defer w.Close()

	for _, want := range []float64{2, 3} {
		select {
		case u := <-w.Updates():
			require.NoError(t, u.Err)
			assert.Equal(t, want, u.Fix.Lat)
		case <-time.After(time.Second):
			t.Fatal("no update from replay watch")
		}
	}

	fix, err := p.CurrentPosition(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3.0, fix.Lat)
}

func TestLoadTrack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
interval: 1s
points:
  - {lat: 55.75, lng: 37.61, accuracy: 12}
  - {lat: 55.76, lng: 37.62}
`), 0o644))

	p, err := LoadTrack(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, p.interval)
	require.Len(t, p.points, 2)
	require.NotNil(t, p.points[0].Accuracy)
	assert.Equal(t, 12.0, *p.points[0].Accuracy)

	_, err = NewReplayProvider(nil, time.Second)
	assert.Error(t, err)
}
