package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ErrandDispatchPlatform/pkg/errors"
)

func TestDispatchClient_ReportPosition(t *testing.T) {
	var got PositionReport
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/worker/location", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"worker_id":"w-1","timestamp":"2026-01-01T00:00:00Z","is_online":true}`)
	}))
	defer srv.Close()

	online := true
	c := NewDispatchClient(srv.URL+"/", "token-1", time.Second)
	ack, err := c.ReportPosition(context.Background(), PositionReport{Lat: 55.75, Lng: 37.61, IsOnline: &online})
	require.NoError(t, err)

	assert.Equal(t, "w-1", ack.WorkerID)
	assert.True(t, ack.IsOnline)
	require.NotNil(t, got.IsOnline)
	assert.True(t, *got.IsOnline)
	assert.Nil(t, got.Accuracy)
}

func TestDispatchClient_SetOffline(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/v1/worker/offline", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDispatchClient(srv.URL, "t", time.Second).SetOffline(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestDispatchClient_DecodesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":"INVALID_POSITION","message":"Некорректные координаты","details":"lat out of range"}}`)
	}))
	defer srv.Close()

	_, err := NewDispatchClient(srv.URL, "t", time.Second).ReportPosition(context.Background(), PositionReport{Lat: 95})
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidPosition, errors.CodeOf(err))
	assert.False(t, IsPermanent(err))

	assert.True(t, IsPermanent(errors.New(errors.ErrUnauthorized, "no token")))
}

func TestDispatchClient_UnstructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewDispatchClient(srv.URL, "t", time.Second).SetOffline(context.Background())
	assert.Equal(t, errors.ErrInternal, errors.CodeOf(err))
}

func TestDispatchClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewDispatchClient(srv.URL, "t", 50*time.Millisecond).SetOffline(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
