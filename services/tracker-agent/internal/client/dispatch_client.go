package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ErrandDispatchPlatform/pkg/errors"
)

const userAgent = "ErrandTracker/1.0"

// PositionReport тело отчета о местоположении
type PositionReport struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	IsOnline *bool    `json:"is_online,omitempty"`
}

// Ack подтверждение сервера
type Ack struct {
	WorkerID  string    `json:"worker_id"`
	Timestamp time.Time `json:"timestamp"`
	IsOnline  bool      `json:"is_online"`
	MovedKm   *float64  `json:"moved_km,omitempty"`
}

// DispatchClient клиент API местоположения исполнителя.
// Каждый вызов ограничен таймаутом http.Client и не повторяется.
type DispatchClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewDispatchClient создает клиента. timeout ограничивает один вызов целиком.
func NewDispatchClient(baseURL, token string, timeout time.Duration) *DispatchClient {
	return &DispatchClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ReportPosition отправляет POST /api/v1/worker/location
func (c *DispatchClient) ReportPosition(ctx context.Context, report PositionReport) (*Ack, error) {
	var ack Ack
	if err := c.do(ctx, http.MethodPost, "/api/v1/worker/location", report, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// SetOffline отправляет POST /api/v1/worker/offline
func (c *DispatchClient) SetOffline(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/worker/offline", nil, nil)
}

func (c *DispatchClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError восстанавливает *errors.Error из тела {"error":{...}}
func decodeError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    errors.ErrorCode `json:"code"`
			Message string           `json:"message"`
			Details string           `json:"details"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Code == "" {
		return errors.New(errors.ErrInternal, fmt.Sprintf("server returned status %d", resp.StatusCode))
	}
	return errors.New(body.Error.Code, body.Error.Message).WithDetails(body.Error.Details)
}

// IsPermanent сообщает, что повтор запроса на следующем тике не поможет
func IsPermanent(err error) bool {
	e, ok := errors.As(err)
	if !ok {
		return false
	}
	switch e.Code {
	case errors.ErrUnauthorized, errors.ErrForbidden:
		return true
	default:
		return false
	}
}
