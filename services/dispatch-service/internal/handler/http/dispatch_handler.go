package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"ErrandDispatchPlatform/pkg/errors"
	"ErrandDispatchPlatform/pkg/logger"
	"ErrandDispatchPlatform/pkg/metrics"
	"ErrandDispatchPlatform/pkg/validation"
	"ErrandDispatchPlatform/services/dispatch-service/internal/auth"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
	"ErrandDispatchPlatform/services/dispatch-service/internal/service"
	"ErrandDispatchPlatform/services/dispatch-service/internal/usecase"
)

// maxBodyBytes ограничение размера тела запроса
const maxBodyBytes = 64 << 10

// DispatchHandler обрабатывает HTTP запросы API поручений и местоположения
type DispatchHandler struct {
	uc        *usecase.DispatchUseCase
	validator *validation.Validator
	logger    logger.Logger
}

// NewDispatchHandler создает новый экземпляр DispatchHandler
func NewDispatchHandler(uc *usecase.DispatchUseCase, log logger.Logger) *DispatchHandler {
	return &DispatchHandler{uc: uc, validator: validation.NewValidator(), logger: log}
}

// Register регистрирует маршруты /api/v1 в mux. Все маршруты требуют аутентификации.
func (h *DispatchHandler) Register(mux *http.ServeMux, authn func(http.Handler) http.Handler, m *metrics.Metrics) {
	route := func(method, path string, fn http.HandlerFunc) {
		mux.Handle(method+" "+path, m.Instrument(path, withTraceID(authn(fn))))
	}

	route(http.MethodPost, "/api/v1/tasks", h.CreateTask)
	route(http.MethodGet, "/api/v1/tasks/{id}", h.GetTask)
	route(http.MethodPatch, "/api/v1/tasks/{id}", h.EditTask)
	route(http.MethodDelete, "/api/v1/tasks/{id}", h.DeleteTask)
	route(http.MethodPost, "/api/v1/tasks/{id}/transitions", h.RequestTransition)
	route(http.MethodGet, "/api/v1/tasks/{id}/applications", h.ListApplications)
	route(http.MethodPost, "/api/v1/tasks/{id}/applications", h.ApplyToTask)
	route(http.MethodPost, "/api/v1/tasks/{id}/applications/{appId}/accept", h.AcceptApplication)
	route(http.MethodPost, "/api/v1/tasks/{id}/applications/{appId}/reject", h.RejectApplication)
	route(http.MethodPost, "/api/v1/worker/location", h.ReportPosition)
	route(http.MethodGet, "/api/v1/worker/location", h.GetPosition)
	route(http.MethodPost, "/api/v1/worker/offline", h.SetOffline)
	route(http.MethodGet, "/api/v1/workers/nearby", h.CountNearby)
}

type createTaskRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	BasePrice     int64  `json:"base_price"`
	DistancePrice int64  `json:"distance_price"`
	Tip           int64  `json:"tip"`
}

type transitionRequest struct {
	Status       string  `json:"status"`
	CancelReason *string `json:"cancel_reason"`
}

type applyRequest struct {
	ProposedPrice *int64  `json:"proposed_price"`
	Message       *string `json:"message"`
}

type positionRequest struct {
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Accuracy *float64 `json:"accuracy"`
	IsOnline *bool    `json:"is_online"`
}

type acceptResponse struct {
	Task        *domain.Task        `json:"task"`
	Application *domain.Application `json:"application"`
}

type nearbyResponse struct {
	Count int `json:"count"`
}

// CreateTask POST /api/v1/tasks
func (h *DispatchHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	task, err := h.uc.CreateTask(r.Context(), actor(r), service.CreateTaskInput{
		Title:         req.Title,
		Description:   req.Description,
		BasePrice:     req.BasePrice,
		DistancePrice: req.DistancePrice,
		Tip:           req.Tip,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// GetTask GET /api/v1/tasks/{id}
func (h *DispatchHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.pathID(r, "id", "task_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	task, err := h.uc.GetTask(r.Context(), actor(r), taskID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// EditTask PATCH /api/v1/tasks/{id}. Итоговая цена не принимается от клиента.
func (h *DispatchHandler) EditTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.pathID(r, "id", "task_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var patch domain.ContentPatch
	if err := decodeJSON(w, r, &patch, true); err != nil {
		h.writeError(w, r, err)
		return
	}

	task, err := h.uc.EditTask(r.Context(), actor(r), taskID, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// DeleteTask DELETE /api/v1/tasks/{id}
func (h *DispatchHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.pathID(r, "id", "task_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.uc.DeleteTask(r.Context(), actor(r), taskID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestTransition POST /api/v1/tasks/{id}/transitions
func (h *DispatchHandler) RequestTransition(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.pathID(r, "id", "task_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req transitionRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Status == "" {
		h.writeError(w, r, errors.New(errors.ErrValidation, "status is required"))
		return
	}

	task, err := h.uc.RequestTransition(r.Context(), actor(r), taskID, req.Status, req.CancelReason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListApplications GET /api/v1/tasks/{id}/applications
func (h *DispatchHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.pathID(r, "id", "task_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views, err := h.uc.ListApplications(r.Context(), actor(r), taskID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"applications": views})
}

// ApplyToTask POST /api/v1/tasks/{id}/applications
func (h *DispatchHandler) ApplyToTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.pathID(r, "id", "task_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req applyRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	app, err := h.uc.ApplyToTask(r.Context(), actor(r), taskID, service.ApplyInput{
		ProposedPrice: req.ProposedPrice,
		Message:       req.Message,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// AcceptApplication POST /api/v1/tasks/{id}/applications/{appId}/accept
func (h *DispatchHandler) AcceptApplication(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.pathID(r, "id", "task_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	applicationID, err := h.pathID(r, "appId", "application_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.uc.AcceptApplication(r.Context(), actor(r), taskID, applicationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResponse{Task: res.Task, Application: res.Application})
}

// RejectApplication POST /api/v1/tasks/{id}/applications/{appId}/reject
func (h *DispatchHandler) RejectApplication(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.pathID(r, "id", "task_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	applicationID, err := h.pathID(r, "appId", "application_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	app, err := h.uc.RejectApplication(r.Context(), actor(r), taskID, applicationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// ReportPosition POST /api/v1/worker/location
func (h *DispatchHandler) ReportPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Lat == nil || req.Lng == nil {
		h.writeError(w, r, domain.ErrInvalidPosition.WithDetails("lat and lng are required"))
		return
	}

	ack, err := h.uc.ReportWorkerPosition(r.Context(), actor(r), service.PositionInput{
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		Accuracy:  req.Accuracy,
		SetOnline: req.IsOnline,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// GetPosition GET /api/v1/worker/location
func (h *DispatchHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	loc, err := h.uc.GetWorkerPosition(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// SetOffline POST /api/v1/worker/offline
func (h *DispatchHandler) SetOffline(w http.ResponseWriter, r *http.Request) {
	if err := h.uc.SetWorkerOffline(r.Context(), actor(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CountNearby GET /api/v1/workers/nearby?lat=&lng=&radius=&stale=
func (h *DispatchHandler) CountNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		h.writeError(w, r, domain.ErrInvalidPosition.WithDetails("lat must be a number"))
		return
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		h.writeError(w, r, domain.ErrInvalidPosition.WithDetails("lng must be a number"))
		return
	}

	in := service.NearbyInput{Lat: lat, Lng: lng}
	if raw := q.Get("radius"); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			h.writeError(w, r, errors.New(errors.ErrValidation, "radius must be a number"))
			return
		}
		in.RadiusKm = &radius
	}
	if raw := q.Get("stale"); raw != "" {
		stale, err := time.ParseDuration(raw)
		if err != nil {
			h.writeError(w, r, errors.New(errors.ErrValidation, fmt.Sprintf("stale must be a duration like 10m, got: %s", raw)))
			return
		}
		in.StaleAfter = &stale
	}

	count, err := h.uc.CountNearbyWorkers(r.Context(), actor(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nearbyResponse{Count: count})
}

// pathID читает идентификатор из пути; идентификаторы выдаются в формате UUID
func (h *DispatchHandler) pathID(r *http.Request, name, field string) (string, error) {
	id := r.PathValue(name)
	if err := h.validator.ValidateUUID(id, field); err != nil {
		return "", err
	}
	return id, nil
}

func (h *DispatchHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	fields := []logger.Field{
		logger.CtxField(r.Context()),
		logger.String("method", r.Method),
		logger.String("path", r.URL.Path),
		logger.Error(err),
	}
	if errors.CodeOf(err) == errors.ErrInternal {
		h.logger.Error("Request failed", fields...)
	} else {
		h.logger.Debug("Request rejected", fields...)
	}
	errors.WriteHTTP(w, err)
}

func actor(r *http.Request) string {
	actorID, _ := auth.ActorFromContext(r.Context())
	return actorID
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, strict bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(err, errors.ErrValidation, "invalid request body").WithDetails(err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withTraceID кладет trace_id текущего спана в контекст логгера
func withTraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ctx = logger.ContextWithTraceID(ctx, sc.TraceID().String())
		} else if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx = logger.ContextWithTraceID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
