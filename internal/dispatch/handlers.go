package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"emergency-response/internal/model"
	"emergency-response/internal/repository"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// DispatchService is the handler's view of the authority logic.
type DispatchService interface {
	Profile(ctx context.Context, responderID string) (*model.Responder, error)
	Assignments(ctx context.Context, responderID string) ([]model.EmergencyResponse, error)
	ActiveAlerts(ctx context.Context) ([]model.EmergencyAlert, error)
	Assign(ctx context.Context, alertID, responderID, notes string) (*model.EmergencyResponse, error)
	UpdateResponseStatus(ctx context.Context, responseID string, status model.ResponseStatus, notes string, etaMinutes int) (*model.EmergencyResponse, error)
	UpdateResponderStatus(ctx context.Context, responderID string, status model.ResponderStatus, pos *model.Position) error
	Notifications(ctx context.Context, responderID string) (model.NotificationList, error)
	MarkNotificationRead(ctx context.Context, responderID, id string) error
	CreateAlert(ctx context.Context, alert *model.EmergencyAlert) (*model.EmergencyAlert, error)
	Health(ctx context.Context) *repository.HealthError
}

type Handler struct {
	logger  *logrus.Logger
	service DispatchService
}

func NewHandler(logger *logrus.Logger, service DispatchService) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
	}
}

func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/profile", h.ProfileHandler).Methods("GET")
	api.HandleFunc("/assignments", h.AssignmentsHandler).Methods("GET")
	api.HandleFunc("/assignments", h.AssignHandler).Methods("POST")
	api.HandleFunc("/alerts/active", h.ActiveAlertsHandler).Methods("GET")
	api.HandleFunc("/alerts", h.CreateAlertHandler).Methods("POST")
	api.HandleFunc("/responses/{id}/status", h.UpdateResponseStatusHandler).Methods("POST")
	api.HandleFunc("/responder/status", h.UpdateResponderStatusHandler).Methods("PATCH")
	api.HandleFunc("/notifications", h.NotificationsHandler).Methods("GET")
	api.HandleFunc("/notifications/{id}/read", h.MarkReadHandler).Methods("POST")
	api.HandleFunc("/system/health", h.HealthHandler).Methods("GET")
	return r
}

func (h *Handler) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	responderID, ok := h.responderID(w, r)
	if !ok {
		return
	}

	responder, err := h.service.Profile(r.Context(), responderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, responder)
}

func (h *Handler) AssignmentsHandler(w http.ResponseWriter, r *http.Request) {
	responderID, ok := h.responderID(w, r)
	if !ok {
		return
	}

	assignments, err := h.service.Assignments(r.Context(), responderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if assignments == nil {
		assignments = []model.EmergencyResponse{}
	}
	h.writeJSON(w, http.StatusOK, assignments)
}

func (h *Handler) ActiveAlertsHandler(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.service.ActiveAlerts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []model.EmergencyAlert{}
	}
	h.writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) AssignHandler(w http.ResponseWriter, r *http.Request) {
	responderID, ok := h.responderID(w, r)
	if !ok {
		return
	}

	var body struct {
		AlertID string `json:"alert_id"`
		Notes   string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.WithError(err).Info("invalid assign body")
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if body.AlertID == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "alert_id is required"})
		return
	}

	resp, err := h.service.Assign(r.Context(), body.AlertID, responderID, body.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) UpdateResponseStatusHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.responderID(w, r); !ok {
		return
	}
	id := mux.Vars(r)["id"]

	var body struct {
		Status     model.ResponseStatus `json:"status"`
		Notes      string               `json:"notes"`
		ETAMinutes int                  `json:"eta_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if !body.Status.Valid() {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}

	resp, err := h.service.UpdateResponseStatus(r.Context(), id, body.Status, body.Notes, body.ETAMinutes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) UpdateResponderStatusHandler(w http.ResponseWriter, r *http.Request) {
	responderID, ok := h.responderID(w, r)
	if !ok {
		return
	}

	var body struct {
		Status    model.ResponderStatus `json:"status"`
		Latitude  *float64              `json:"latitude"`
		Longitude *float64              `json:"longitude"`
		Location  string                `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if !body.Status.Valid() {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown responder status"})
		return
	}

	var pos *model.Position
	if body.Latitude != nil && body.Longitude != nil {
		pos = &model.Position{
			Latitude:  *body.Latitude,
			Longitude: *body.Longitude,
			Address:   body.Location,
		}
	}

	if err := h.service.UpdateResponderStatus(r.Context(), responderID, body.Status, pos); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	responderID, ok := h.responderID(w, r)
	if !ok {
		return
	}

	list, err := h.service.Notifications(r.Context(), responderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list.Data == nil {
		list.Data = []model.Notification{}
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	responderID, ok := h.responderID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	if err := h.service.MarkNotificationRead(r.Context(), responderID, id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateAlertHandler(w http.ResponseWriter, r *http.Request) {
	var alert model.EmergencyAlert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		h.logger.WithError(err).Info("invalid alert body")
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	created, err := h.service.CreateAlert(r.Context(), &alert)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status": "ok",
		"db":     "ok",
		"redis":  "ok",
	}
	if he := h.service.Health(r.Context()); he != nil {
		body["status"] = "degraded"
		if he.DBError != nil {
			body["db"] = "error"
		}
		if he.RedisError != nil {
			body["redis"] = "error"
		}
	}
	h.writeJSON(w, http.StatusOK, body)
}

func (h *Handler) responderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("X-Responder-ID")
	if id == "" {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing X-Responder-ID header"})
		return "", false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Error("encode response failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrAlreadyClaimed), errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrAlertNotActive):
		status = http.StatusConflict
	case errors.Is(err, ErrAlertNotFound), errors.Is(err, ErrResponseNotFound), errors.Is(err, ErrResponderNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("request failed")
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
