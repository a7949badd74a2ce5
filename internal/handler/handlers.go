package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"emergency-response/internal/api"
	"emergency-response/internal/engine"
	"emergency-response/internal/model"

	"github.com/sirupsen/logrus"
)

// EngineService is what the local API needs from the coordination engine.
type EngineService interface {
	Snapshot() (engine.Snapshot, bool)
	Refresh(ctx context.Context) (engine.Snapshot, error)
	Claim(ctx context.Context, alertID, notes string) (*model.EmergencyResponse, error)
	UpdateStatus(ctx context.Context, responseID string, target model.ResponseStatus, notes string, opts ...engine.TransitionOption) (*engine.TransitionResult, error)
	SetAvailability(ctx context.Context, status model.ResponderStatus) (model.Responder, error)
	Notifications(ctx context.Context) (model.NotificationList, error)
	MarkNotificationRead(ctx context.Context, id string) error
	Health() engine.HealthStatus
}

type Handler struct {
	logger *logrus.Logger
	engine EngineService
}

func NewHandler(logger *logrus.Logger, eng EngineService) *Handler {
	return &Handler{
		logger: logger,
		engine: eng,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/feed", h.FeedHandler)
	mux.HandleFunc("/api/v1/feed/refresh", h.RefreshHandler)
	mux.HandleFunc("/api/v1/alerts/", h.AlertByIDHandler)
	mux.HandleFunc("/api/v1/responses/", h.ResponseByIDHandler)
	mux.HandleFunc("/api/v1/responder/status", h.ResponderStatusHandler)
	mux.HandleFunc("/api/v1/notifications", h.NotificationsHandler)
	mux.HandleFunc("/api/v1/notifications/", h.NotificationByIDHandler)
	mux.HandleFunc("/api/v1/system/health", h.HealthHandler)
}

func (h *Handler) FeedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, ok := h.engine.Snapshot()
	if !ok {
		// First consumer before the poller's first pass: fetch now.
		var err error
		snap, err = h.engine.Refresh(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, err := h.engine.Refresh(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// AlertByIDHandler serves POST /api/v1/alerts/{id}/claim.
func (h *Handler) AlertByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, action := splitIDAction(r.URL.Path, "/api/v1/alerts/")
	if id == "" || action != "claim" || r.Method != http.MethodPost {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var body struct {
		Notes string `json:"notes"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	resp, err := h.engine.Claim(r.Context(), id, body.Notes)
	if err != nil {
		h.logger.WithError(err).WithField("alert_id", id).Info("claim rejected")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// ResponseByIDHandler serves POST /api/v1/responses/{id}/status.
func (h *Handler) ResponseByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, action := splitIDAction(r.URL.Path, "/api/v1/responses/")
	if id == "" || action != "status" || r.Method != http.MethodPost {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var body struct {
		Status     model.ResponseStatus `json:"status"`
		Notes      string               `json:"notes"`
		ETAMinutes *int                 `json:"eta_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.WithError(err).Info("invalid status update body")
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if !body.Status.Valid() {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}

	var opts []engine.TransitionOption
	if body.ETAMinutes != nil {
		opts = append(opts, engine.WithETA(*body.ETAMinutes))
	}

	result, err := h.engine.UpdateStatus(r.Context(), id, body.Status, body.Notes, opts...)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"response":     result.Response,
		"offer_report": result.OfferReport,
	})
}

func (h *Handler) ResponderStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Status model.ResponderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if !body.Status.Valid() {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown responder status"})
		return
	}

	responder, err := h.engine.SetAvailability(r.Context(), body.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, responder)
}

func (h *Handler) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	list, err := h.engine.Notifications(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

// NotificationByIDHandler serves POST /api/v1/notifications/{id}/read.
func (h *Handler) NotificationByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, action := splitIDAction(r.URL.Path, "/api/v1/notifications/")
	if id == "" || action != "read" || r.Method != http.MethodPost {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if err := h.engine.MarkNotificationRead(r.Context(), id); err != nil {
		// The optimistic flip stays in place; the caller still hears
		// about the failed write.
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Health())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Error("encode response failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *api.Error
	status := http.StatusBadGateway

	switch {
	case errors.As(err, &apiErr):
		// Surface the authority's rejection verbatim.
		if apiErr.StatusCode >= 400 {
			status = apiErr.StatusCode
		}
	case errors.Is(err, engine.ErrIllegalTransition):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrNoResponse), errors.Is(err, engine.ErrAlertNotAvailable):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrNotReady):
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func splitIDAction(path, prefix string) (id, action string) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
