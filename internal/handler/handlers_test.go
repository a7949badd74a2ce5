package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"emergency-response/internal/api"
	"emergency-response/internal/engine"
	"emergency-response/internal/model"

	"github.com/sirupsen/logrus"
)

type fakeEngine struct {
	snapshot    engine.Snapshot
	hasSnapshot bool
	refreshErr  error

	claimedAlert string
	claimedNotes string
	claimResp    *model.EmergencyResponse
	claimErr     error

	updatedResponse string
	updatedTarget   model.ResponseStatus
	updateResult    *engine.TransitionResult
	updateErr       error

	availability model.ResponderStatus
	markedRead   []string
	markReadErr  error
}

func (f *fakeEngine) Snapshot() (engine.Snapshot, bool) {
	return f.snapshot, f.hasSnapshot
}

func (f *fakeEngine) Refresh(ctx context.Context) (engine.Snapshot, error) {
	return f.snapshot, f.refreshErr
}

func (f *fakeEngine) Claim(ctx context.Context, alertID, notes string) (*model.EmergencyResponse, error) {
	f.claimedAlert = alertID
	f.claimedNotes = notes
	return f.claimResp, f.claimErr
}

func (f *fakeEngine) UpdateStatus(ctx context.Context, responseID string, target model.ResponseStatus, notes string, opts ...engine.TransitionOption) (*engine.TransitionResult, error) {
	f.updatedResponse = responseID
	f.updatedTarget = target
	return f.updateResult, f.updateErr
}

func (f *fakeEngine) SetAvailability(ctx context.Context, status model.ResponderStatus) (model.Responder, error) {
	f.availability = status
	return model.Responder{ID: "resp-1", Status: status}, nil
}

func (f *fakeEngine) Notifications(ctx context.Context) (model.NotificationList, error) {
	return model.NotificationList{UnreadCount: 1, Data: []model.Notification{{ID: "n1"}}}, nil
}

func (f *fakeEngine) MarkNotificationRead(ctx context.Context, id string) error {
	f.markedRead = append(f.markedRead, id)
	return f.markReadErr
}

func (f *fakeEngine) Health() engine.HealthStatus {
	return engine.HealthStatus{Status: "ok", SessionReady: true}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestHealthHandler_OK(t *testing.T) {
	h := NewHandler(testLogger(), &fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/system/health", nil)
	w := httptest.NewRecorder()

	h.HealthHandler(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, res.StatusCode)
	}

	var body struct {
		Status       string `json:"status"`
		SessionReady bool   `json:"session_ready"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Status != "ok" || !body.SessionReady {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestFeedHandler_ReturnsSnapshot(t *testing.T) {
	svc := &fakeEngine{
		hasSnapshot: true,
		snapshot: engine.Snapshot{
			Available:   []model.EmergencyAlert{{ID: "alert-1"}},
			RefreshedAt: time.Now(),
		},
	}
	h := NewHandler(testLogger(), svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
	w := httptest.NewRecorder()

	h.FeedHandler(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, res.StatusCode)
	}

	var snap engine.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(snap.Available) != 1 || snap.Available[0].ID != "alert-1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestClaimHandler_Created(t *testing.T) {
	svc := &fakeEngine{
		claimResp: &model.EmergencyResponse{ID: "resp-9", AlertID: "alert-1", Status: model.StatusAccepted},
	}
	h := NewHandler(testLogger(), svc)

	body := `{"notes":"two minutes away"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/alert-1/claim", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.AlertByIDHandler(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, res.StatusCode)
	}
	if svc.claimedAlert != "alert-1" || svc.claimedNotes != "two minutes away" {
		t.Fatalf("claim not passed correctly: %q %q", svc.claimedAlert, svc.claimedNotes)
	}
}

func TestClaimHandler_ConflictSurfacesRemoteMessage(t *testing.T) {
	svc := &fakeEngine{
		claimErr: &api.Error{StatusCode: 409, Message: "alert already claimed by another responder"},
	}
	h := NewHandler(testLogger(), svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/alert-1/claim", nil)
	w := httptest.NewRecorder()

	h.AlertByIDHandler(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, res.StatusCode)
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error != "alert already claimed by another responder" {
		t.Fatalf("error not verbatim: %q", body.Error)
	}
}

func TestResponseStatusHandler_IllegalTransition(t *testing.T) {
	svc := &fakeEngine{updateErr: engine.ErrIllegalTransition}
	h := NewHandler(testLogger(), svc)

	body := `{"status":"on_scene"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/responses/resp-1/status", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.ResponseByIDHandler(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, res.StatusCode)
	}
}

func TestResponseStatusHandler_UnknownStatus(t *testing.T) {
	h := NewHandler(testLogger(), &fakeEngine{})

	body := `{"status":"teleported"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/responses/resp-1/status", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.ResponseByIDHandler(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, res.StatusCode)
	}
}

func TestResponseStatusHandler_OfferReport(t *testing.T) {
	svc := &fakeEngine{
		updateResult: &engine.TransitionResult{
			Response:    &model.EmergencyResponse{ID: "resp-1", Status: model.StatusCompleted},
			OfferReport: true,
		},
	}
	h := NewHandler(testLogger(), svc)

	body := `{"status":"completed"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/responses/resp-1/status", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.ResponseByIDHandler(w, req)

	res := w.Result()
	defer res.Body.Close()

	var out struct {
		OfferReport bool `json:"offer_report"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !out.OfferReport {
		t.Fatal("completed status should offer the report flow")
	}
}

func TestMarkReadHandler_NoContent(t *testing.T) {
	svc := &fakeEngine{}
	h := NewHandler(testLogger(), svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/n1/read", nil)
	w := httptest.NewRecorder()

	h.NotificationByIDHandler(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, res.StatusCode)
	}
	if len(svc.markedRead) != 1 || svc.markedRead[0] != "n1" {
		t.Fatalf("markRead calls = %v", svc.markedRead)
	}
}

func TestResponderStatusHandler(t *testing.T) {
	svc := &fakeEngine{}
	h := NewHandler(testLogger(), svc)

	body := `{"status":"offline"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/responder/status", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.ResponderStatusHandler(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, res.StatusCode)
	}
	if svc.availability != model.ResponderOffline {
		t.Fatalf("availability = %s", svc.availability)
	}
}
