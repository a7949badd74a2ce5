package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"emergency-response/internal/model"

	"github.com/sirupsen/logrus"
)

// Error is a rejection from the dispatch authority. Message carries the
// server's own wording so the UI can surface it verbatim.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("dispatch returned status %d", e.StatusCode)
}

// Client is the boundary to the remote dispatch authority. The authority is
// the sole arbiter of claims; the engine only presents its answers.
type Client interface {
	Profile(ctx context.Context) (*model.Responder, error)
	Assignments(ctx context.Context) ([]model.EmergencyResponse, error)
	ActiveAlerts(ctx context.Context) ([]model.EmergencyAlert, error)
	AssignResponder(ctx context.Context, alertID, notes string) (string, error)
	UpdateResponseStatus(ctx context.Context, responseID string, status model.ResponseStatus, notes string, etaMinutes int) error
	UpdateResponderStatus(ctx context.Context, status model.ResponderStatus, pos *model.Position) error
	Notifications(ctx context.Context) (model.NotificationList, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

type HTTPClient struct {
	baseURL     string
	responderID string
	client      *http.Client
	logger      *logrus.Logger
}

func NewHTTPClient(baseURL, responderID string, logger *logrus.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:     baseURL,
		responderID: responderID,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

func (c *HTTPClient) Profile(ctx context.Context) (*model.Responder, error) {
	var rsp model.Responder
	if err := c.do(ctx, http.MethodGet, "/api/v1/profile", nil, &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

func (c *HTTPClient) Assignments(ctx context.Context) ([]model.EmergencyResponse, error) {
	var out []model.EmergencyResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/assignments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ActiveAlerts(ctx context.Context) ([]model.EmergencyAlert, error) {
	var out []model.EmergencyAlert
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts/active", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) AssignResponder(ctx context.Context, alertID, notes string) (string, error) {
	body := map[string]string{
		"alert_id": alertID,
		"notes":    notes,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/assignments", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) UpdateResponseStatus(ctx context.Context, responseID string, status model.ResponseStatus, notes string, etaMinutes int) error {
	body := map[string]interface{}{
		"status":      status,
		"notes":       notes,
		"eta_minutes": etaMinutes,
	}
	return c.do(ctx, http.MethodPost, "/api/v1/responses/"+responseID+"/status", body, nil)
}

func (c *HTTPClient) UpdateResponderStatus(ctx context.Context, status model.ResponderStatus, pos *model.Position) error {
	body := map[string]interface{}{
		"status": status,
	}
	if pos != nil {
		body["latitude"] = pos.Latitude
		body["longitude"] = pos.Longitude
		body["location"] = pos.Address
	}
	return c.do(ctx, http.MethodPatch, "/api/v1/responder/status", body, nil)
}

func (c *HTTPClient) Notifications(ctx context.Context) (model.NotificationList, error) {
	var out model.NotificationList
	if err := c.do(ctx, http.MethodGet, "/api/v1/notifications", nil, &out); err != nil {
		return model.NotificationList{}, err
	}
	return out, nil
}

func (c *HTTPClient) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/notifications/"+id+"/read", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Responder-ID", c.responderID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.remoteError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode dispatch response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) remoteError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiErr
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}
