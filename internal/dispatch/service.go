package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"emergency-response/internal/model"
	"emergency-response/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrAlertNotFound     = errors.New("alert not found")
	ErrAlertNotActive    = errors.New("alert is no longer active")
	ErrResponseNotFound  = errors.New("response not found")
	ErrResponderNotFound = errors.New("responder not found")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Service is the authority side of the coordination contract: it arbitrates
// claims and owns response lifecycles, responder statuses and notification
// unread counts.
type Service struct {
	storage *repository.Storage
	logger  *logrus.Logger
}

func NewService(storage *repository.Storage, logger *logrus.Logger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
	}
}

func (s *Service) Profile(ctx context.Context, responderID string) (*model.Responder, error) {
	responder, err := s.storage.GetResponder(ctx, responderID)
	if err != nil {
		return nil, err
	}
	if responder == nil {
		return nil, ErrResponderNotFound
	}
	return responder, nil
}

func (s *Service) Assignments(ctx context.Context, responderID string) ([]model.EmergencyResponse, error) {
	return s.storage.ListAssignments(ctx, responderID)
}

func (s *Service) ActiveAlerts(ctx context.Context) ([]model.EmergencyAlert, error) {
	return s.storage.ListActiveAlerts(ctx)
}

// Assign binds an alert to a responder. Arbitration is first-writer-wins:
// the losing claim comes back as repository.ErrAlreadyClaimed.
func (s *Service) Assign(ctx context.Context, alertID, responderID, notes string) (*model.EmergencyResponse, error) {
	alert, err := s.storage.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, ErrAlertNotFound
	}
	if alert.Status != model.AlertActive {
		return nil, ErrAlertNotActive
	}
	if _, err := s.Profile(ctx, responderID); err != nil {
		return nil, err
	}

	resp, err := s.storage.CreateResponse(ctx, uuid.NewString(), alertID, responderID, notes)
	if err != nil {
		return nil, err
	}

	notification := &model.Notification{
		ID:      uuid.NewString(),
		Title:   "New assignment",
		Message: fmt.Sprintf("You have been assigned to a %s emergency", alert.Type),
		Type:    "assignment",
	}
	if err := s.storage.CreateNotification(ctx, notification, responderID); err != nil {
		s.logger.WithError(err).Warn("assignment notification not recorded")
	}
	s.enqueueEvent(ctx, "assignment.created", map[string]interface{}{
		"response_id":  resp.ID,
		"alert_id":     alertID,
		"responder_id": responderID,
	})

	s.logger.WithFields(logrus.Fields{
		"alert_id":     alertID,
		"responder_id": responderID,
		"response_id":  resp.ID,
	}).Info("alert assigned")
	return resp, nil
}

// UpdateResponseStatus advances a response. Re-sending the current status
// is a no-op; anything but the immediate successor is rejected.
func (s *Service) UpdateResponseStatus(ctx context.Context, responseID string, status model.ResponseStatus, notes string, etaMinutes int) (*model.EmergencyResponse, error) {
	resp, err := s.storage.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrResponseNotFound
	}

	if resp.Status == status {
		return resp, nil
	}
	next, ok := resp.Status.Next()
	if !ok || next != status {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, resp.Status, status)
	}

	if err := s.storage.UpdateResponseStatus(ctx, responseID, status, notes, etaMinutes); err != nil {
		return nil, err
	}
	return s.storage.GetResponse(ctx, responseID)
}

func (s *Service) UpdateResponderStatus(ctx context.Context, responderID string, status model.ResponderStatus, pos *model.Position) error {
	if _, err := s.Profile(ctx, responderID); err != nil {
		return err
	}
	return s.storage.UpdateResponderStatus(ctx, responderID, status, pos)
}

func (s *Service) Notifications(ctx context.Context, responderID string) (model.NotificationList, error) {
	items, err := s.storage.ListNotifications(ctx, responderID)
	if err != nil {
		return model.NotificationList{}, err
	}
	unread, err := s.storage.UnreadCount(ctx, responderID)
	if err != nil {
		return model.NotificationList{}, err
	}
	return model.NotificationList{UnreadCount: unread, Data: items}, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, responderID, id string) error {
	return s.storage.MarkNotificationRead(ctx, id, responderID)
}

// CreateAlert is the victim-side intake.
func (s *Service) CreateAlert(ctx context.Context, alert *model.EmergencyAlert) (*model.EmergencyAlert, error) {
	if alert.Type == "" {
		return nil, errors.New("alert type is required")
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Status == "" {
		alert.Status = model.AlertActive
	}
	if alert.Severity == "" {
		alert.Severity = "medium"
	}

	if err := s.storage.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	s.enqueueEvent(ctx, "alert.created", map[string]interface{}{
		"alert_id": alert.ID,
		"type":     alert.Type,
		"severity": alert.Severity,
	})
	return alert, nil
}

func (s *Service) Health(ctx context.Context) *repository.HealthError {
	return s.storage.Ping(ctx)
}

func (s *Service) enqueueEvent(ctx context.Context, event string, fields map[string]interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"event": event,
		"data":  fields,
	})
	if err != nil {
		s.logger.WithError(err).Error("marshal webhook event")
		return
	}
	if err := s.storage.EnqueueWebhookTask(ctx, payload); err != nil {
		s.logger.WithError(err).Warn("webhook event not enqueued")
	}
}
