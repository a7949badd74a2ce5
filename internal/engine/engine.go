package engine

import (
	"context"
	"errors"
	"time"

	"emergency-response/internal/api"
	"emergency-response/internal/model"
	"emergency-response/internal/session"

	"github.com/sirupsen/logrus"
)

// ErrAlertNotAvailable rejects a claim on an alert that is not in the
// available partition of the current snapshot.
var ErrAlertNotAvailable = errors.New("alert is not in the available pool")

// Engine wires the coordination components behind one surface for the
// handler layer. Every user action runs as one awaited sequence: validate,
// write through, overlay the snapshot, refresh.
type Engine struct {
	session       *session.Session
	feed          *Feed
	machine       *Machine
	coordinator   *Coordinator
	notifications *NotificationCenter
	logger        *logrus.Logger
}

func New(client api.Client, sess *session.Session, resolver Resolver, logger *logrus.Logger) *Engine {
	machine := NewMachine(client, sess, resolver, logger)
	return &Engine{
		session:       sess,
		feed:          NewFeed(client, sess, logger),
		machine:       machine,
		coordinator:   NewCoordinator(client, machine, sess, logger),
		notifications: NewNotificationCenter(client, logger),
		logger:        logger,
	}
}

func (e *Engine) Feed() *Feed { return e.feed }

func (e *Engine) NotificationCenter() *NotificationCenter { return e.notifications }

func (e *Engine) Snapshot() (Snapshot, bool) { return e.feed.Snapshot() }

func (e *Engine) Refresh(ctx context.Context) (Snapshot, error) { return e.feed.Refresh(ctx) }

// Claim claims an available alert and immediately accepts it. The claimed
// alert leaves the available partition at once; the follow-up refresh makes
// the authoritative state current.
func (e *Engine) Claim(ctx context.Context, alertID, notes string) (*model.EmergencyResponse, error) {
	alert, ok := e.feed.AvailableAlert(alertID)
	if !ok {
		return nil, ErrAlertNotAvailable
	}

	resp, err := e.coordinator.Claim(ctx, &alert, notes)
	if resp != nil {
		e.feed.ApplyClaim(*resp)
		if _, rerr := e.feed.Refresh(ctx); rerr != nil {
			e.logger.WithError(rerr).Warn("feed refresh after claim failed")
		}
	}
	return resp, err
}

// UpdateStatus advances an assigned response to target.
func (e *Engine) UpdateStatus(ctx context.Context, responseID string, target model.ResponseStatus, notes string, opts ...TransitionOption) (*TransitionResult, error) {
	resp, ok := e.feed.AssignedResponse(responseID)
	if !ok {
		return nil, ErrNoResponse
	}

	result, err := e.machine.Transition(ctx, &resp, target, notes, opts...)
	if result != nil {
		e.feed.ApplyResponse(resp)
		if _, rerr := e.feed.Refresh(ctx); rerr != nil {
			e.logger.WithError(rerr).Warn("feed refresh after transition failed")
		}
	}
	return result, err
}

func (e *Engine) SetAvailability(ctx context.Context, status model.ResponderStatus) (model.Responder, error) {
	return e.machine.SetAvailability(ctx, status)
}

func (e *Engine) Notifications(ctx context.Context) (model.NotificationList, error) {
	return e.notifications.Fetch(ctx)
}

func (e *Engine) MarkNotificationRead(ctx context.Context, id string) error {
	return e.notifications.MarkRead(ctx, id)
}

type HealthStatus struct {
	Status        string     `json:"status"`
	SessionReady  bool       `json:"session_ready"`
	LastRefreshed *time.Time `json:"last_refreshed,omitempty"`
}

func (e *Engine) Health() HealthStatus {
	h := HealthStatus{Status: "ok", SessionReady: e.session.Ready()}
	if snap, ok := e.feed.Snapshot(); ok {
		t := snap.RefreshedAt
		h.LastRefreshed = &t
	}
	if !h.SessionReady {
		h.Status = "degraded"
	}
	return h
}
