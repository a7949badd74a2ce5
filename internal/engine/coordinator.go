package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emergency-response/internal/api"
	"emergency-response/internal/model"
	"emergency-response/internal/session"

	"github.com/sirupsen/logrus"
)

// ErrNoAlert rejects a claim with no alert before any network call.
var ErrNoAlert = errors.New("no alert to claim")

// Coordinator performs the claim that turns an unassigned alert into an
// EmergencyResponse owned by the current responder. Claiming and accepting
// are fused into one action: there is no claimed-but-not-accepted state.
type Coordinator struct {
	client  api.Client
	machine *Machine
	session *session.Session
	logger  *logrus.Logger
	now     func() time.Time
}

func NewCoordinator(client api.Client, machine *Machine, sess *session.Session, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		client:  client,
		machine: machine,
		session: sess,
		logger:  logger,
		now:     time.Now,
	}
}

// Claim binds the alert to the current responder, flips the responder busy
// and immediately accepts the new response. If the assignment call is
// rejected, typically because another responder's claim landed first, the
// operation aborts with no local mutation and the remote error message is
// returned as-is for the UI to surface.
func (c *Coordinator) Claim(ctx context.Context, alert *model.EmergencyAlert, notes string) (*model.EmergencyResponse, error) {
	if alert == nil {
		return nil, ErrNoAlert
	}
	responder, ok := c.session.Responder()
	if !ok {
		return nil, ErrNotReady
	}

	id, err := c.client.AssignResponder(ctx, alert.ID, notes)
	if err != nil {
		return nil, err
	}

	busy := model.ResponderBusy
	if err := c.client.UpdateResponderStatus(ctx, busy, nil); err != nil {
		c.logger.WithError(err).Warn("responder busy flip failed after claim")
	} else {
		c.session.UpdateLocal(session.Patch{Status: &busy})
	}

	now := c.now()
	resp := &model.EmergencyResponse{
		ID:          id,
		AlertID:     alert.ID,
		ResponderID: responder.ID,
		Status:      model.StatusNotified,
		NotifiedAt:  &now,
		Alert:       alert,
	}

	if _, err := c.machine.Transition(ctx, resp, model.StatusAccepted, notes); err != nil {
		// The claim itself landed; the next feed refresh shows its
		// authoritative state.
		return resp, fmt.Errorf("alert claimed but accept failed: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"alert_id":    alert.ID,
		"response_id": id,
	}).Info("alert claimed and accepted")
	return resp, nil
}
