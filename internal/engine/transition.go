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

var (
	// ErrIllegalTransition rejects a target that is not the immediate
	// successor of the current status. No remote call is made.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrNoResponse rejects a transition with no existing response.
	ErrNoResponse = errors.New("no emergency response to transition")

	// ErrNotReady means the responder profile has not loaded yet.
	ErrNotReady = errors.New("responder profile not loaded")
)

// Resolver supplies an optional position for availability changes.
type Resolver interface {
	Resolve(ctx context.Context) (*model.Position, error)
}

// TransitionResult reports the confirmed transition and its follow-ups.
type TransitionResult struct {
	Response *model.EmergencyResponse
	// OfferReport signals the caller to route into the incident-report
	// flow after a completed response.
	OfferReport bool
}

type transitionParams struct {
	eta    int
	etaSet bool
}

type TransitionOption func(*transitionParams)

// WithETA overrides the fixed per-status ETA policy for entry points that
// carry their own value.
func WithETA(minutes int) TransitionOption {
	return func(p *transitionParams) {
		p.eta = minutes
		p.etaSet = true
	}
}

// etaFor is a fixed policy, not a measured estimate.
func etaFor(status model.ResponseStatus) int {
	switch status {
	case model.StatusEnRoute:
		return 5
	case model.StatusOnScene:
		return 2
	default:
		return 0
	}
}

// Machine validates and executes lifecycle transitions of an
// EmergencyResponse and drives the responder-availability side effects
// attached to each one.
type Machine struct {
	client   api.Client
	session  *session.Session
	resolver Resolver
	logger   *logrus.Logger
	now      func() time.Time
}

func NewMachine(client api.Client, sess *session.Session, resolver Resolver, logger *logrus.Logger) *Machine {
	return &Machine{
		client:   client,
		session:  sess,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// Transition moves resp to target, which must be the immediate successor of
// its current status. The status and timestamp are applied optimistically
// and rolled back if the remote write fails; a supplied notes string is
// persisted verbatim.
func (m *Machine) Transition(ctx context.Context, resp *model.EmergencyResponse, target model.ResponseStatus, notes string, opts ...TransitionOption) (*TransitionResult, error) {
	if resp == nil {
		return nil, ErrNoResponse
	}
	next, ok := resp.Status.Next()
	if !ok || next != target {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, resp.Status, target)
	}

	params := transitionParams{eta: etaFor(target)}
	for _, opt := range opts {
		opt(&params)
	}

	prevStatus := resp.Status
	prevNotes := resp.Notes
	prevETA := resp.ETAMinutes

	resp.Status = target
	resp.StampStatus(target, m.now())
	resp.ETAMinutes = params.eta
	if notes != "" {
		resp.Notes = notes
	}

	if err := m.client.UpdateResponseStatus(ctx, resp.ID, target, notes, params.eta); err != nil {
		resp.Status = prevStatus
		resp.UnstampStatus(target)
		resp.Notes = prevNotes
		resp.ETAMinutes = prevETA
		m.logger.WithError(err).WithFields(logrus.Fields{
			"response_id": resp.ID,
			"target":      target,
		}).Warn("status update rejected, rolled back")
		return nil, err
	}

	result := &TransitionResult{Response: resp}

	switch target {
	case model.StatusAccepted, model.StatusEnRoute:
		if err := m.setResponderStatus(ctx, model.ResponderBusy); err != nil {
			return result, err
		}
	case model.StatusCompleted:
		result.OfferReport = true
		if err := m.setResponderStatus(ctx, model.ResponderAvailable); err != nil {
			return result, err
		}
	}
	return result, nil
}

// SetAvailability changes the responder's own status, attaching a position
// when one can be resolved. A missing location never fails the update.
func (m *Machine) SetAvailability(ctx context.Context, status model.ResponderStatus) (model.Responder, error) {
	if !m.session.Ready() {
		return model.Responder{}, ErrNotReady
	}

	var pos *model.Position
	if m.resolver != nil {
		p, err := m.resolver.Resolve(ctx)
		if err != nil {
			m.logger.WithError(err).Info("proceeding with status change without location")
		} else {
			pos = p
		}
	}

	if err := m.client.UpdateResponderStatus(ctx, status, pos); err != nil {
		return model.Responder{}, err
	}
	m.session.UpdateLocal(session.Patch{Status: &status, Position: pos})

	rsp, _ := m.session.Responder()
	return rsp, nil
}

// setResponderStatus is the remote-write-then-local-mirror side effect of a
// confirmed transition. The transition itself is already confirmed, so a
// failure here is surfaced without rolling the response back; the next feed
// refresh reconciles.
func (m *Machine) setResponderStatus(ctx context.Context, status model.ResponderStatus) error {
	if err := m.client.UpdateResponderStatus(ctx, status, nil); err != nil {
		m.logger.WithError(err).WithField("status", status).Warn("responder status flip failed")
		return fmt.Errorf("response updated but responder status unchanged: %w", err)
	}
	m.session.UpdateLocal(session.Patch{Status: &status})
	return nil
}
