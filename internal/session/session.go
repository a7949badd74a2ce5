package session

import (
	"context"
	"sync"

	"emergency-response/internal/api"
	"emergency-response/internal/model"

	"github.com/sirupsen/logrus"
)

// Session holds the authenticated responder's identity and last-known
// availability. The loaded status seeds local state; it is never ground
// truth for a transition decision already in flight.
type Session struct {
	client api.Client
	logger *logrus.Logger

	mu        sync.RWMutex
	responder *model.Responder
}

func New(client api.Client, logger *logrus.Logger) *Session {
	return &Session{
		client: client,
		logger: logger,
	}
}

// Load fetches the authoritative responder profile. On failure the session
// falls back to whatever it already holds; callers treat absence of a
// responder as "not ready" and suspend dependent operations.
func (s *Session) Load(ctx context.Context) (model.Responder, bool) {
	rsp, err := s.client.Profile(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("profile load failed, keeping last known responder")
		return s.Responder()
	}

	s.mu.Lock()
	s.responder = rsp
	s.mu.Unlock()
	return *rsp, true
}

// Responder returns a copy of the current responder, false when no profile
// has ever loaded.
func (s *Session) Responder() (model.Responder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.responder == nil {
		return model.Responder{}, false
	}
	return *s.responder, true
}

func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.responder != nil
}

// Patch is a partial profile update mirrored locally after a successful
// remote write.
type Patch struct {
	Status   *model.ResponderStatus
	Position *model.Position
}

// UpdateLocal merges a patch into memory. It performs no validation; the
// component issuing the remote write is responsible for that.
func (s *Session) UpdateLocal(p Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.responder == nil {
		return
	}
	if p.Status != nil {
		s.responder.Status = *p.Status
	}
	if p.Position != nil {
		lat, lng := p.Position.Latitude, p.Position.Longitude
		s.responder.Latitude = &lat
		s.responder.Longitude = &lng
		if p.Position.Address != "" {
			s.responder.Location = p.Position.Address
		}
	}
}
