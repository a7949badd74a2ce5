package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"emergency-response/internal/model"

	"github.com/sirupsen/logrus"
)

type fakeProfileClient struct {
	mu         sync.Mutex
	profile    *model.Responder
	profileErr error
}

func (f *fakeProfileClient) Profile(ctx context.Context) (*model.Responder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	rsp := *f.profile
	return &rsp, nil
}

func (f *fakeProfileClient) Assignments(ctx context.Context) ([]model.EmergencyResponse, error) {
	return nil, nil
}

func (f *fakeProfileClient) ActiveAlerts(ctx context.Context) ([]model.EmergencyAlert, error) {
	return nil, nil
}

func (f *fakeProfileClient) AssignResponder(ctx context.Context, alertID, notes string) (string, error) {
	return "", nil
}

func (f *fakeProfileClient) UpdateResponseStatus(ctx context.Context, responseID string, status model.ResponseStatus, notes string, etaMinutes int) error {
	return nil
}

func (f *fakeProfileClient) UpdateResponderStatus(ctx context.Context, status model.ResponderStatus, pos *model.Position) error {
	return nil
}

func (f *fakeProfileClient) Notifications(ctx context.Context) (model.NotificationList, error) {
	return model.NotificationList{}, nil
}

func (f *fakeProfileClient) MarkNotificationRead(ctx context.Context, id string) error {
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestLoadSeedsResponder(t *testing.T) {
	fake := &fakeProfileClient{
		profile: &model.Responder{ID: "resp-1", Name: "Dana", Status: model.ResponderAvailable},
	}
	s := New(fake, testLogger())

	if s.Ready() {
		t.Fatal("session should not be ready before load")
	}

	responder, ok := s.Load(context.Background())
	if !ok {
		t.Fatal("load failed")
	}
	if responder.ID != "resp-1" || responder.Status != model.ResponderAvailable {
		t.Fatalf("unexpected responder: %+v", responder)
	}
	if !s.Ready() {
		t.Fatal("session should be ready after load")
	}
}

func TestLoadFailureFallsBackToLastKnown(t *testing.T) {
	fake := &fakeProfileClient{
		profile: &model.Responder{ID: "resp-1", Status: model.ResponderBusy},
	}
	s := New(fake, testLogger())
	if _, ok := s.Load(context.Background()); !ok {
		t.Fatal("seed load failed")
	}

	fake.mu.Lock()
	fake.profileErr = errors.New("dispatch unreachable")
	fake.mu.Unlock()

	responder, ok := s.Load(context.Background())
	if !ok {
		t.Fatal("expected fallback to last known responder")
	}
	if responder.ID != "resp-1" || responder.Status != model.ResponderBusy {
		t.Fatalf("fallback responder = %+v", responder)
	}
}

func TestLoadFailureWithNoSeedIsNotReady(t *testing.T) {
	fake := &fakeProfileClient{profileErr: errors.New("boom")}
	s := New(fake, testLogger())

	if _, ok := s.Load(context.Background()); ok {
		t.Fatal("load should report not ready")
	}
	if s.Ready() {
		t.Fatal("session must stay not-ready")
	}
}

func TestUpdateLocalMergesPatch(t *testing.T) {
	fake := &fakeProfileClient{
		profile: &model.Responder{ID: "resp-1", Status: model.ResponderAvailable},
	}
	s := New(fake, testLogger())
	s.Load(context.Background())

	busy := model.ResponderBusy
	s.UpdateLocal(Patch{
		Status:   &busy,
		Position: &model.Position{Latitude: 52.1, Longitude: 4.9, Address: "Main St 1"},
	})

	responder, _ := s.Responder()
	if responder.Status != model.ResponderBusy {
		t.Fatalf("status = %s, want busy", responder.Status)
	}
	if responder.Latitude == nil || *responder.Latitude != 52.1 {
		t.Fatalf("latitude = %v", responder.Latitude)
	}
	if responder.Location != "Main St 1" {
		t.Fatalf("location = %q", responder.Location)
	}
}

func TestUpdateLocalBeforeLoadIsNoop(t *testing.T) {
	fake := &fakeProfileClient{profileErr: errors.New("boom")}
	s := New(fake, testLogger())

	busy := model.ResponderBusy
	s.UpdateLocal(Patch{Status: &busy})

	if s.Ready() {
		t.Fatal("patch before load must not fabricate a responder")
	}
}
