package engine

import (
	"context"
	"errors"
	"testing"

	"emergency-response/internal/model"
)

func newTestEngine(t *testing.T, fake *fakeDispatch) *Engine {
	t.Helper()
	sess := readySession(t, fake)
	return New(fake, sess, nil, testLogger())
}

// A claim followed by a refresh must show the claimed alert exclusively in
// the assigned partition, regardless of refresh timing.
func TestClaimRoundTrip(t *testing.T) {
	alert := model.EmergencyAlert{ID: "alert-1", Type: "assault", Status: model.AlertActive}
	fake := &fakeDispatch{
		alerts:   []model.EmergencyAlert{alert},
		assignID: "resp-1",
	}
	// the fake authority records the claim so the follow-up fetch sees it
	fake.onAssign = func(alertID, notes string) {
		fake.mu.Lock()
		fake.assignments = append(fake.assignments, model.EmergencyResponse{
			ID:      "resp-1",
			AlertID: alertID,
			Status:  model.StatusAccepted,
			Alert:   &alert,
		})
		fake.mu.Unlock()
	}

	eng := newTestEngine(t, fake)
	if _, err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh failed: %v", err)
	}

	resp, err := eng.Claim(context.Background(), "alert-1", "")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if resp.Status != model.StatusAccepted {
		t.Fatalf("status = %s, want accepted", resp.Status)
	}

	snap, ok := eng.Snapshot()
	if !ok {
		t.Fatal("no snapshot after claim")
	}
	for _, a := range snap.Available {
		if a.ID == "alert-1" {
			t.Fatal("claimed alert still listed as available")
		}
	}
	found := false
	for _, r := range snap.Assigned {
		if r.AlertID == "alert-1" {
			found = true
		}
	}
	if !found {
		t.Fatal("claimed alert missing from assigned partition")
	}
}

func TestClaimUnknownAlert(t *testing.T) {
	fake := &fakeDispatch{}
	eng := newTestEngine(t, fake)
	if _, err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	if _, err := eng.Claim(context.Background(), "nope", ""); !errors.Is(err, ErrAlertNotAvailable) {
		t.Fatalf("expected ErrAlertNotAvailable, got %v", err)
	}
	if fake.assignCalls != 0 {
		t.Fatal("no remote call expected for unknown alert")
	}
}

func TestUpdateStatusUnknownResponse(t *testing.T) {
	fake := &fakeDispatch{}
	eng := newTestEngine(t, fake)
	if _, err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	if _, err := eng.UpdateStatus(context.Background(), "nope", model.StatusEnRoute, ""); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
	if len(fake.statusCalls) != 0 {
		t.Fatal("no remote call expected for unknown response")
	}
}

// The next authoritative fetch overwrites any optimistic overlay:
// last-fetch-wins, not merge.
func TestRefreshOverwritesOptimisticOverlay(t *testing.T) {
	fake := &fakeDispatch{
		assignments: []model.EmergencyResponse{
			{ID: "r1", AlertID: "alert-1", Status: model.StatusAccepted},
		},
	}
	eng := newTestEngine(t, fake)
	if _, err := eng.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	eng.Feed().ApplyResponse(model.EmergencyResponse{
		ID:      "r1",
		AlertID: "alert-1",
		Status:  model.StatusOnScene,
	})

	snap, err := eng.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if snap.Assigned[0].Status != model.StatusAccepted {
		t.Fatalf("status = %s, want authoritative accepted", snap.Assigned[0].Status)
	}
}
