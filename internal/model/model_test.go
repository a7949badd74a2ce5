package model

import (
	"testing"
	"time"
)

func TestResponseStatusNext(t *testing.T) {
	cases := []struct {
		from ResponseStatus
		want ResponseStatus
		ok   bool
	}{
		{StatusNotified, StatusAccepted, true},
		{StatusAccepted, StatusEnRoute, true},
		{StatusEnRoute, StatusOnScene, true},
		{StatusOnScene, StatusCompleted, true},
		{StatusCompleted, "", false},
		{"bogus", "", false},
	}

	for _, c := range cases {
		got, ok := c.from.Next()
		if ok != c.ok || got != c.want {
			t.Errorf("Next(%q) = (%q, %v), want (%q, %v)", c.from, got, ok, c.want, c.ok)
		}
	}
}

func TestStampStatusDoesNotOverwrite(t *testing.T) {
	r := EmergencyResponse{Status: StatusAccepted}
	first := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	r.StampStatus(StatusAccepted, first)
	r.StampStatus(StatusAccepted, second)

	if r.AcceptedAt == nil || !r.AcceptedAt.Equal(first) {
		t.Fatalf("accepted_at = %v, want %v", r.AcceptedAt, first)
	}
}

func TestUnstampStatus(t *testing.T) {
	now := time.Now()
	r := EmergencyResponse{Status: StatusEnRoute}
	r.StampStatus(StatusEnRoute, now)
	r.UnstampStatus(StatusEnRoute)

	if r.DispatchedAt != nil {
		t.Fatalf("dispatched_at = %v, want nil", r.DispatchedAt)
	}
}
