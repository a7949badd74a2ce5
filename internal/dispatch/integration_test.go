package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"emergency-response/internal/config"
	"emergency-response/internal/model"
	"emergency-response/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// End-to-end arbitration against a real Postgres and Redis. The losing
// claim must come back as ErrAlreadyClaimed out of the unique index.
func TestAssignArbitrationIntegration(t *testing.T) {
	dbURL := config.GetDBURL()
	redisCfg := config.GetRedisConfig()
	if dbURL == "" || redisCfg.Addr == "" {
		t.Skip("DATABASE_URL or REDIS_ADDR not set, skipping integration test")
	}

	logger := logrus.New()

	storage, err := repository.NewStorage(dbURL, redisCfg)
	if err != nil {
		t.Fatalf("failed to init storage: %v", err)
	}
	defer storage.Close()

	ctx := context.Background()
	if err := storage.CreateTables(ctx); err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}

	svc := NewService(storage, logger)

	first := &model.Responder{ID: uuid.NewString(), Name: "First", Status: model.ResponderAvailable}
	second := &model.Responder{ID: uuid.NewString(), Name: "Second", Status: model.ResponderAvailable}
	for _, r := range []*model.Responder{first, second} {
		if err := storage.CreateResponder(ctx, r); err != nil {
			t.Fatalf("failed to create responder: %v", err)
		}
	}

	alert, err := svc.CreateAlert(ctx, &model.EmergencyAlert{
		Type:      "sos",
		VictimID:  uuid.NewString(),
		Latitude:  52.37,
		Longitude: 4.89,
		Address:   "Dam Square, Amsterdam",
		MediaURLs: []string{"https://media.example.com/alert-1.jpg"},
		Contacts: []model.EmergencyContact{
			{Name: "Jo", Phone: "+31611111111", Relation: "partner"},
		},
		Locations: []model.LocationUpdate{
			{Latitude: 52.3701, Longitude: 4.8952, RecordedAt: time.Now().UTC()},
		},
	})
	if err != nil {
		t.Fatalf("failed to create alert: %v", err)
	}

	stored, err := storage.GetAlert(ctx, alert.ID)
	if err != nil {
		t.Fatalf("failed to reload alert: %v", err)
	}
	if len(stored.MediaURLs) != 1 || stored.MediaURLs[0] != "https://media.example.com/alert-1.jpg" {
		t.Fatalf("media urls = %v", stored.MediaURLs)
	}
	if len(stored.Contacts) != 1 || stored.Contacts[0].Phone != "+31611111111" {
		t.Fatalf("contacts = %+v", stored.Contacts)
	}
	if len(stored.Locations) != 1 {
		t.Fatalf("locations = %+v", stored.Locations)
	}

	resp, err := svc.Assign(ctx, alert.ID, first.ID, "on my way")
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if resp.Status != model.StatusNotified {
		t.Fatalf("response status = %s, want notified", resp.Status)
	}

	if _, err := svc.Assign(ctx, alert.ID, second.ID, ""); !errors.Is(err, repository.ErrAlreadyClaimed) {
		t.Fatalf("second claim error = %v, want ErrAlreadyClaimed", err)
	}

	// Advance the winner through the full lifecycle.
	for _, status := range []model.ResponseStatus{
		model.StatusAccepted,
		model.StatusEnRoute,
		model.StatusOnScene,
		model.StatusCompleted,
	} {
		if _, err := svc.UpdateResponseStatus(ctx, resp.ID, status, "", 0); err != nil {
			t.Fatalf("transition to %s failed: %v", status, err)
		}
	}

	final, err := storage.GetResponse(ctx, resp.ID)
	if err != nil {
		t.Fatalf("failed to reload response: %v", err)
	}
	if final.Status != model.StatusCompleted {
		t.Fatalf("final status = %s", final.Status)
	}
	if final.AcceptedAt == nil || final.CompletedAt == nil {
		t.Fatal("lifecycle timestamps missing")
	}

	list, err := svc.Notifications(ctx, first.ID)
	if err != nil {
		t.Fatalf("failed to list notifications: %v", err)
	}
	if len(list.Data) == 0 {
		t.Fatal("expected an assignment notification")
	}
}
