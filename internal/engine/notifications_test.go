package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"emergency-response/internal/model"
)

func seededCenter(t *testing.T, fake *fakeDispatch) *NotificationCenter {
	t.Helper()
	center := NewNotificationCenter(fake, testLogger())
	if _, err := center.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	return center
}

func TestFetchUsesServerUnreadCount(t *testing.T) {
	fake := &fakeDispatch{
		notifications: model.NotificationList{
			// deliberately disagrees with the list: the server number wins
			UnreadCount: 5,
			Data: []model.Notification{
				{ID: "n1", Title: "New assignment", CreatedAt: time.Now()},
			},
		},
	}
	center := seededCenter(t, fake)

	list, ok := center.List()
	if !ok {
		t.Fatal("expected cached list")
	}
	if list.UnreadCount != 5 {
		t.Fatalf("unread = %d, want server's 5", list.UnreadCount)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	fake := &fakeDispatch{
		notifications: model.NotificationList{
			UnreadCount: 2,
			Data: []model.Notification{
				{ID: "n1"},
				{ID: "n2"},
			},
		},
	}
	center := seededCenter(t, fake)

	if err := center.MarkRead(context.Background(), "n1"); err != nil {
		t.Fatalf("first markRead failed: %v", err)
	}
	if err := center.MarkRead(context.Background(), "n1"); err != nil {
		t.Fatalf("second markRead failed: %v", err)
	}

	list, _ := center.List()
	if !list.Data[0].IsRead {
		t.Fatal("n1 should be read")
	}
	if list.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1 (no double decrement)", list.UnreadCount)
	}
}

func TestMarkReadClampsAtZero(t *testing.T) {
	fake := &fakeDispatch{
		notifications: model.NotificationList{
			UnreadCount: 0,
			Data:        []model.Notification{{ID: "n1"}},
		},
	}
	center := seededCenter(t, fake)

	if err := center.MarkRead(context.Background(), "n1"); err != nil {
		t.Fatalf("markRead failed: %v", err)
	}
	list, _ := center.List()
	if list.UnreadCount != 0 {
		t.Fatalf("unread = %d, want clamp at 0", list.UnreadCount)
	}
}

// The optimistic flip deliberately survives a failed write; the error is
// still reported to the caller.
func TestMarkReadKeepsFlipOnWriteFailure(t *testing.T) {
	fake := &fakeDispatch{
		markReadErr: errors.New("write failed"),
		notifications: model.NotificationList{
			UnreadCount: 1,
			Data:        []model.Notification{{ID: "n1"}},
		},
	}
	center := seededCenter(t, fake)

	err := center.MarkRead(context.Background(), "n1")
	if err == nil {
		t.Fatal("expected the write failure to be reported")
	}

	list, _ := center.List()
	if !list.Data[0].IsRead {
		t.Fatal("optimistic flip should stay in place on failure")
	}
	if list.UnreadCount != 0 {
		t.Fatalf("unread = %d, want optimistic 0", list.UnreadCount)
	}
}
