package engine

import (
	"context"
	"sync"

	"emergency-response/internal/api"
	"emergency-response/internal/model"

	"github.com/sirupsen/logrus"
)

// NotificationCenter tracks read/unread state for informational events.
// The unread count is always taken from the server; the client never
// recomputes it from the list.
type NotificationCenter struct {
	client api.Client
	logger *logrus.Logger

	mu      sync.Mutex
	items   []model.Notification
	unread  int
	fetched bool
}

func NewNotificationCenter(client api.Client, logger *logrus.Logger) *NotificationCenter {
	return &NotificationCenter{
		client: client,
		logger: logger,
	}
}

// Fetch replaces the local list and unread count with the server's answer.
func (n *NotificationCenter) Fetch(ctx context.Context) (model.NotificationList, error) {
	list, err := n.client.Notifications(ctx)
	if err != nil {
		n.logger.WithError(err).Warn("notifications fetch failed")
		return model.NotificationList{}, err
	}

	n.mu.Lock()
	n.items = append([]model.Notification(nil), list.Data...)
	n.unread = list.UnreadCount
	n.fetched = true
	n.mu.Unlock()
	return list, nil
}

// List returns the locally cached notifications.
func (n *NotificationCenter) List() (model.NotificationList, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.fetched {
		return model.NotificationList{}, false
	}
	return model.NotificationList{
		UnreadCount: n.unread,
		Data:        append([]model.Notification(nil), n.items...),
	}, true
}

// MarkRead optimistically flips the local flag and decrements the unread
// counter by at most one, clamped at zero, then issues the remote write.
// On failure the flip stays in place; the error is still returned so the
// caller knows the write did not land.
func (n *NotificationCenter) MarkRead(ctx context.Context, id string) error {
	n.mu.Lock()
	flipped := false
	for i := range n.items {
		if n.items[i].ID == id && !n.items[i].IsRead {
			n.items[i].IsRead = true
			flipped = true
			break
		}
	}
	if flipped && n.unread > 0 {
		n.unread--
	}
	n.mu.Unlock()

	if err := n.client.MarkNotificationRead(ctx, id); err != nil {
		n.logger.WithError(err).WithField("notification_id", id).
			Warn("mark-read write failed, optimistic flag left in place")
		return err
	}
	return nil
}
