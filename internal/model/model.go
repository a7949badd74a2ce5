package model

import "time"

type ResponderStatus string

const (
	ResponderAvailable ResponderStatus = "available"
	ResponderBusy      ResponderStatus = "busy"
	ResponderOffline   ResponderStatus = "offline"
)

func (s ResponderStatus) Valid() bool {
	switch s {
	case ResponderAvailable, ResponderBusy, ResponderOffline:
		return true
	}
	return false
}

type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

type ResponseStatus string

const (
	StatusNotified  ResponseStatus = "notified"
	StatusAccepted  ResponseStatus = "accepted"
	StatusEnRoute   ResponseStatus = "en_route"
	StatusOnScene   ResponseStatus = "on_scene"
	StatusCompleted ResponseStatus = "completed"
)

// lifecycle order; no skips, no backward edges
var statusOrder = []ResponseStatus{
	StatusNotified,
	StatusAccepted,
	StatusEnRoute,
	StatusOnScene,
	StatusCompleted,
}

func (s ResponseStatus) Valid() bool {
	for _, st := range statusOrder {
		if s == st {
			return true
		}
	}
	return false
}

// Next returns the only legal successor status. The second return is false
// for the terminal status and for unknown values.
func (s ResponseStatus) Next() (ResponseStatus, bool) {
	for i, st := range statusOrder {
		if s == st && i+1 < len(statusOrder) {
			return statusOrder[i+1], true
		}
	}
	return "", false
}

func (s ResponseStatus) Terminal() bool {
	return s == StatusCompleted
}

type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type EmergencyContact struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Relation string `json:"relation,omitempty"`
}

// LocationUpdate is a victim-device position sample attached to an alert.
// Read-only on the responder side.
type LocationUpdate struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	RecordedAt time.Time `json:"recorded_at"`
}

type EmergencyAlert struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Severity    string             `json:"severity"`
	Status      AlertStatus        `json:"status"`
	Address     string             `json:"address"`
	Latitude    float64            `json:"latitude"`
	Longitude   float64            `json:"longitude"`
	VictimID    string             `json:"victim_id"`
	MediaURLs   []string           `json:"media_urls,omitempty"`
	Contacts    []EmergencyContact `json:"contacts,omitempty"`
	Locations   []LocationUpdate   `json:"locations,omitempty"`
	ActivatedAt time.Time          `json:"activated_at"`
}

// EmergencyResponse is a responder's claim on an alert. Timestamps are
// populated monotonically as the status advances and are never reset.
type EmergencyResponse struct {
	ID           string          `json:"id"`
	AlertID      string          `json:"alert_id"`
	ResponderID  string          `json:"responder_id"`
	Status       ResponseStatus  `json:"status"`
	ETAMinutes   int             `json:"eta_minutes"`
	Notes        string          `json:"notes"`
	NotifiedAt   *time.Time      `json:"notified_at,omitempty"`
	AcceptedAt   *time.Time      `json:"accepted_at,omitempty"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty"`
	ArrivedAt    *time.Time      `json:"arrived_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Alert        *EmergencyAlert `json:"alert,omitempty"`
}

// StampStatus records the timestamp matching a status, if not already set.
func (r *EmergencyResponse) StampStatus(s ResponseStatus, t time.Time) {
	switch s {
	case StatusNotified:
		if r.NotifiedAt == nil {
			r.NotifiedAt = &t
		}
	case StatusAccepted:
		if r.AcceptedAt == nil {
			r.AcceptedAt = &t
		}
	case StatusEnRoute:
		if r.DispatchedAt == nil {
			r.DispatchedAt = &t
		}
	case StatusOnScene:
		if r.ArrivedAt == nil {
			r.ArrivedAt = &t
		}
	case StatusCompleted:
		if r.CompletedAt == nil {
			r.CompletedAt = &t
		}
	}
}

// UnstampStatus clears the timestamp for a status. Used only to roll back
// an optimistic stamp after a failed remote write.
func (r *EmergencyResponse) UnstampStatus(s ResponseStatus) {
	switch s {
	case StatusNotified:
		r.NotifiedAt = nil
	case StatusAccepted:
		r.AcceptedAt = nil
	case StatusEnRoute:
		r.DispatchedAt = nil
	case StatusOnScene:
		r.ArrivedAt = nil
	case StatusCompleted:
		r.CompletedAt = nil
	}
}

type Responder struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Status    ResponderStatus `json:"status"`
	Latitude  *float64        `json:"latitude,omitempty"`
	Longitude *float64        `json:"longitude,omitempty"`
	Location  string          `json:"location,omitempty"`
}

type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationList carries the server-computed unread count; the client
// never derives it from the list itself.
type NotificationList struct {
	UnreadCount int            `json:"unread_count"`
	Data        []Notification `json:"data"`
}
