package engine

import (
	"context"
	"sync"
	"time"

	"emergency-response/internal/api"
	"emergency-response/internal/model"
	"emergency-response/internal/session"

	"github.com/sirupsen/logrus"
)

// DayStats is a same-day display convenience, not a correctness-bearing
// value.
type DayStats struct {
	Assigned         int     `json:"assigned"`
	Completed        int     `json:"completed"`
	AvgHandleMinutes float64 `json:"avg_handle_minutes"`
}

// Snapshot is the partitioned view the UI renders. An alert id never
// appears in both partitions.
type Snapshot struct {
	Assigned    []model.EmergencyResponse `json:"assigned"`
	Available   []model.EmergencyAlert    `json:"available"`
	Stats       DayStats                  `json:"stats"`
	RefreshedAt time.Time                 `json:"refreshed_at"`
}

// Feed keeps the responder's view of assignments and available alerts
// consistent with the dispatch authority. Each successful refresh replaces
// the whole snapshot: last authoritative fetch wins over any local optimism.
type Feed struct {
	client  api.Client
	session *session.Session
	logger  *logrus.Logger
	now     func() time.Time

	mu          sync.Mutex
	inflight    *refreshFlight
	snapshot    Snapshot
	hasSnapshot bool
}

// refreshFlight carries one fetch cycle's outcome to every caller that
// coalesced into it. snap and err are written before done is closed and
// never after.
type refreshFlight struct {
	done chan struct{}
	snap Snapshot
	err  error
}

func NewFeed(client api.Client, sess *session.Session, logger *logrus.Logger) *Feed {
	return &Feed{
		client:  client,
		session: sess,
		logger:  logger,
		now:     time.Now,
	}
}

// Refresh fetches profile, assignments and active alerts, in that order,
// then partitions by alert-id set difference. Assignments must be known
// before the exclusion filter runs, or a just-claimed alert could reappear
// as available for one cycle.
//
// Concurrent callers coalesce into the single outstanding fetch; each
// caller receives that exact cycle's result, never a later one's.
//
// Returned snapshots are detached copies: overlays applied after Refresh
// returns never rewrite a snapshot a caller already holds.
func (f *Feed) Refresh(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	if f.inflight != nil {
		fl := f.inflight
		f.mu.Unlock()
		select {
		case <-fl.done:
			return copySnapshot(fl.snap), fl.err
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
	fl := &refreshFlight{done: make(chan struct{})}
	f.inflight = fl
	f.mu.Unlock()

	snap, err := f.fetch(ctx)

	f.mu.Lock()
	if err == nil {
		f.snapshot = snap
		f.hasSnapshot = true
	} else {
		snap = f.snapshot
	}
	f.inflight = nil
	fl.snap = copySnapshot(snap)
	fl.err = err
	f.mu.Unlock()
	close(fl.done)

	return copySnapshot(snap), err
}

func (f *Feed) fetch(ctx context.Context) (Snapshot, error) {
	// Profile re-fetch failure is non-fatal: the session keeps its last
	// known responder.
	f.session.Load(ctx)

	assignments, err := f.client.Assignments(ctx)
	if err != nil {
		f.logger.WithError(err).Warn("assignments fetch failed")
		return Snapshot{}, err
	}

	alerts, err := f.client.ActiveAlerts(ctx)
	if err != nil {
		f.logger.WithError(err).Warn("active alerts fetch failed")
		return Snapshot{}, err
	}

	claimed := make(map[string]struct{}, len(assignments))
	for _, r := range assignments {
		claimed[r.AlertID] = struct{}{}
	}

	snap := Snapshot{RefreshedAt: f.now()}
	for _, r := range assignments {
		if !r.Status.Terminal() {
			snap.Assigned = append(snap.Assigned, r)
		}
	}
	for _, a := range alerts {
		if _, ok := claimed[a.ID]; !ok {
			snap.Available = append(snap.Available, a)
		}
	}
	snap.Stats = dayStats(assignments, f.now())

	f.logger.WithFields(logrus.Fields{
		"assigned":  len(snap.Assigned),
		"available": len(snap.Available),
	}).Debug("feed refreshed")
	return snap, nil
}

// Snapshot returns the last published snapshot. Slices are copied so
// callers cannot race the next refresh.
func (f *Feed) Snapshot() (Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasSnapshot {
		return Snapshot{}, false
	}
	return copySnapshot(f.snapshot), true
}

// AssignedResponse looks up a non-terminal response by id in the current
// snapshot.
func (f *Feed) AssignedResponse(id string) (model.EmergencyResponse, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.snapshot.Assigned {
		if r.ID == id {
			return r, true
		}
	}
	return model.EmergencyResponse{}, false
}

// AvailableAlert looks up an alert by id in the available partition.
func (f *Feed) AvailableAlert(id string) (model.EmergencyAlert, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.snapshot.Available {
		if a.ID == id {
			return a, true
		}
	}
	return model.EmergencyAlert{}, false
}

// ApplyClaim overlays a just-confirmed claim onto the snapshot: the alert
// leaves the available partition and its response joins the assigned one.
// The next refresh overwrites the overlay with the authoritative answer.
func (f *Feed) ApplyClaim(resp model.EmergencyResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// filter into a fresh slice: handed-out snapshots share the old backing
	avail := make([]model.EmergencyAlert, 0, len(f.snapshot.Available))
	for _, a := range f.snapshot.Available {
		if a.ID != resp.AlertID {
			avail = append(avail, a)
		}
	}
	f.snapshot.Available = avail
	f.applyResponseLocked(resp)
}

// ApplyResponse overlays a confirmed status change onto the snapshot.
func (f *Feed) ApplyResponse(resp model.EmergencyResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyResponseLocked(resp)
}

func (f *Feed) applyResponseLocked(resp model.EmergencyResponse) {
	assigned := make([]model.EmergencyResponse, 0, len(f.snapshot.Assigned)+1)
	replaced := false
	for _, r := range f.snapshot.Assigned {
		switch {
		case r.ID != resp.ID:
			assigned = append(assigned, r)
		case !resp.Status.Terminal():
			assigned = append(assigned, resp)
			replaced = true
		default:
			replaced = true
		}
	}
	if !replaced && !resp.Status.Terminal() {
		assigned = append(assigned, resp)
	}
	f.snapshot.Assigned = assigned
}

func dayStats(assignments []model.EmergencyResponse, now time.Time) DayStats {
	var stats DayStats
	var totalMinutes float64
	var timed int

	for _, r := range assignments {
		if r.AcceptedAt != nil && sameDay(*r.AcceptedAt, now) {
			stats.Assigned++
		}
		if r.CompletedAt != nil && sameDay(*r.CompletedAt, now) {
			stats.Completed++
			if r.AcceptedAt != nil {
				totalMinutes += r.CompletedAt.Sub(*r.AcceptedAt).Minutes()
				timed++
			}
		}
	}
	if timed > 0 {
		stats.AvgHandleMinutes = totalMinutes / float64(timed)
	}
	return stats
}

// Days are compared in UTC to match the authority's day bucketing.
func sameDay(t, ref time.Time) bool {
	y1, m1, d1 := t.UTC().Date()
	y2, m2, d2 := ref.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func copySnapshot(s Snapshot) Snapshot {
	out := s
	out.Assigned = append([]model.EmergencyResponse(nil), s.Assigned...)
	out.Available = append([]model.EmergencyAlert(nil), s.Available...)
	return out
}
