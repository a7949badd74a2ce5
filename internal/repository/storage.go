package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"emergency-response/internal/config"
	"emergency-response/internal/model"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// ErrAlreadyClaimed means another responder's claim landed first. The
// partial unique index on responses(alert_id) is the arbiter.
var ErrAlreadyClaimed = errors.New("alert already claimed by another responder")

const webhookQueueKey = "notifications:webhook:queue"

type PostgresRepo struct {
	db *sql.DB
}

type RedisCache struct {
	cache *redis.Client
}

type Storage struct {
	repo  *PostgresRepo
	cache *RedisCache
}

func NewPostgresRepo(dbURL string) (*PostgresRepo, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PostgresRepo{db: db}, nil
}

func NewRedisCache(ctx context.Context, cfg config.RedisConfig) (*RedisCache, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		Username:     cfg.User,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis server: %w", err)
	}

	return &RedisCache{cache: client}, nil
}

func NewStorage(dbURL string, redisCfg config.RedisConfig) (*Storage, error) {
	postgres, err := NewPostgresRepo(dbURL)
	if err != nil {
		return nil, err
	}
	redisCache, err := NewRedisCache(context.Background(), redisCfg)
	if err != nil {
		return nil, err
	}
	return &Storage{
		repo:  postgres,
		cache: redisCache,
	}, nil
}

func (s *Storage) CreateTables(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS responders (
    id         UUID PRIMARY KEY,
    name       TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'offline',
    latitude   DOUBLE PRECISION,
    longitude  DOUBLE PRECISION,
    location   TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS alerts (
    id           UUID PRIMARY KEY,
    type         TEXT NOT NULL,
    severity     TEXT NOT NULL DEFAULT 'medium',
    status       TEXT NOT NULL DEFAULT 'active',
    address      TEXT NOT NULL DEFAULT '',
    latitude     DOUBLE PRECISION NOT NULL DEFAULT 0,
    longitude    DOUBLE PRECISION NOT NULL DEFAULT 0,
    victim_id    TEXT NOT NULL DEFAULT '',
    media_urls   JSONB,
    contacts     JSONB,
    locations    JSONB,
    activated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS responses (
    id            UUID PRIMARY KEY,
    alert_id      UUID NOT NULL REFERENCES alerts (id),
    responder_id  UUID NOT NULL REFERENCES responders (id),
    status        TEXT NOT NULL DEFAULT 'notified',
    eta_minutes   INTEGER NOT NULL DEFAULT 0,
    notes         TEXT NOT NULL DEFAULT '',
    notified_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    accepted_at   TIMESTAMPTZ,
    dispatched_at TIMESTAMPTZ,
    arrived_at    TIMESTAMPTZ,
    completed_at  TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS responses_single_claim
    ON responses (alert_id) WHERE status <> 'completed';

CREATE TABLE IF NOT EXISTS notifications (
    id           UUID PRIMARY KEY,
    responder_id UUID NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    message      TEXT NOT NULL DEFAULT '',
    type         TEXT NOT NULL DEFAULT 'info',
    is_read      BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	_, err := s.repo.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (s *Storage) GetResponder(ctx context.Context, id string) (*model.Responder, error) {
	query := `
SELECT id, name, status, latitude, longitude, location
FROM responders
WHERE id = $1;
`
	var r model.Responder
	err := s.repo.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID,
		&r.Name,
		&r.Status,
		&r.Latitude,
		&r.Longitude,
		&r.Location,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Storage) CreateResponder(ctx context.Context, r *model.Responder) error {
	query := `
INSERT INTO responders (id, name, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING;
`
	_, err := s.repo.db.ExecContext(ctx, query, r.ID, r.Name, r.Status)
	return err
}

func (s *Storage) UpdateResponderStatus(ctx context.Context, id string, status model.ResponderStatus, pos *model.Position) error {
	if pos != nil {
		query := `
UPDATE responders
SET status = $1,
    latitude = $2,
    longitude = $3,
    location = $4,
    updated_at = NOW()
WHERE id = $5;
`
		_, err := s.repo.db.ExecContext(ctx, query, status, pos.Latitude, pos.Longitude, pos.Address, id)
		return err
	}

	query := `
UPDATE responders
SET status = $1,
    updated_at = NOW()
WHERE id = $2;
`
	_, err := s.repo.db.ExecContext(ctx, query, status, id)
	return err
}

func (s *Storage) CreateAlert(ctx context.Context, a *model.EmergencyAlert) error {
	mediaURLs, contacts, locations, err := marshalAlertDocs(a)
	if err != nil {
		return err
	}

	query := `
INSERT INTO alerts (id, type, severity, status, address, latitude, longitude, victim_id,
                    media_urls, contacts, locations)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING activated_at;
`
	row := s.repo.db.QueryRowContext(ctx, query,
		a.ID,
		a.Type,
		a.Severity,
		a.Status,
		a.Address,
		a.Latitude,
		a.Longitude,
		a.VictimID,
		mediaURLs,
		contacts,
		locations,
	)
	return row.Scan(&a.ActivatedAt)
}

func (s *Storage) GetAlert(ctx context.Context, id string) (*model.EmergencyAlert, error) {
	query := `
SELECT id, type, severity, status, address, latitude, longitude, victim_id,
       media_urls, contacts, locations, activated_at
FROM alerts
WHERE id = $1;
`
	var a model.EmergencyAlert
	var mediaURLs, contacts, locations []byte
	err := s.repo.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID,
		&a.Type,
		&a.Severity,
		&a.Status,
		&a.Address,
		&a.Latitude,
		&a.Longitude,
		&a.VictimID,
		&mediaURLs,
		&contacts,
		&locations,
		&a.ActivatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalAlertDocs(&a, mediaURLs, contacts, locations); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListActiveAlerts returns every active alert, including ones already
// claimed by other responders; the claim race resolves at write time, not
// at read time.
func (s *Storage) ListActiveAlerts(ctx context.Context) ([]model.EmergencyAlert, error) {
	query := `
SELECT id, type, severity, status, address, latitude, longitude, victim_id,
       media_urls, contacts, locations, activated_at
FROM alerts
WHERE status = 'active'
ORDER BY activated_at DESC;
`
	rows, err := s.repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.EmergencyAlert
	for rows.Next() {
		var a model.EmergencyAlert
		var mediaURLs, contacts, locations []byte
		if err := rows.Scan(
			&a.ID,
			&a.Type,
			&a.Severity,
			&a.Status,
			&a.Address,
			&a.Latitude,
			&a.Longitude,
			&a.VictimID,
			&mediaURLs,
			&contacts,
			&locations,
			&a.ActivatedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalAlertDocs(&a, mediaURLs, contacts, locations); err != nil {
			return nil, err
		}
		result = append(result, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateResponse inserts a claim. First writer wins: a second non-terminal
// claim on the same alert violates responses_single_claim and maps to
// ErrAlreadyClaimed.
func (s *Storage) CreateResponse(ctx context.Context, id, alertID, responderID, notes string) (*model.EmergencyResponse, error) {
	query := `
INSERT INTO responses (id, alert_id, responder_id, notes)
VALUES ($1, $2, $3, $4)
RETURNING notified_at;
`
	r := model.EmergencyResponse{
		ID:          id,
		AlertID:     alertID,
		ResponderID: responderID,
		Status:      model.StatusNotified,
		Notes:       notes,
	}
	var notifiedAt time.Time
	err := s.repo.db.QueryRowContext(ctx, query, id, alertID, responderID, notes).Scan(&notifiedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrAlreadyClaimed
		}
		return nil, err
	}
	r.NotifiedAt = &notifiedAt
	return &r, nil
}

func (s *Storage) GetResponse(ctx context.Context, id string) (*model.EmergencyResponse, error) {
	query := `
SELECT id, alert_id, responder_id, status, eta_minutes, notes,
       notified_at, accepted_at, dispatched_at, arrived_at, completed_at
FROM responses
WHERE id = $1;
`
	var r model.EmergencyResponse
	err := s.repo.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID,
		&r.AlertID,
		&r.ResponderID,
		&r.Status,
		&r.ETAMinutes,
		&r.Notes,
		&r.NotifiedAt,
		&r.AcceptedAt,
		&r.DispatchedAt,
		&r.ArrivedAt,
		&r.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// marshalAlertDocs encodes the alert's document-valued fields (media,
// victim contacts, location trail) for the jsonb columns.
func marshalAlertDocs(a *model.EmergencyAlert) (mediaURLs, contacts, locations []byte, err error) {
	if mediaURLs, err = json.Marshal(a.MediaURLs); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal media_urls: %w", err)
	}
	if contacts, err = json.Marshal(a.Contacts); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal contacts: %w", err)
	}
	if locations, err = json.Marshal(a.Locations); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal locations: %w", err)
	}
	return mediaURLs, contacts, locations, nil
}

func unmarshalAlertDocs(a *model.EmergencyAlert, mediaURLs, contacts, locations []byte) error {
	if len(mediaURLs) > 0 {
		if err := json.Unmarshal(mediaURLs, &a.MediaURLs); err != nil {
			return fmt.Errorf("unmarshal media_urls: %w", err)
		}
	}
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &a.Contacts); err != nil {
			return fmt.Errorf("unmarshal contacts: %w", err)
		}
	}
	if len(locations) > 0 {
		if err := json.Unmarshal(locations, &a.Locations); err != nil {
			return fmt.Errorf("unmarshal locations: %w", err)
		}
	}
	return nil
}

// timestampColumn maps each status to the column stamped when it is first
// reached. Columns advance monotonically and are never reset.
func timestampColumn(status model.ResponseStatus) string {
	switch status {
	case model.StatusAccepted:
		return "accepted_at"
	case model.StatusEnRoute:
		return "dispatched_at"
	case model.StatusOnScene:
		return "arrived_at"
	case model.StatusCompleted:
		return "completed_at"
	}
	return ""
}

func (s *Storage) UpdateResponseStatus(ctx context.Context, id string, status model.ResponseStatus, notes string, etaMinutes int) error {
	column := timestampColumn(status)
	if column == "" {
		return fmt.Errorf("no timestamp column for status %q", status)
	}

	query := fmt.Sprintf(`
UPDATE responses
SET status = $1,
    eta_minutes = $2,
    notes = CASE WHEN $3 <> '' THEN $3 ELSE notes END,
    %s = COALESCE(%s, NOW())
WHERE id = $4;
`, column, column)

	_, err := s.repo.db.ExecContext(ctx, query, status, etaMinutes, notes, id)
	return err
}

// ListAssignments returns a responder's non-terminal responses plus the
// ones completed today (the feed's same-day counters need those), each
// joined with its alert.
func (s *Storage) ListAssignments(ctx context.Context, responderID string) ([]model.EmergencyResponse, error) {
	query := `
SELECT r.id, r.alert_id, r.responder_id, r.status, r.eta_minutes, r.notes,
       r.notified_at, r.accepted_at, r.dispatched_at, r.arrived_at, r.completed_at,
       a.id, a.type, a.severity, a.status, a.address, a.latitude, a.longitude, a.victim_id,
       a.media_urls, a.contacts, a.locations, a.activated_at
FROM responses r
JOIN alerts a ON a.id = r.alert_id
WHERE r.responder_id = $1
  AND (r.status <> 'completed' OR r.completed_at >= date_trunc('day', NOW()))
ORDER BY r.notified_at DESC;
`
	rows, err := s.repo.db.QueryContext(ctx, query, responderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.EmergencyResponse
	for rows.Next() {
		var r model.EmergencyResponse
		var a model.EmergencyAlert
		var mediaURLs, contacts, locations []byte
		if err := rows.Scan(
			&r.ID,
			&r.AlertID,
			&r.ResponderID,
			&r.Status,
			&r.ETAMinutes,
			&r.Notes,
			&r.NotifiedAt,
			&r.AcceptedAt,
			&r.DispatchedAt,
			&r.ArrivedAt,
			&r.CompletedAt,
			&a.ID,
			&a.Type,
			&a.Severity,
			&a.Status,
			&a.Address,
			&a.Latitude,
			&a.Longitude,
			&a.VictimID,
			&mediaURLs,
			&contacts,
			&locations,
			&a.ActivatedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalAlertDocs(&a, mediaURLs, contacts, locations); err != nil {
			return nil, err
		}
		r.Alert = &a
		result = append(result, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Storage) CreateNotification(ctx context.Context, n *model.Notification, responderID string) error {
	query := `
INSERT INTO notifications (id, responder_id, title, message, type)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at;
`
	row := s.repo.db.QueryRowContext(ctx, query, n.ID, responderID, n.Title, n.Message, n.Type)
	if err := row.Scan(&n.CreatedAt); err != nil {
		return err
	}
	return s.cache.cache.Incr(ctx, unreadKey(responderID)).Err()
}

func (s *Storage) ListNotifications(ctx context.Context, responderID string) ([]model.Notification, error) {
	query := `
SELECT id, title, message, type, is_read, created_at
FROM notifications
WHERE responder_id = $1
ORDER BY created_at DESC;
`
	rows, err := s.repo.db.QueryContext(ctx, query, responderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(
			&n.ID,
			&n.Title,
			&n.Message,
			&n.Type,
			&n.IsRead,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UnreadCount reads the authoritative counter from Redis.
func (s *Storage) UnreadCount(ctx context.Context, responderID string) (int, error) {
	val, err := s.cache.cache.Get(ctx, unreadKey(responderID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if val < 0 {
		return 0, nil
	}
	return val, nil
}

// MarkNotificationRead flips the row and decrements the counter only when
// the flip actually changed something, so re-sends are no-ops.
func (s *Storage) MarkNotificationRead(ctx context.Context, id, responderID string) error {
	query := `
UPDATE notifications
SET is_read = TRUE
WHERE id = $1 AND responder_id = $2 AND is_read = FALSE;
`
	res, err := s.repo.db.ExecContext(ctx, query, id, responderID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil || affected == 0 {
		return err
	}

	val, err := s.cache.cache.Decr(ctx, unreadKey(responderID)).Result()
	if err != nil {
		return err
	}
	if val < 0 {
		return s.cache.cache.Set(ctx, unreadKey(responderID), 0, 0).Err()
	}
	return nil
}

// EnqueueWebhookTask queues a notification payload for the fan-out worker.
func (s *Storage) EnqueueWebhookTask(ctx context.Context, payload []byte) error {
	return s.cache.cache.LPush(ctx, webhookQueueKey, payload).Err()
}

// BLPopWebhookTask blocks up to timeout waiting for the next fan-out task.
func (s *Storage) BLPopWebhookTask(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := s.cache.cache.BLPop(ctx, timeout, webhookQueueKey).Result()
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", fmt.Errorf("unexpected BLPop reply: %v", res)
	}
	return res[1], nil
}

type HealthError struct {
	DBError    error
	RedisError error
}

func (s *Storage) Ping(ctx context.Context) *HealthError {
	he := &HealthError{
		DBError:    s.repo.db.PingContext(ctx),
		RedisError: s.cache.cache.Ping(ctx).Err(),
	}
	if he.DBError == nil && he.RedisError == nil {
		return nil
	}
	return he
}

func (s *Storage) Close() error {
	var errPostgres, errRedis error

	if s.repo != nil && s.repo.db != nil {
		errPostgres = s.repo.db.Close()
	}
	if s.cache != nil && s.cache.cache != nil {
		errRedis = s.cache.cache.Close()
	}

	if errPostgres != nil || errRedis != nil {
		return fmt.Errorf("close errors: postgres=%v, redis=%v", errPostgres, errRedis)
	}
	return nil
}

func unreadKey(responderID string) string {
	return "notifications:unread:" + responderID
}
