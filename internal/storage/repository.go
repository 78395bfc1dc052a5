package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	alertColumns = `id::text, user_id::text, type, symbol, threshold::text, direction, enabled, triggered_at, created_at, updated_at`

	insertAlertSQL = `INSERT INTO alerts (user_id, type, symbol, threshold, direction, enabled)
    VALUES ($1, $2, $3, $4::numeric, $5, $6)
    RETURNING ` + alertColumns + `;`

	getAlertSQL = `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1;`

	listAlertsByUserSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE user_id = $1
    ORDER BY created_at DESC;`

	listEnabledAlertsSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE enabled
    ORDER BY created_at;`

	updateAlertSQL = `UPDATE alerts
    SET symbol = $2,
        threshold = $3::numeric,
        direction = $4,
        enabled = $5,
        updated_at = NOW()
    WHERE id = $1
    RETURNING ` + alertColumns + `;`

	markTriggeredSQL = `UPDATE alerts SET triggered_at = $2, updated_at = NOW() WHERE id = $1;`

	deleteAlertSQL = `DELETE FROM alerts WHERE id = $1;`

	upsertPushTokenSQL = `INSERT INTO push_tokens (user_id, token, platform)
    VALUES ($1, $2, $3)
    ON CONFLICT (token) DO UPDATE
    SET user_id = EXCLUDED.user_id,
        platform = EXCLUDED.platform
    RETURNING id::text, user_id::text, token, platform, created_at;`

	listPushTokensSQL = `SELECT id::text, user_id::text, token, platform, created_at
    FROM push_tokens
    WHERE user_id = $1
    ORDER BY created_at;`

	deletePushTokenSQL = `DELETE FROM push_tokens WHERE token = $1;`

	upsertProfileSQL = `INSERT INTO profiles (id, display_name)
    VALUES (COALESCE(NULLIF($1::text, '')::uuid, gen_random_uuid()), $2)
    ON CONFLICT (id) DO UPDATE
    SET display_name = EXCLUDED.display_name
    RETURNING id::text, display_name, created_at;`

	getProfileSQL = `SELECT id::text, display_name, created_at FROM profiles WHERE id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore is what the evaluator needs from persistence.
type AlertStore interface {
	ListEnabledAlerts(ctx context.Context) ([]Alert, error)
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

// PushTokenStore resolves device tokens for a user.
type PushTokenStore interface {
	ListPushTokens(ctx context.Context, userID string) ([]PushToken, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the pgx-backed row store for alerts, push tokens and profiles.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// CreateAlert inserts a new alert and returns the stored row.
func (s *Store) CreateAlert(ctx context.Context, alert Alert) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.UserID,
		string(alert.Type),
		alert.Symbol,
		alert.Threshold.String(),
		string(alert.Direction),
		alert.Enabled,
	)
	created, err := scanAlert(row)
	if err != nil {
		return Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return created, nil
}

// GetAlert loads one alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	alert, err := scanAlert(pool.QueryRow(ctx, getAlertSQL, id))
	if err != nil {
		return Alert{}, fmt.Errorf("get alert %s: %w", id, notFound(err))
	}
	return alert, nil
}

// ListAlertsByUser lists a user's alerts, newest first.
func (s *Store) ListAlertsByUser(ctx context.Context, userID string) ([]Alert, error) {
	return s.queryAlerts(ctx, "list alerts by user", listAlertsByUserSQL, userID)
}

// ListEnabledAlerts lists every enabled alert.
func (s *Store) ListEnabledAlerts(ctx context.Context) ([]Alert, error) {
	return s.queryAlerts(ctx, "list enabled alerts", listEnabledAlertsSQL)
}

// UpdateAlert rewrites the mutable fields of an alert.
func (s *Store) UpdateAlert(ctx context.Context, alert Alert) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	row := pool.QueryRow(ctx, updateAlertSQL,
		alert.ID,
		alert.Symbol,
		alert.Threshold.String(),
		string(alert.Direction),
		alert.Enabled,
	)
	updated, err := scanAlert(row)
	if err != nil {
		return Alert{}, fmt.Errorf("update alert %s: %w", alert.ID, notFound(err))
	}
	return updated, nil
}

// MarkTriggered records the time an alert last fired.
func (s *Store) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, "mark alert triggered", markTriggeredSQL, id, at)
}

// DeleteAlert removes an alert.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	return s.execOne(ctx, "delete alert", deleteAlertSQL, id)
}

// UpsertPushToken registers token for a user, moving it if another user held it.
func (s *Store) UpsertPushToken(ctx context.Context, token PushToken) (PushToken, error) {
	pool, err := s.getPool()
	if err != nil {
		return PushToken{}, err
	}
	var out PushToken
	if err := pool.QueryRow(ctx, upsertPushTokenSQL, token.UserID, token.Token, token.Platform).Scan(
		&out.ID, &out.UserID, &out.Token, &out.Platform, &out.CreatedAt,
	); err != nil {
		return PushToken{}, fmt.Errorf("upsert push token: %w", err)
	}
	return out, nil
}

// ListPushTokens lists a user's device tokens.
func (s *Store) ListPushTokens(ctx context.Context, userID string) ([]PushToken, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listPushTokensSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list push tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]PushToken, 0)
	for rows.Next() {
		var t PushToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tokens, nil
}

// DeletePushToken unregisters a device token.
func (s *Store) DeletePushToken(ctx context.Context, token string) error {
	return s.execOne(ctx, "delete push token", deletePushTokenSQL, token)
}

// UpsertProfile creates or renames a profile. An empty ID gets a generated one.
func (s *Store) UpsertProfile(ctx context.Context, profile Profile) (Profile, error) {
	pool, err := s.getPool()
	if err != nil {
		return Profile{}, err
	}
	var out Profile
	if err := pool.QueryRow(ctx, upsertProfileSQL, profile.ID, profile.DisplayName).Scan(
		&out.ID, &out.DisplayName, &out.CreatedAt,
	); err != nil {
		return Profile{}, fmt.Errorf("upsert profile: %w", err)
	}
	return out, nil
}

// GetProfile loads a profile by id.
func (s *Store) GetProfile(ctx context.Context, id string) (Profile, error) {
	pool, err := s.getPool()
	if err != nil {
		return Profile{}, err
	}
	var out Profile
	if err := pool.QueryRow(ctx, getProfileSQL, id).Scan(&out.ID, &out.DisplayName, &out.CreatedAt); err != nil {
		return Profile{}, fmt.Errorf("get profile %s: %w", id, notFound(err))
	}
	return out, nil
}

func (s *Store) queryAlerts(ctx context.Context, op, query string, args ...any) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		alert        Alert
		alertType    string
		direction    string
		thresholdStr string
	)
	if err := row.Scan(
		&alert.ID,
		&alert.UserID,
		&alertType,
		&alert.Symbol,
		&thresholdStr,
		&direction,
		&alert.Enabled,
		&alert.TriggeredAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		return Alert{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return Alert{}, fmt.Errorf("parse threshold: %w", err)
	}
	alert.Threshold = threshold
	alert.Type = AlertType(alertType)
	alert.Direction = Direction(direction)
	return alert, nil
}

var (
	_ AlertStore     = (*Store)(nil)
	_ PushTokenStore = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
