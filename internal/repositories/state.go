package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/desertthunder/evpn/internal/models"
)

// Keys of the durable key/value store.
const (
	KeyConnection       = "connection"
	KeySelectedLocation = "selectedLocation"
	KeyEndpoint         = "endpoint"
	KeyBadge            = "badge"
	KeyUserPackage      = "userPackage"
	KeySession          = "session"
	KeyLastFailure      = "lastFailure"
)

// SmartLocation is stored under [KeySelectedLocation] when no location is pinned.
const SmartLocation = "smart-location"

// PersistedState is everything hydration needs, read in one query.
type PersistedState struct {
	Connected   bool
	Selected    *models.Location
	Endpoint    *models.Endpoint
	Badge       models.Badge
	Entitlement models.Entitlement
	Session     models.Session
	LastFailure *models.FailureRecord
}

// StateRepository is the durable key/value store. Values are JSON documents.
type StateRepository struct {
	db *sql.DB
}

// NewStateRepository creates a new [StateRepository] with the given database connection
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

type entry struct {
	key   string
	value any
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func put(ctx context.Context, ex execer, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	query := `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := ex.ExecContext(ctx, query, key, string(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// set writes all entries atomically.
func (r *StateRepository) set(ctx context.Context, entries ...entry) error {
	if len(entries) == 1 {
		return put(ctx, r.db, entries[0].key, entries[0].value)
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, e := range entries {
			if err := put(ctx, tx, e.key, e.value); err != nil {
				return err
			}
		}
		return nil
	})
}

// get decodes the value under key into dst and reports whether it existed.
func (r *StateRepository) get(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (r *StateRepository) remove(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := r.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", k); err != nil {
			return fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	return nil
}

// Connection returns the persisted connection flag, false when unset.
func (r *StateRepository) Connection(ctx context.Context) (bool, error) {
	var on bool
	_, err := r.get(ctx, KeyConnection, &on)
	return on, err
}

// SetConnection persists only the connection flag.
func (r *StateRepository) SetConnection(ctx context.Context, on bool) error {
	return r.set(ctx, entry{KeyConnection, on})
}

// CommitConnected writes the connected flag, its endpoint and badge together.
func (r *StateRepository) CommitConnected(ctx context.Context, ep models.Endpoint, badge models.Badge) error {
	return r.set(ctx, entry{KeyConnection, true}, entry{KeyEndpoint, ep}, entry{KeyBadge, badge})
}

// CommitDisconnected writes the disconnected flag and badge and drops the endpoint.
func (r *StateRepository) CommitDisconnected(ctx context.Context, badge models.Badge) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := put(ctx, tx, KeyConnection, false); err != nil {
			return err
		}
		if err := put(ctx, tx, KeyBadge, badge); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", KeyEndpoint); err != nil {
			return fmt.Errorf("failed to delete %s: %w", KeyEndpoint, err)
		}
		return nil
	})
}

// decodeSelection maps the stored value to a location, nil meaning smart selection.
func decodeSelection(raw []byte) (*models.Location, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == SmartLocation || s == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected selected location %q", s)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	var loc models.Location
	if err := json.Unmarshal(raw, &loc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", KeySelectedLocation, err)
	}
	return &loc, nil
}

// SelectedLocation returns the pinned location, or nil for smart selection.
func (r *StateRepository) SelectedLocation(ctx context.Context) (*models.Location, error) {
	var raw json.RawMessage
	ok, err := r.get(ctx, KeySelectedLocation, &raw)
	if err != nil || !ok {
		return nil, err
	}
	return decodeSelection(raw)
}

// SetSelectedLocation persists loc, or the smart-location marker when loc is nil.
func (r *StateRepository) SetSelectedLocation(ctx context.Context, loc *models.Location) error {
	if loc == nil {
		return r.set(ctx, entry{KeySelectedLocation, SmartLocation})
	}
	return r.set(ctx, entry{KeySelectedLocation, *loc})
}

// Endpoint returns the endpoint of the last successful connect, if still connected.
func (r *StateRepository) Endpoint(ctx context.Context) (*models.Endpoint, error) {
	var ep models.Endpoint
	ok, err := r.get(ctx, KeyEndpoint, &ep)
	if err != nil || !ok {
		return nil, err
	}
	return &ep, nil
}

// Badge returns the persisted indicator, defaulting to the disconnected badge.
func (r *StateRepository) Badge(ctx context.Context) (models.Badge, error) {
	badge := models.BadgeFor(false, "")
	_, err := r.get(ctx, KeyBadge, &badge)
	return badge, err
}

// Entitlement returns the cached user package; absent when never fetched or cleared.
func (r *StateRepository) Entitlement(ctx context.Context) (models.Entitlement, error) {
	var e models.Entitlement
	_, err := r.get(ctx, KeyUserPackage, &e)
	return e, err
}

// SetEntitlement caches the user package. An absent entitlement is stored as null.
func (r *StateRepository) SetEntitlement(ctx context.Context, e models.Entitlement) error {
	return r.set(ctx, entry{KeyUserPackage, e})
}

// Session returns the durable login session.
func (r *StateRepository) Session(ctx context.Context) (models.Session, error) {
	var s models.Session
	_, err := r.get(ctx, KeySession, &s)
	return s, err
}

// SetSession stores a fresh login and resets the flags a new login starts from:
// disconnected with smart selection.
func (r *StateRepository) SetSession(ctx context.Context, s models.Session) error {
	return r.set(ctx,
		entry{KeySession, s},
		entry{KeyConnection, false},
		entry{KeySelectedLocation, SmartLocation},
	)
}

// LastFailure returns the recorded failed operation, nil when none.
func (r *StateRepository) LastFailure(ctx context.Context) (*models.FailureRecord, error) {
	var rec models.FailureRecord
	ok, err := r.get(ctx, KeyLastFailure, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// SetLastFailure replaces the recorded failed operation.
func (r *StateRepository) SetLastFailure(ctx context.Context, rec models.FailureRecord) error {
	return r.set(ctx, entry{KeyLastFailure, rec})
}

// ClearLastFailure forgets the recorded failed operation.
func (r *StateRepository) ClearLastFailure(ctx context.Context) error {
	return r.remove(ctx, KeyLastFailure)
}

// Load reads every hydration key in one pass.
func (r *StateRepository) Load(ctx context.Context) (*PersistedState, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value FROM kv")
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	defer rows.Close()

	st := &PersistedState{Badge: models.BadgeFor(false, "")}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		if err := st.decode(key, []byte(value)); err != nil {
			return nil, err
		}
	}
	return st, rows.Err()
}

func (st *PersistedState) decode(key string, raw []byte) error {
	var err error
	switch key {
	case KeyConnection:
		err = json.Unmarshal(raw, &st.Connected)
	case KeySelectedLocation:
		st.Selected, err = decodeSelection(raw)
	case KeyEndpoint:
		st.Endpoint = &models.Endpoint{}
		err = json.Unmarshal(raw, st.Endpoint)
	case KeyBadge:
		err = json.Unmarshal(raw, &st.Badge)
	case KeyUserPackage:
		err = json.Unmarshal(raw, &st.Entitlement)
	case KeySession:
		err = json.Unmarshal(raw, &st.Session)
	case KeyLastFailure:
		st.LastFailure = &models.FailureRecord{}
		err = json.Unmarshal(raw, st.LastFailure)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// Clear wipes every key. Used on logout.
func (r *StateRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM kv"); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	return nil
}
