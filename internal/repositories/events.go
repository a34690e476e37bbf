package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/shared"
)

// EventRepository appends outcome events for `evpn history`.
type EventRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewEventRepository creates a new [EventRepository] with the given database connection
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db, now: time.Now}
}

// Append stores one event and returns it with its generated id.
func (r *EventRepository) Append(ctx context.Context, kind, source, message string) (models.Event, error) {
	ev := models.Event{
		ID:        shared.GenerateID(),
		Kind:      kind,
		Source:    source,
		Message:   message,
		CreatedAt: r.now().UTC(),
	}

	query := `INSERT INTO events (id, kind, source, message, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, ev.ID, ev.Kind, ev.Source, ev.Message, ev.CreatedAt); err != nil {
		return models.Event{}, fmt.Errorf("failed to insert event: %w", err)
	}
	return ev, nil
}

// List returns the newest events first, at most limit of them (all when limit <= 0).
func (r *EventRepository) List(ctx context.Context, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, source, message, created_at FROM events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Source, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Prune deletes events older than the cutoff and returns how many were removed.
func (r *EventRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM events WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return res.RowsAffected()
}
