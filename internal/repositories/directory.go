package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/shared"
)

// DirectoryRepository caches the endpoint directory in stored order.
type DirectoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewDirectoryRepository creates a new [DirectoryRepository] with the given database connection
func NewDirectoryRepository(db *sql.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db, now: time.Now}
}

// Replace swaps the cached directory for dir in one transaction.
//
// A directory with duplicate ids is rejected and the previous cache is kept.
func (r *DirectoryRepository) Replace(ctx context.Context, dir models.Directory) error {
	if err := dir.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrDuplicateID, err)
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM locations"); err != nil {
			return fmt.Errorf("failed to clear locations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM countries"); err != nil {
			return fmt.Errorf("failed to clear countries: %w", err)
		}

		countryStmt, err := tx.PrepareContext(ctx, "INSERT INTO countries (position, country_name, flag) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer countryStmt.Close()

		locStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO locations (id, country_position, position, name, is_default) VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer locStmt.Close()

		for ci, c := range dir {
			if _, err := countryStmt.ExecContext(ctx, ci, c.CountryName, c.Flag); err != nil {
				return fmt.Errorf("failed to insert country %q: %w", c.CountryName, err)
			}
			for li, l := range c.Locations {
				if _, err := locStmt.ExecContext(ctx, string(l.ID), ci, li, l.Name, l.IsDefault); err != nil {
					return fmt.Errorf("failed to insert location %q: %w", l.ID, err)
				}
			}
		}

		query := `
			INSERT INTO directory_meta (id, fetched_at) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET fetched_at = excluded.fetched_at
		`
		if _, err := tx.ExecContext(ctx, query, r.now().UTC()); err != nil {
			return fmt.Errorf("failed to record fetch time: %w", err)
		}
		return nil
	})
}

// Load returns the cached directory. An empty cache yields an empty directory.
func (r *DirectoryRepository) Load(ctx context.Context) (models.Directory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.position, c.country_name, c.flag, l.id, l.name, l.is_default
		FROM countries c
		LEFT JOIN locations l ON l.country_position = c.position
		ORDER BY c.position, l.position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query directory: %w", err)
	}
	defer rows.Close()

	dir := models.Directory{}
	last := -1
	for rows.Next() {
		var (
			position  int
			name      string
			flag      string
			id        sql.NullString
			locName   sql.NullString
			isDefault sql.NullBool
		)
		if err := rows.Scan(&position, &name, &flag, &id, &locName, &isDefault); err != nil {
			return nil, fmt.Errorf("failed to scan directory: %w", err)
		}
		if position != last {
			dir = append(dir, models.Country{CountryName: name, Flag: flag, Locations: []models.LocationEntry{}})
			last = position
		}
		if id.Valid {
			c := &dir[len(dir)-1]
			c.Locations = append(c.Locations, models.LocationEntry{
				ID:        models.ID(id.String),
				Name:      locName.String,
				IsDefault: isDefault.Bool,
			})
		}
	}
	return dir, rows.Err()
}

// FetchedAt reports when the cache was last replaced; zero when never.
func (r *DirectoryRepository) FetchedAt(ctx context.Context) (time.Time, error) {
	var at time.Time
	err := r.db.QueryRowContext(ctx, "SELECT fetched_at FROM directory_meta WHERE id = 1").Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read fetch time: %w", err)
	}
	return at, nil
}

// Clear drops the cached directory.
func (r *DirectoryRepository) Clear(ctx context.Context) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, q := range []string{"DELETE FROM locations", "DELETE FROM countries", "DELETE FROM directory_meta"} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("failed to clear directory: %w", err)
			}
		}
		return nil
	})
}
