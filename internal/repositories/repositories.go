package repositories

import (
	"context"
	"database/sql"
	"fmt"
)

// Store bundles the repositories sharing one database handle.
type Store struct {
	State     *StateRepository
	Directory *DirectoryRepository
	Events    *EventRepository
}

// NewStore creates every repository over db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		State:     NewStateRepository(db),
		Directory: NewDirectoryRepository(db),
		Events:    NewEventRepository(db),
	}
}

// withTx runs fn in a transaction, committing when it returns nil.
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
