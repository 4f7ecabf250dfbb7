package data

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SQLStore is a Store backed by an items table and a settings table.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// Ensure SQLStore implements Store interface.
var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a store over an already migrated database.
func NewSQLStore(db *sqlx.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// Backend returns the SQL driver name.
func (s *SQLStore) Backend() string {
	return s.driver
}

// LoadRecords retrieves all item records.
func (s *SQLStore) LoadRecords(ctx context.Context) ([]Record, error) {
	var records []Record
	if err := s.db.SelectContext(ctx, &records, `SELECT id, item_type, body FROM items`); err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	return records, nil
}

// LoadSettings retrieves all settings.
func (s *SQLStore) LoadSettings(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Name  string `db:"name"`
		Value string `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, value FROM settings`); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	settings := make(map[string]string, len(rows))
	for _, r := range rows {
		settings[r.Name] = r.Value
	}
	return settings, nil
}

// Commit applies the batch inside a single transaction.
func (s *SQLStore) Commit(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsertItem, upsertSetting := s.upsertQueries()
	for _, rec := range b.Put {
		if _, err := tx.ExecContext(ctx, upsertItem, rec.ID, rec.Type, rec.Body); err != nil {
			return fmt.Errorf("failed to write item %s: %w", rec.ID, err)
		}
	}
	deleteItem := tx.Rebind(`DELETE FROM items WHERE id = ?`)
	for _, id := range b.Delete {
		if _, err := tx.ExecContext(ctx, deleteItem, id); err != nil {
			return fmt.Errorf("failed to delete item %s: %w", id, err)
		}
	}
	for name, value := range b.Settings {
		if _, err := tx.ExecContext(ctx, upsertSetting, name, value); err != nil {
			return fmt.Errorf("failed to write setting %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) upsertQueries() (item, setting string) {
	if s.driver == "mysql" {
		return `INSERT INTO items (id, item_type, body) VALUES (?, ?, ?)
				ON DUPLICATE KEY UPDATE item_type = VALUES(item_type), body = VALUES(body)`,
			`INSERT INTO settings (name, value) VALUES (?, ?)
				ON DUPLICATE KEY UPDATE value = VALUES(value)`
	}
	return s.db.Rebind(`INSERT INTO items (id, item_type, body) VALUES (?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET item_type = excluded.item_type, body = excluded.body`),
		s.db.Rebind(`INSERT INTO settings (name, value) VALUES (?, ?)
				ON CONFLICT (name) DO UPDATE SET value = excluded.value`)
}
