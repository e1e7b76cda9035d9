package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jaakkos/sharedstore/internal/app"
	"github.com/jaakkos/sharedstore/internal/domain"
)

// Record names are deliberately not UNIQUE: duplicate names are accepted.
const schema = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	created TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tombstones (
	id TEXT PRIMARY KEY,
	deleted TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind, created);
`

// schemaVersion is stored in meta so later releases can migrate older stores.
const schemaVersion = "1"

// knownKinds are the entity kinds this store holds.
var knownKinds = map[string]bool{
	domain.KindRecord: true,
}

// Store implements app.RecordEngine using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the SQLite database at path (creating parent dirs and schema) and returns a RecordEngine.
// The database runs in WAL mode so the application and its extensions can open it concurrently.
func New(path string) (app.RecordEngine, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite indexes: %w", err)
	}
	if _, err := db.Exec("INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)", schemaVersion); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite meta: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database connection. Call on shutdown for clean exit.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// parseTime parses RFC3339Nano or returns zero time and error.
func parseTime(s, context string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: parse timestamp %q: %w", context, s, err)
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// isNoSuchTableErr returns true if the error indicates the table doesn't exist.
func isNoSuchTableErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// FetchAll implements app.RecordEngine.
func (s *Store) FetchAll(ctx context.Context, kind string) ([]domain.Record, error) {
	if !knownKinds[kind] {
		return nil, fmt.Errorf("%w: %q", app.ErrUnknownKind, kind)
	}
	if s.db == nil {
		return nil, fmt.Errorf("records: store closed")
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, kind, name, created FROM records WHERE kind = ? ORDER BY created, id", kind)
	if err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var r domain.Record
		var created string
		if err := rows.Scan(&r.ID, &r.Kind, &r.Name, &created); err != nil {
			return nil, err
		}
		if r.Created, err = parseTime(created, "records"); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("records iteration: %w", err)
	}
	return out, nil
}

// Tombstones implements app.RecordEngine.
func (s *Store) Tombstones(ctx context.Context) ([]domain.Tombstone, error) {
	if s.db == nil {
		return nil, fmt.Errorf("tombstones: store closed")
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, deleted FROM tombstones ORDER BY deleted, id")
	if err != nil {
		if isNoSuchTableErr(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tombstones: %w", err)
	}
	defer rows.Close()

	var out []domain.Tombstone
	for rows.Next() {
		var t domain.Tombstone
		var deleted string
		if err := rows.Scan(&t.ID, &deleted); err != nil {
			return nil, err
		}
		if t.Deleted, err = parseTime(deleted, "tombstones"); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tombstones iteration: %w", err)
	}
	return out, nil
}

// Commit implements app.RecordEngine. Inserts and deletes are applied in one
// transaction; every delete leaves a tombstone (stamped now, or with the time
// carried by changes.Tombstones), and inserting an ID clears its tombstone.
func (s *Store) Commit(ctx context.Context, changes app.ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	if s.db == nil {
		return fmt.Errorf("commit: store closed")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range changes.Inserts {
		if !knownKinds[r.Kind] {
			return fmt.Errorf("insert %s: %w: %q", r.ID, app.ErrUnknownKind, r.Kind)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO records (id, kind, name, created) VALUES (?, ?, ?, ?)",
			r.ID, r.Kind, r.Name, formatTime(r.Created)); err != nil {
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM tombstones WHERE id = ?", r.ID); err != nil {
			return fmt.Errorf("clear tombstone %s: %w", r.ID, err)
		}
	}
	now := s.now()
	tombs := make([]domain.Tombstone, 0, len(changes.Deletes)+len(changes.Tombstones))
	for _, id := range changes.Deletes {
		tombs = append(tombs, domain.Tombstone{ID: id, Deleted: now})
	}
	tombs = append(tombs, changes.Tombstones...)
	for _, t := range tombs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE id = ?", t.ID); err != nil {
			return fmt.Errorf("delete %s: %w", t.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO tombstones (id, deleted) VALUES (?, ?)", t.ID, formatTime(t.Deleted)); err != nil {
			return fmt.Errorf("tombstone %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// EraseAll implements app.RecordEngine. It removes records and tombstones alike.
func (s *Store) EraseAll(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("erase: store closed")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, table := range []string{"records", "tombstones"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("erase %s: %w", table, err)
		}
	}
	return tx.Commit()
}
