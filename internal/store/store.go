// Package store implements the engine's persistent key-value store: a
// directory-per-collection, one-file-per-record layout with OS advisory
// locking, plus a sqlite side index for tracked-group queries.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Collection names, each a subdirectory of the store's base directory.
const (
	collTasks           = "tasks"
	collTaskRecords     = "task_records"
	collResumeData      = "resume_data"
	collStatusUpdates   = "status_updates"
	collProgressUpdates = "progress_updates"
)

// Store is the engine's persistent store (spec.md §4.5). It owns task
// records; workers read through it but mutation always flows through the
// engine facade, which re-persists a whole record rather than patching it
// in place.
type Store struct {
	baseDir string
	index   *sql.DB
}

// Open creates (if needed) the store's directory tree under baseDir and
// opens its sqlite side index.
func Open(baseDir string) (*Store, error) {
	for _, c := range []string{collTasks, collTaskRecords, collResumeData, collStatusUpdates, collProgressUpdates} {
		if err := os.MkdirAll(filepath.Join(baseDir, c), 0o755); err != nil {
			return nil, fmt.Errorf("store: create collection dir %s: %w", c, err)
		}
	}

	db, err := sql.Open("sqlite", filepath.Join(baseDir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite index: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS task_records (
			id TEXT PRIMARY KEY,
			group_name TEXT NOT NULL,
			status TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_task_records_group ON task_records(group_name);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create sqlite schema: %w", err)
	}

	return &Store{baseDir: baseDir, index: db}, nil
}

// Close releases the sqlite index handle. Record files hold no long-lived
// locks between calls, so there is nothing else to release.
func (s *Store) Close() error {
	return s.index.Close()
}

// sanitizeID replaces filesystem-illegal characters in an id with "_"; the
// in-memory id string itself is never altered (spec.md §4.5).
func sanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|' || r == 0:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *Store) recordPath(collection, id string) string {
	return filepath.Join(s.baseDir, collection, sanitizeID(id)+".json")
}

func (s *Store) collectionDir(collection string) string {
	return filepath.Join(s.baseDir, collection)
}

// writeRecord marshals v to JSON and writes it to collection/id under an
// exclusive advisory lock, giving the "single writer per file" discipline
// spec.md §4.5 requires.
func writeRecord(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", path, err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("store: lock %s: %w", path, err)
	}
	defer lock.Unlock()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return nil
}

// readRecord reads collection/id under a shared advisory lock and unmarshals
// it into v. Returns os.ErrNotExist (wrapped) if the record does not exist.
func readRecord(path string, v any) error {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return fmt.Errorf("store: rlock %s: %w", path, err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: unmarshal %s: %w", path, err)
	}
	return nil
}

// deleteRecord removes collection/id under an exclusive advisory lock. A
// missing file is not an error.
func deleteRecord(path string) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("store: lock %s: %w", path, err)
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove %s: %w", path, err)
	}
	_ = os.Remove(path + ".lock")
	return nil
}

// listIDs returns the sanitized ids of every record currently in collection.
// Callers that need the original id should keep their own index (task_records
// keeps one in sqlite); this is used for the tasks collection, whose id is
// recoverable from the record body itself.
func listIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	return ids, nil
}
