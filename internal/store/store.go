// Package store provides SQLite persistence for the newsletter client: a
// local cache of fetched records plus the persisted filter-params mirror.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zapidan/newsletter-hub-sub001/internal/model"
)

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex // Protects all database operations
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	// Build connection string based on database type
	connStr := dbPath
	if dbPath == ":memory:" {
		// For in-memory databases, use shared cache mode so all connections
		// in the pool see the same database
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// For in-memory databases, limit to 1 connection to avoid issues
	// with multiple connections getting different databases
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Enable WAL mode for file-based databases (not :memory:)
	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required tables and indexes if they don't exist.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS newsletters (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		source_name TEXT NOT NULL,
		title TEXT NOT NULL,
		summary TEXT,
		url TEXT,
		author TEXT,
		received_at DATETIME NOT NULL,
		is_read INTEGER DEFAULT 0,
		is_liked INTEGER DEFAULT 0,
		is_archived INTEGER DEFAULT 0,
		tag_ids TEXT DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_newsletters_received ON newsletters(received_at DESC);
	CREATE INDEX IF NOT EXISTS idx_newsletters_source ON newsletters(source_id);

	CREATE TABLE IF NOT EXISTS filter_params (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveRecords upserts fetched records into the cache, returning the count of
// newly inserted rows. Existing rows get their content refreshed but keep
// their locally-set flags.
func (s *Store) SaveRecords(records []model.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(records) == 0 {
		return 0, nil
	}

	stmt, err := s.db.Prepare(`
		INSERT INTO newsletters (
			id, source_id, source_name, title, summary, url, author,
			received_at, is_read, is_liked, is_archived, tag_ids
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_name = excluded.source_name,
			title = excluded.title,
			summary = excluded.summary,
			url = excluded.url,
			author = excluded.author,
			tag_ids = excluded.tag_ids
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	newCount := 0
	for _, r := range records {
		tags, err := json.Marshal(emptyIfNil(r.TagIDs))
		if err != nil {
			return newCount, err
		}
		result, err := stmt.Exec(
			r.ID,
			r.SourceID,
			r.SourceName,
			r.Title,
			r.Summary,
			r.URL,
			r.Author,
			r.ReceivedAt,
			boolToInt(r.IsRead),
			boolToInt(r.IsLiked),
			boolToInt(r.IsArchived),
			string(tags),
		)
		if err != nil {
			return newCount, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return newCount, err
		}
		if affected > 0 {
			newCount++
		}
	}

	return newCount, nil
}

// GetRecent retrieves the most recently received records from the cache,
// newest first.
func (s *Store) GetRecent(limit int) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, source_id, source_name, title, summary, url, author,
			received_at, is_read, is_liked, is_archived, tag_ids
		FROM newsletters
		ORDER BY received_at DESC
		LIMIT ?
	`
	return s.queryRecords(query, limit)
}

// GetSince retrieves records received after the given time, newest first.
func (s *Store) GetSince(since time.Time) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, source_id, source_name, title, summary, url, author,
			received_at, is_read, is_liked, is_archived, tag_ids
		FROM newsletters
		WHERE received_at > ?
		ORDER BY received_at DESC
	`
	return s.queryRecords(query, since)
}

// MarkRead sets the read flag on a cached record.
func (s *Store) MarkRead(id string, read bool) error {
	return s.setFlag("is_read", id, read)
}

// MarkLiked sets the liked flag on a cached record.
func (s *Store) MarkLiked(id string, liked bool) error {
	return s.setFlag("is_liked", id, liked)
}

// MarkArchived sets the archived flag on a cached record.
func (s *Store) MarkArchived(id string, archived bool) error {
	return s.setFlag("is_archived", id, archived)
}

func (s *Store) setFlag(column, id string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// column comes from the three Mark methods above, never from input
	_, err := s.db.Exec(
		fmt.Sprintf("UPDATE newsletters SET %s = ? WHERE id = ?", column),
		boolToInt(on), id)
	return err
}

// Flags returns the locally-tracked flags for a cached record. ok is false
// when the record is not cached.
func (s *Store) Flags(id string) (read, liked, archived bool, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r, l, a int
	err := s.db.QueryRow(
		"SELECT is_read, is_liked, is_archived FROM newsletters WHERE id = ?", id).
		Scan(&r, &l, &a)
	if err != nil {
		return false, false, false, false
	}
	return r != 0, l != 0, a != 0, true
}

// queryRecords is a helper that executes a query and scans results.
// Caller must hold s.mu (read lock is sufficient).
func (s *Store) queryRecords(query string, args ...any) ([]model.Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var r model.Record
		var readInt, likedInt, archivedInt int
		var tagsJSON string
		err := rows.Scan(
			&r.ID,
			&r.SourceID,
			&r.SourceName,
			&r.Title,
			&r.Summary,
			&r.URL,
			&r.Author,
			&r.ReceivedAt,
			&readInt,
			&likedInt,
			&archivedInt,
			&tagsJSON,
		)
		if err != nil {
			return nil, err
		}
		r.IsRead = readInt != 0
		r.IsLiked = likedInt != 0
		r.IsArchived = archivedInt != 0
		if tagsJSON != "" {
			if err := json.Unmarshal([]byte(tagsJSON), &r.TagIDs); err != nil {
				return nil, fmt.Errorf("decode tag_ids for %s: %w", r.ID, err)
			}
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func emptyIfNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// boolToInt converts a bool to an int for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
