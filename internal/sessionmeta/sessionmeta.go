// Package sessionmeta is the one place MindCache still wants ad hoc
// structured-query storage rather than a raw segment scan: a
// modernc.org/sqlite (CGO-free) sidecar resolving session_id → {name,
// metadata} and the (user_id, request_id) idempotency window. Uses the
// same migrate()/open idiom as a small hand-rolled schema (WAL mode
// pragma, CREATE TABLE IF NOT EXISTS).
package sessionmeta

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mindcache/mindcache/internal/errs"
	"github.com/mindcache/mindcache/internal/model"
)

// idempotencyWindow: requests are deduplicated on (user_id, request_id)
// within this window.
const idempotencyWindow = 5 * time.Minute

// Store is the session-metadata + idempotency sidecar.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the sidecar database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.IoErr("create sessionmeta dir", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, errs.IoErr("open sessionmeta db", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_meta (
		session_id TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		name       TEXT NOT NULL DEFAULT '',
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_meta_user ON session_meta(user_id);

	CREATE TABLE IF NOT EXISTS idempotency (
		user_id    TEXT NOT NULL,
		request_id TEXT NOT NULL,
		result_id  TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (user_id, request_id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errs.IoErr("migrate sessionmeta schema", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// CreateSession records a new session's name/metadata sidecar row.
func (s *Store) CreateSession(sessionID, userID, name string, metadata model.Metadata) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return errs.Invalid("marshal session metadata: %v", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO session_meta (session_id, user_id, name, metadata, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET name=excluded.name, metadata=excluded.metadata`,
		sessionID, userID, name, string(metaJSON), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errs.IoErr("insert session_meta", err)
	}
	return nil
}

// EnsureSession lazily registers sessionID for userID (empty name/meta) if
// it's never been seen by CreateSession — covers sessions that come into
// existence implicitly via the first save() into them.
func (s *Store) EnsureSession(sessionID, userID string) error {
	_, err := s.db.Exec(
		`INSERT INTO session_meta (session_id, user_id, name, metadata, created_at) VALUES (?, ?, '', '{}', ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, userID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errs.IoErr("ensure session_meta", err)
	}
	return nil
}

// NameAndMetadata returns sessionID's stored name/metadata, defaulting to
// empty values if the session has no sidecar row.
func (s *Store) NameAndMetadata(sessionID string) (name string, metadata model.Metadata, err error) {
	var metaJSON string
	row := s.db.QueryRow(`SELECT name, metadata FROM session_meta WHERE session_id = ?`, sessionID)
	if err := row.Scan(&name, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return "", model.Metadata{}, nil
		}
		return "", nil, errs.IoErr("query session_meta", err)
	}
	metadata = model.Metadata{}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &metadata)
	}
	return name, metadata, nil
}

// DeleteSession removes sessionID's sidecar row (called alongside
// delete_session's memory tombstoning).
func (s *Store) DeleteSession(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM session_meta WHERE session_id = ?`, sessionID); err != nil {
		return errs.IoErr("delete session_meta", err)
	}
	return nil
}

// SessionsForUser returns every session id registered for userID.
func (s *Store) SessionsForUser(userID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT session_id FROM session_meta WHERE user_id = ?`, userID)
	if err != nil {
		return nil, errs.IoErr("query sessions for user", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.IoErr("scan session id", err)
		}
		out = append(out, id)
	}
	return out, nil
}

// CheckIdempotency looks up a prior result for (userID, requestID) within
// the dedup window. Found reports whether a prior call is still live.
func (s *Store) CheckIdempotency(userID, requestID string) (resultID string, found bool, err error) {
	if requestID == "" {
		return "", false, nil
	}
	var createdAtStr string
	row := s.db.QueryRow(
		`SELECT result_id, created_at FROM idempotency WHERE user_id = ? AND request_id = ?`,
		userID, requestID,
	)
	if err := row.Scan(&resultID, &createdAtStr); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errs.IoErr("query idempotency", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return "", false, errs.InternalErr("parse idempotency timestamp", err)
	}
	if time.Since(createdAt) > idempotencyWindow {
		return "", false, nil
	}
	return resultID, true, nil
}

// RecordIdempotency remembers that (userID, requestID) produced resultID,
// so a retry within the window returns the same result instead of
// duplicating the write.
func (s *Store) RecordIdempotency(userID, requestID, resultID string) error {
	if requestID == "" {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO idempotency (user_id, request_id, result_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, request_id) DO UPDATE SET result_id=excluded.result_id, created_at=excluded.created_at`,
		userID, requestID, resultID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errs.IoErr("record idempotency", err)
	}
	return nil
}
