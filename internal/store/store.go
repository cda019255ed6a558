// Package store is the durable state shared by the Controller and the
// Gateway: session records and the one-shot jti ledger that prevents
// capability token replay. Both planes open the same sqlite file; no
// synchronous RPC passes between them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("store: not found")

// Session statuses, matching the lifecycle a session moves through between
// admission and the first successful WebSocket attach.
const (
	StatusPending  = "pending"
	StatusRoutable = "routable"
	StatusExpired  = "expired"
)

type Session struct {
	ID         string
	OwnerID    string
	Image      string
	CodeURL    string
	Command    string
	Endpoint   string
	Status     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Store wraps a sqlite connection pool configured the way a busy, mostly
// single-writer workload needs: WAL journaling, a generous busy timeout, and
// application-level retry on top of that timeout as a second line of
// defense.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
	closeErr  error
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	image      TEXT NOT NULL,
	code_url   TEXT NOT NULL DEFAULT '',
	command    TEXT NOT NULL DEFAULT '',
	endpoint   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

CREATE TABLE IF NOT EXISTS jtis (
	jti        TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	expires_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jtis_expires_at ON jtis(expires_at);
`

func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// Open opens (and migrates) the sqlite database at dsn. dsn is expected to
// carry its own WAL/busy_timeout pragmas, e.g.
// "file:workerspawn.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the connection pool exactly once; later calls return the
// first call's result.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}

// PutSession inserts a new session row in StatusPending.
func (s *Store) PutSession(ctx context.Context, sess Session) error {
	err := retryOnBusy(func() error {
		_, e := s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, owner_id, image, code_url, command, endpoint, status, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, '', ?, ?, ?)`,
			sess.ID, sess.OwnerID, sess.Image, sess.CodeURL, sess.Command, StatusPending,
			sess.CreatedAt.UTC(), sess.ExpiresAt.UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("store: put session: %w", err)
	}
	return nil
}

// GetSession fetches a session by id. Returns ErrNotFound if it doesn't exist.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, image, code_url, command, endpoint, status, created_at, expires_at
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// SetEndpointOnce records the worker's resolved endpoint the first time the
// orchestrator reports one reachable, moving the session into
// StatusRoutable. Calling it again on an already-routable session is a
// no-op: the endpoint is set exactly once per session.
func (s *Store) SetEndpointOnce(ctx context.Context, id, endpoint string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.ExecContext(ctx,
			`UPDATE sessions SET endpoint = ?, status = ? WHERE id = ? AND status = ?`,
			endpoint, StatusRoutable, id, StatusPending,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("store: set endpoint: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set endpoint rows affected: %w", err)
	}
	if n == 0 {
		existing, getErr := s.GetSession(ctx, id)
		if getErr != nil {
			return getErr
		}
		if existing.Status == StatusRoutable {
			return nil
		}
		return ErrNotFound
	}
	return nil
}

// ExpireSession marks a session expired; it is left in the table for audit
// until PruneExpired removes it entirely.
func (s *Store) ExpireSession(ctx context.Context, id string) error {
	err := retryOnBusy(func() error {
		_, e := s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, StatusExpired, id)
		return e
	})
	if err != nil {
		return fmt.Errorf("store: expire session: %w", err)
	}
	return nil
}

// PutJTI registers a minted token's jti as a one-shot record, tied to the
// session it authorizes and its own expiry (mirroring the token's exp).
func (s *Store) PutJTI(ctx context.Context, jti, sessionID string, expiresAt time.Time) error {
	err := retryOnBusy(func() error {
		_, e := s.db.ExecContext(ctx,
			`INSERT INTO jtis (jti, session_id, expires_at) VALUES (?, ?, ?)`,
			jti, sessionID, expiresAt.UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("store: put jti: %w", err)
	}
	return nil
}

// ConsumeJTI atomically deletes and returns the session id bound to jti. A
// second call for the same jti returns ErrNotFound: this is the replay
// check. The lookup and the delete run inside one transaction so two
// concurrent callers can never both observe success.
func (s *Store) ConsumeJTI(ctx context.Context, jti string) (sessionID string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: consume jti begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT session_id, expires_at FROM jtis WHERE jti = ?`, jti)
	var expiresAt time.Time
	if err := row.Scan(&sessionID, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("store: consume jti scan: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM jtis WHERE jti = ?`, jti); err != nil {
		return "", fmt.Errorf("store: consume jti delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: consume jti commit: %w", err)
	}

	if time.Now().After(expiresAt) {
		return "", ErrNotFound
	}
	return sessionID, nil
}

// PruneExpired deletes jti records past their expiry and sessions past
// theirs, returning the counts removed. Called on a timer by the
// Controller's reaper.
func (s *Store) PruneExpired(ctx context.Context) (sessionsPruned, jtisPruned int64, err error) {
	now := time.Now().UTC()

	var jtiResult sql.Result
	err = retryOnBusy(func() error {
		var e error
		jtiResult, e = s.db.ExecContext(ctx, `DELETE FROM jtis WHERE expires_at <= ?`, now)
		return e
	})
	if err != nil {
		return 0, 0, fmt.Errorf("store: prune jtis: %w", err)
	}
	jtisPruned, _ = jtiResult.RowsAffected()

	var sessResult sql.Result
	err = retryOnBusy(func() error {
		var e error
		sessResult, e = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
		return e
	})
	if err != nil {
		return 0, jtisPruned, fmt.Errorf("store: prune sessions: %w", err)
	}
	sessionsPruned, _ = sessResult.RowsAffected()

	return sessionsPruned, jtisPruned, nil
}

// LiveSessionIDs returns the ids of sessions that are not yet expired, as a
// set suitable for reconciling against orchestrator state.
func (s *Store) LiveSessionIDs(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE status != ?`, StatusExpired)
	if err != nil {
		return nil, fmt.Errorf("store: list live session ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]string)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan live session id: %w", err)
		}
		ids[id] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate live session ids: %w", err)
	}
	return ids, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (Session, error) {
	var sess Session
	if err := row.Scan(
		&sess.ID, &sess.OwnerID, &sess.Image, &sess.CodeURL, &sess.Command,
		&sess.Endpoint, &sess.Status, &sess.CreatedAt, &sess.ExpiresAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("store: scan session: %w", err)
	}
	return sess, nil
}
