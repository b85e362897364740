// Package transcriptstore persists consolidated transcript fragments in
// SQLite so sessions can be replayed after the fact. Retention is
// configurable; ephemeral mode keeps nothing and turns every write into a
// no-op.
package transcriptstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/prattlelabs/prattle-core/internal/config"
	"github.com/prattlelabs/prattle-core/internal/protocol"
)

// Fragment is one stored transcript row.
type Fragment struct {
	ID         int64
	SessionID  string
	Kind       string
	Text       string
	Confidence float64
	CreatedAt  time.Time
}

// SessionInfo describes one stored session.
type SessionInfo struct {
	ID        string
	StartedAt time.Time
	ClosedAt  time.Time // zero while the session is open
}

// Store wraps the SQLite-backed transcript history.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Ephemeral retention skips
// the database entirely.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("transcript store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("transcript store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    closed_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS fragments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    text TEXT NOT NULL,
    confidence REAL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_fragments_session_created ON fragments(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Healthy reports whether the backing database answers. Ephemeral stores
// have nothing to reach and are always healthy.
func (s *Store) Healthy(ctx context.Context) bool {
	if s.db == nil {
		return true
	}
	return s.db.PingContext(ctx) == nil
}

// StartSession ensures a session row exists, keeping the earliest start.
func (s *Store) StartSession(ctx context.Context, sessionID string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, started_at)
		 VALUES(?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, s.clock().UTC())
	return err
}

// CloseSession stamps the session's end. Closing an unknown session creates
// its row first so late fragments keep a parent.
func (s *Store) CloseSession(ctx context.Context, sessionID string) error {
	if s.db == nil {
		return nil
	}
	if err := s.StartSession(ctx, sessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET closed_at = ? WHERE session_id = ? AND closed_at IS NULL`,
		s.clock().UTC(), sessionID)
	return err
}

// AppendFragment writes one emitted fragment. The fragment's own timestamp
// is preserved when set.
func (s *Store) AppendFragment(ctx context.Context, frag protocol.Fragment) error {
	if s.db == nil {
		return nil
	}
	if err := s.StartSession(ctx, frag.SessionID); err != nil {
		return err
	}
	at := frag.Timestamp
	if at.IsZero() {
		at = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fragments(session_id, kind, text, confidence, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		frag.SessionID, frag.Kind, frag.Text, frag.Confidence, at.UTC())
	return err
}

// ListSessionFragments retrieves up to limit fragments for a session in
// append order.
func (s *Store) ListSessionFragments(ctx context.Context, sessionID string, limit int) ([]Fragment, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, text, confidence, created_at
		 FROM fragments WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fragments []Fragment
	for rows.Next() {
		var f Fragment
		var created string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Kind, &f.Text, &f.Confidence, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			f.CreatedAt = ts
		}
		fragments = append(fragments, f)
	}
	return fragments, rows.Err()
}

// SessionTranscript concatenates a session's committed fragments, in append
// order, into the consolidated transcript text.
func (s *Store) SessionTranscript(ctx context.Context, sessionID string) (string, error) {
	fragments, err := s.ListSessionFragments(ctx, sessionID, 0)
	if err != nil {
		return "", err
	}
	var transcript string
	for _, f := range fragments {
		if f.Kind == protocol.KindConfirmed || f.Kind == protocol.KindFinal {
			transcript += f.Text
		}
	}
	return transcript, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, started_at, closed_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var started string
		var closed sql.NullString
		if err := rows.Scan(&info.ID, &started, &closed); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
			info.StartedAt = ts
		}
		if closed.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, closed.String); err == nil {
				info.ClosedAt = ts
			}
		}
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

// Prune applies configured retention: fragments and sessions past
// retention_days go first, then the oldest sessions beyond max_sessions.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM fragments WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
