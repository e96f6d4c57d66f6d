package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/localplatform/homeroute/internal/clock"
	"github.com/localplatform/homeroute/internal/herr"

	_ "modernc.org/sqlite"
)

// Session durations, matching the original auth service so existing
// cookies and remember-me semantics carry over unchanged.
const (
	SessionDuration    = time.Hour
	RememberMeDuration = 30 * 24 * time.Hour
	InactivityTimeout  = 30 * time.Minute
)

// Session is one authenticated login.
type Session struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	IPAddress    string
	UserAgent    string
	LastActivity time.Time
	RememberMe   bool
}

// expired reports whether the session is past its absolute expiry or has
// been idle longer than InactivityTimeout (remember-me sessions skip the
// inactivity check and expire only at their absolute expiry).
func (s *Session) expired(now time.Time) bool {
	if now.After(s.ExpiresAt) {
		return true
	}
	if !s.RememberMe && now.Sub(s.LastActivity) > InactivityTimeout {
		return true
	}
	return false
}

// SessionStore is a SQLite-backed session table (hr-auth/src/sessions.rs).
type SessionStore struct {
	db  *sql.DB
	clk clock.Clock
}

// NewSessionStore opens (creating if absent) the session database at
// <dataDir>/sessions.db in WAL mode.
func NewSessionStore(dataDir string) (*SessionStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, herr.Wrap(herr.IO, "create auth data dir", err)
	}
	path := filepath.Join(dataDir, "sessions.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, herr.Wrap(herr.IO, "open session db", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, herr.Wrap(herr.IO, "enable wal mode", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			ip_address TEXT,
			user_agent TEXT,
			last_activity INTEGER NOT NULL,
			remember_me INTEGER DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`)
	if err != nil {
		db.Close()
		return nil, herr.Wrap(herr.IO, "create sessions table", err)
	}
	return &SessionStore{db: db, clk: &clock.RealClock{}}, nil
}

// WithClock overrides the store's time source, for tests.
func (s *SessionStore) WithClock(clk clock.Clock) *SessionStore {
	s.clk = clk
	return s
}

func (s *SessionStore) Close() error { return s.db.Close() }

func newSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Create starts a new session for userID and persists it.
func (s *SessionStore) Create(userID, ipAddress, userAgent string, rememberMe bool) (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, herr.Wrap(herr.IO, "generate session id", err)
	}
	now := s.clk.Now().UTC()
	duration := SessionDuration
	if rememberMe {
		duration = RememberMeDuration
	}
	sess := &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(duration),
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
		LastActivity: now,
		RememberMe:   rememberMe,
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, user_id, created_at, expires_at, ip_address, user_agent, last_activity, remember_me)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.CreatedAt.Unix(), sess.ExpiresAt.Unix(), sess.IPAddress, sess.UserAgent, sess.LastActivity.Unix(), boolToInt(sess.RememberMe))
	if err != nil {
		return nil, herr.Wrap(herr.IO, "insert session", err)
	}
	return sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SessionStore) scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var createdAt, expiresAt, lastActivity int64
	var rememberMe int
	var ip, ua sql.NullString
	err := row.Scan(&sess.ID, &sess.UserID, &createdAt, &expiresAt, &ip, &ua, &lastActivity, &rememberMe)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, herr.Wrap(herr.IO, "scan session", err)
	}
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	sess.LastActivity = time.Unix(lastActivity, 0).UTC()
	sess.RememberMe = rememberMe != 0
	if ip.Valid {
		sess.IPAddress = ip.String
	}
	if ua.Valid {
		sess.UserAgent = ua.String
	}
	return &sess, nil
}

// Get fetches a session by ID. A session past its absolute expiry or
// inactivity timeout is deleted and reported as not found, matching the
// original daemon's get-and-reap-on-read behavior.
func (s *SessionStore) Get(id string) (*Session, bool) {
	row := s.db.QueryRow(`
		SELECT id, user_id, created_at, expires_at, ip_address, user_agent, last_activity, remember_me
		FROM sessions WHERE id = ?
	`, id)
	sess, err := s.scanSession(row)
	if err != nil || sess == nil {
		return nil, false
	}
	if sess.expired(s.clk.Now()) {
		s.Delete(id)
		return nil, false
	}
	return sess, true
}

// Validate fetches a session and, if still live, bumps its last-activity
// timestamp (sliding inactivity window).
func (s *SessionStore) Validate(id string) (*Session, bool) {
	sess, ok := s.Get(id)
	if !ok {
		return nil, false
	}
	if err := s.UpdateActivity(id); err != nil {
		return sess, true
	}
	sess.LastActivity = s.clk.Now().UTC()
	return sess, true
}

// UpdateActivity bumps last_activity to now.
func (s *SessionStore) UpdateActivity(id string) error {
	_, err := s.db.Exec("UPDATE sessions SET last_activity = ? WHERE id = ?", s.clk.Now().UTC().Unix(), id)
	if err != nil {
		return herr.Wrap(herr.IO, "update session activity", err)
	}
	return nil
}

// Delete removes a session by ID.
func (s *SessionStore) Delete(id string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return herr.Wrap(herr.IO, "delete session", err)
	}
	return nil
}

// DeleteByUser removes every session belonging to userID (forced logout).
func (s *SessionStore) DeleteByUser(userID string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE user_id = ?", userID)
	if err != nil {
		return herr.Wrap(herr.IO, "delete sessions for user", err)
	}
	return nil
}

// GetByUser returns every live session for userID.
func (s *SessionStore) GetByUser(userID string) ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, created_at, expires_at, ip_address, user_agent, last_activity, remember_me
		FROM sessions WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, herr.Wrap(herr.IO, "query sessions for user", err)
	}
	defer rows.Close()

	var out []*Session
	now := s.clk.Now()
	for rows.Next() {
		var sess Session
		var createdAt, expiresAt, lastActivity int64
		var rememberMe int
		var ip, ua sql.NullString
		if err := rows.Scan(&sess.ID, &sess.UserID, &createdAt, &expiresAt, &ip, &ua, &lastActivity, &rememberMe); err != nil {
			return nil, herr.Wrap(herr.IO, "scan session", err)
		}
		sess.CreatedAt = time.Unix(createdAt, 0).UTC()
		sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
		sess.LastActivity = time.Unix(lastActivity, 0).UTC()
		sess.RememberMe = rememberMe != 0
		if ip.Valid {
			sess.IPAddress = ip.String
		}
		if ua.Valid {
			sess.UserAgent = ua.String
		}
		if sess.expired(now) {
			continue
		}
		out = append(out, &sess)
	}
	return out, nil
}

// CleanupExpired removes every session past its absolute expiry, regardless
// of inactivity state, and returns the number removed. Intended to run on
// a periodic reaper alongside the DNS cache and DHCP lease reapers.
func (s *SessionStore) CleanupExpired() (int64, error) {
	result, err := s.db.Exec("DELETE FROM sessions WHERE expires_at < ?", s.clk.Now().UTC().Unix())
	if err != nil {
		return 0, herr.Wrap(herr.IO, "cleanup expired sessions", err)
	}
	return result.RowsAffected()
}
