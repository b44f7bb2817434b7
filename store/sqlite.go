package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"kalichat/config"
	"kalichat/domain"
)

// SQLiteStore implements Store using SQLite.
//
// Write transactions start in IMMEDIATE mode (via the _txlock DSN option) so
// a writer takes the write lock up front instead of starving behind readers.
// Connections are pooled by database/sql up to the configured pool size and
// health-probed with a trivial round-trip before reuse.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger

	persistentDefault bool
	maxMessageLength  int
	summaryMaxChars   int
}

// New opens (or creates) the SQLite database at cfg.DatabasePath and runs
// the schema migration.
func New(cfg *config.Config, logger *zap.Logger) (*SQLiteStore, error) {
	dsn := buildDSN(cfg)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection so schema and data survive across goroutines.
	if cfg.DatabasePath == ":memory:" || strings.Contains(cfg.DatabasePath, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.PoolSize)
		db.SetMaxIdleConns(cfg.PoolSize)
	}

	s := &SQLiteStore{
		db:                db,
		logger:            logger,
		persistentDefault: cfg.PersistentDefault,
		maxMessageLength:  cfg.MaxMessageLength,
		summaryMaxChars:   cfg.SummaryMaxChars,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Debug("database initialized",
		zap.String("path", cfg.DatabasePath),
		zap.String("journal_mode", cfg.SQLiteJournalMode),
		zap.Int("pool_size", cfg.PoolSize))
	return s, nil
}

func buildDSN(cfg *config.Config) string {
	if cfg.DatabasePath == ":memory:" {
		return "file::memory:?cache=shared&_foreign_keys=on&_txlock=immediate"
	}
	return fmt.Sprintf("file:%s?_journal_mode=%s&_synchronous=%s&_foreign_keys=on&_txlock=immediate&_busy_timeout=5000",
		cfg.DatabasePath, cfg.SQLiteJournalMode, cfg.SQLiteSyncMode)
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY CHECK(length(id) = %d),
			persistent INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_active TEXT,
			summary TEXT CHECK(summary IS NULL OR length(summary) <= %d)
		)`, domain.SessionIDLength, s.summaryMaxChars),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			session_id TEXT NOT NULL CHECK(length(session_id) = %d),
			role TEXT NOT NULL CHECK(role IN ('user', 'assistant', 'system')),
			content TEXT NOT NULL CHECK(length(content) <= %d),
			timestamp TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`, domain.SessionIDLength, s.maxMessageLength),
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// acquire borrows a pooled connection, probing it with a trivial query and
// discarding it for a fresh one if the probe fails. The caller must close
// the returned connection to release it back to the pool.
func (s *SQLiteStore) acquire(ctx context.Context) (*sql.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire connection: %w", err)
		}
		if _, err := conn.ExecContext(ctx, "SELECT 1"); err != nil {
			s.logger.Warn("discarding stale pooled connection", zap.Error(err))
			conn.Close()
			lastErr = err
			continue
		}
		return conn, nil
	}
	return nil, fmt.Errorf("no healthy connection available: %w", lastErr)
}

// Close releases all pooled connections.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the store is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, id string, persistent bool) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return &domain.StorageError{Op: "create session", Err: err}
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`INSERT INTO sessions (id, persistent) VALUES (?, ?)`,
		id, boolToInt(persistent))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrDuplicateSession
		}
		return &domain.StorageError{Op: "create session", Err: err}
	}
	s.logger.Debug("created session row",
		zap.String("session_id", id),
		zap.Bool("persistent", persistent))
	return nil
}

// GetSession retrieves a session row, or (nil, nil) when absent.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, &domain.StorageError{Op: "get session", Err: err}
	}
	defer conn.Close()

	var session domain.Session
	var persistent int
	var createdAt string
	var lastActive, summary sql.NullString
	err = conn.QueryRowContext(ctx,
		`SELECT id, persistent, created_at, last_active, summary FROM sessions WHERE id = ?`,
		id).Scan(&session.ID, &persistent, &createdAt, &lastActive, &summary)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "get session", Err: err}
	}
	session.Persistent = persistent != 0
	if ts := parseTimestamp(createdAt); ts != nil {
		session.CreatedAt = *ts
	}
	if lastActive.Valid {
		session.LastActive = parseTimestamp(lastActive.String)
	}
	if summary.Valid {
		session.Summary = summary.String
	}
	return &session, nil
}

// IsPersistent reports the session's persistence flag; absent sessions are
// reported as not persistent.
func (s *SQLiteStore) IsPersistent(ctx context.Context, id string) (bool, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return false, &domain.StorageError{Op: "persistence check", Err: err}
	}
	defer conn.Close()

	var persistent int
	err = conn.QueryRowContext(ctx,
		`SELECT persistent FROM sessions WHERE id = ?`, id).Scan(&persistent)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &domain.StorageError{Op: "persistence check", Err: err}
	}
	return persistent != 0, nil
}

// DeleteSession removes a session and cascades to its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return &domain.StorageError{Op: "delete session", Err: err}
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return &domain.StorageError{Op: "delete session", Err: err}
	}
	return nil
}

// AppendMessage writes a message inside one immediate-mode transaction:
// ensure the session row exists, insert the message with a store-assigned
// timestamp, bump last_active. Partial application is never observable.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string) error {
	if !role.Valid() {
		return &domain.ValidationError{Field: "role", Reason: fmt.Sprintf("%q is not a valid role", role)}
	}
	if content == "" {
		return &domain.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if len(content) > s.maxMessageLength {
		return &domain.ValidationError{Field: "content", Reason: "exceeds maximum length"}
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return &domain.StorageError{Op: "append message", Err: err}
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "append message", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, persistent) VALUES (?, ?)`,
		sessionID, boolToInt(s.persistentDefault)); err != nil {
		return &domain.StorageError{Op: "append message", Err: err}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content) VALUES (?, ?, ?)`,
		sessionID, string(role), content); err != nil {
		return &domain.StorageError{Op: "append message", Err: err}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_active = CURRENT_TIMESTAMP WHERE id = ?`,
		sessionID); err != nil {
		return &domain.StorageError{Op: "append message", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Op: "append message", Err: err}
	}

	s.logger.Debug("appended message",
		zap.String("session_id", sessionID),
		zap.String("role", string(role)),
		zap.Int("chars", len(content)))
	return nil
}

// Messages returns the most recent limit messages oldest-first. Rows with
// malformed timestamps keep their content and get a nil Timestamp.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, &domain.StorageError{Op: "read messages", Err: err}
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx,
		`SELECT role, content, timestamp FROM messages
		 WHERE session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, &domain.StorageError{Op: "read messages", Err: err}
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var role, content string
		var ts sql.NullString
		if err := rows.Scan(&role, &content, &ts); err != nil {
			return nil, &domain.StorageError{Op: "read messages", Err: err}
		}
		msg := domain.Message{Role: domain.Role(role), Content: content}
		if ts.Valid {
			msg.Timestamp = parseTimestamp(ts.String)
			if msg.Timestamp == nil {
				s.logger.Warn("malformed timestamp in stored message",
					zap.String("session_id", sessionID),
					zap.String("timestamp", ts.String))
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "read messages", Err: err}
	}

	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountMessages returns the exact message count for the session.
func (s *SQLiteStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return 0, &domain.StorageError{Op: "count messages", Err: err}
	}
	defer conn.Close()

	var count int
	err = conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, &domain.StorageError{Op: "count messages", Err: err}
	}
	return count, nil
}

// SaveSummary overwrites the session summary, truncating oversized text at
// the configured cap instead of rejecting it.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sessionID, text string) error {
	if len(text) > s.summaryMaxChars {
		s.logger.Warn("summary exceeds cap, truncating",
			zap.String("session_id", sessionID),
			zap.Int("chars", len(text)),
			zap.Int("cap", s.summaryMaxChars))
		text = clip(text, s.summaryMaxChars)
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return &domain.StorageError{Op: "save summary", Err: err}
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "save summary", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET summary = ?, last_active = CURRENT_TIMESTAMP WHERE id = ?`,
		text, sessionID); err != nil {
		return &domain.StorageError{Op: "save summary", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Op: "save summary", Err: err}
	}

	s.logger.Info("saved summary",
		zap.String("session_id", sessionID),
		zap.Int("chars", len(text)))
	return nil
}

// Summary returns the stored summary, or "" when none exists.
func (s *SQLiteStore) Summary(ctx context.Context, sessionID string) (string, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return "", &domain.StorageError{Op: "read summary", Err: err}
	}
	defer conn.Close()

	var summary sql.NullString
	err = conn.QueryRowContext(ctx,
		`SELECT summary FROM sessions WHERE id = ?`, sessionID).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &domain.StorageError{Op: "read summary", Err: err}
	}
	if !summary.Valid {
		return "", nil
	}
	return summary.String, nil
}

// timestampLayouts covers the formats SQLite's CURRENT_TIMESTAMP and
// RFC3339 writers produce.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

func parseTimestamp(value string) *time.Time {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return &ts
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// clip truncates s to at most max bytes without splitting a rune.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
