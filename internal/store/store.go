// Package store is the SQLite-backed conversation log and chat whitelist.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const DefaultWindow = 120

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS whitelisted_chats (
			chat_id INTEGER PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER,
			message_id INTEGER,
			author TEXT,
			date TEXT,
			content TEXT,
			tags TEXT,
			important TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, important, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Append writes a record. Storage errors are returned as-is to the caller.
func (s *Store) Append(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := r.Date
	if date.IsZero() {
		date = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, message_id, author, date, content, tags, important)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ChatID, r.MessageID, r.Author, date.UTC().Format(time.RFC3339Nano), r.Content, r.Tags, r.Importance.String(),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Windowed returns every pinned record of the chat plus the newest limit
// default/generated records. limit <= 0 selects DefaultWindow.
func (s *Store) Windowed(ctx context.Context, chatID int64, limit int) (Window, error) {
	if limit <= 0 {
		limit = DefaultWindow
	}

	pinned, err := s.query(ctx,
		`SELECT id, chat_id, message_id, author, date, content, tags, important
		FROM messages
		WHERE chat_id = ? AND important = ?
		ORDER BY id DESC`,
		chatID, labelPinned,
	)
	if err != nil {
		return Window{}, fmt.Errorf("query pinned: %w", err)
	}

	recent, err := s.query(ctx,
		`SELECT id, chat_id, message_id, author, date, content, tags, important
		FROM messages
		WHERE chat_id = ? AND important IN (?, ?)
		ORDER BY id DESC
		LIMIT ?`,
		chatID, labelDefault, labelGenerated, limit,
	)
	if err != nil {
		return Window{}, fmt.Errorf("query recent: %w", err)
	}

	return Window{Pinned: pinned, Recent: recent}, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			author    sql.NullString
			date      sql.NullString
			content   sql.NullString
			tags      sql.NullString
			important sql.NullString
		)
		if err := rows.Scan(&r.Seq, &r.ChatID, &r.MessageID, &author, &date, &content, &tags, &important); err != nil {
			return nil, err
		}
		r.Author = author.String
		r.Content = content.String
		r.Tags = tags.String
		r.Date = parseDate(date.String)
		if r.Importance, err = parseImportance(important.String); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// parseDate accepts RFC3339 and the naive ISO format older rows carry.
func parseDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (s *Store) IsWhitelisted(ctx context.Context, chatID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM whitelisted_chats WHERE chat_id = ?`, chatID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query whitelist: %w", err)
	}
	return true, nil
}

// Allow whitelists a chat and reports whether it was newly added.
func (s *Store) Allow(ctx context.Context, chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO whitelisted_chats (chat_id) VALUES (?)`, chatID)
	if err != nil {
		return false, fmt.Errorf("whitelist chat: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Disallow removes a chat and reports whether it was present.
func (s *Store) Disallow(ctx context.Context, chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM whitelisted_chats WHERE chat_id = ?`, chatID)
	if err != nil {
		return false, fmt.Errorf("unlist chat: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
