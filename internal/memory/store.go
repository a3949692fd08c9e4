package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/otohalabs/otoha/internal/config"
)

// Exchange is one remembered conversation turn.
type Exchange struct {
	ID        int64
	Speaker   string
	Input     string
	Output    string
	CreatedAt time.Time
}

// Store keeps the long-term conversation log in SQLite.
type Store struct {
	db    *sql.DB
	cfg   config.MemoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the conversation store according to config.
func Open(ctx context.Context, cfg config.MemoryConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
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
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("memory store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("memory store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    speaker TEXT NOT NULL,
    input TEXT,
    output TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_speaker_created ON conversations(speaker, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddConversation records one turn for a speaker. Timestamps are stored as
// RFC3339Nano text so retention cutoffs compare lexicographically.
func (s *Store) AddConversation(ctx context.Context, speaker, input, output string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(speaker, input, output, created_at) VALUES(?, ?, ?, ?)`,
		speaker, input, output, s.clock().UTC().Format(time.RFC3339Nano))
	return err
}

// Context returns the most recent turns for a speaker, newest first.
func (s *Store) Context(ctx context.Context, speaker string, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = s.cfg.ContextLimit
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, speaker, input, output, created_at
		 FROM conversations WHERE speaker = ? ORDER BY created_at DESC, id DESC LIMIT ?`, speaker, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exchanges []Exchange
	for rows.Next() {
		var e Exchange
		var created string
		if err := rows.Scan(&e.ID, &e.Speaker, &e.Input, &e.Output, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		exchanges = append(exchanges, e)
	}
	return exchanges, rows.Err()
}

// Prune applies the configured retention window.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE created_at < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	return err
}
