package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"curiosity/internal/domain"
)

// BackupKey is the key the local mirror of the conversation is stored under.
const BackupKey = "conversation_data_backup"

// LocalBackup is the client-side mirror of the conversation, used when the
// server cannot be reached.
type LocalBackup interface {
	Append(ctx context.Context, msg domain.Message) error
	Load(ctx context.Context) ([]domain.Message, error)
	Close() error
}

// SQLiteBackup keeps the backup document in a single-row key/value table.
type SQLiteBackup struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteBackup(dbPath string, logger *slog.Logger) (*SQLiteBackup, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create backup directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("cannot open backup database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	b := &SQLiteBackup{db: db, logger: logger}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("backup migration failed: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackup) migrate() error {
	_, err := b.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`)
	return err
}

// Append adds msg to the stored document in one transaction.
func (b *SQLiteBackup) Append(ctx context.Context, msg domain.Message) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	msgs, err := b.load(ctx, tx)
	if err != nil {
		return err
	}
	msgs = append(msgs, msg)

	data, err := json.Marshal(domain.ConversationLog{Messages: msgs})
	if err != nil {
		return fmt.Errorf("marshal backup: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		BackupKey, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return tx.Commit()
}

// Load returns the stored messages. A missing or unparseable document loads
// as empty.
func (b *SQLiteBackup) Load(ctx context.Context) ([]domain.Message, error) {
	return b.load(ctx, b.db)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (b *SQLiteBackup) load(ctx context.Context, q queryer) ([]domain.Message, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, BackupKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []domain.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}

	var log domain.ConversationLog
	if err := json.Unmarshal([]byte(raw), &log); err != nil || log.Messages == nil {
		b.logger.Warn("local backup is unreadable, treating as empty", "err", err)
		return []domain.Message{}, nil
	}
	return log.Messages, nil
}

func (b *SQLiteBackup) Close() error {
	return b.db.Close()
}
