// Package store persists an append-only transcript of dispatched
// exchanges. It is a write-only audit log: nothing here is ever read
// back during dispatch, so routing stays stateless.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"teamsbot/internal/domain"
)

// Transcript is a SQLite-backed exchange log.
type Transcript struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTranscript(dbPath string, logger *slog.Logger) (*Transcript, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	t := &Transcript{db: db, logger: logger}

	if err := t.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return t, nil
}

func (t *Transcript) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exchanges (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		channel       TEXT NOT NULL,
		chat_id       TEXT NOT NULL,
		sender_id     TEXT NOT NULL,
		inbound_text  TEXT NOT NULL,
		response_kind TEXT NOT NULL,
		response_text TEXT,
		card_title    TEXT,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_exchanges_chat ON exchanges(channel, chat_id, created_at);
	`

	_, err := t.db.Exec(schema)
	return err
}

// Record appends one completed exchange.
func (t *Transcript) Record(ctx context.Context, in domain.InboundMessage, out domain.OutboundMessage) error {
	var cardTitle string
	if out.Card != nil {
		cardTitle = out.Card.Title
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO exchanges (channel, chat_id, sender_id, inbound_text, response_kind, response_text, card_title, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Channel, in.ChatID, in.SenderID, in.Text, string(out.Kind), out.Text, cardTitle, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("record exchange: %w", err)
	}
	return nil
}

// Count returns the number of recorded exchanges, used by status
// reporting and tests.
func (t *Transcript) Count(ctx context.Context) (int64, error) {
	var n int64
	err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchanges`).Scan(&n)
	return n, err
}

// Prune deletes exchanges older than the retention window.
func (t *Transcript) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := t.db.ExecContext(ctx,
		`DELETE FROM exchanges WHERE created_at < ?`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune exchanges: %w", err)
	}
	return res.RowsAffected()
}

func (t *Transcript) Close() error {
	return t.db.Close()
}
