package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/tmc/langchaingo/llms"
)

type HistoryStore struct {
	DB *sql.DB
}

// OpenDB opens the sqlite database at dbPath with a single connection,
// a busy timeout and, for files, WAL journaling. The handle can be shared
// by the history store and the knowledge store.
func OpenDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" coherent and serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if dbPath != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// NewHistoryStore opens dbPath and creates the history tables.
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}
	h, err := NewHistoryStoreDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

// NewHistoryStoreDB creates the history tables on an open handle. Closing
// the store closes db.
func NewHistoryStoreDB(db *sql.DB) (*HistoryStore, error) {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			chat_id TEXT,
			request TEXT,
			plan_id TEXT,
			plan_title TEXT,
			outcome TEXT,
			results TEXT,
			summary TEXT,
			error TEXT,
			created_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_chat ON runs(chat_id, created_at);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return nil, err
		}
	}

	return &HistoryStore{DB: db}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

func (h *HistoryStore) AddMessage(chatID string, role string, content string) error {
	query := `INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`
	_, err := h.DB.Exec(query, chatID, role, content)
	return err
}

func (h *HistoryStore) ClearHistory(chatID string) error {
	_, err := h.DB.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID)
	return err
}

// GetHistory returns the latest limit messages in chronological order.
func (h *HistoryStore) GetHistory(chatID string, limit int) ([]llms.MessageContent, error) {
	query := `SELECT role, content FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := h.DB.Query(query, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []llms.MessageContent
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}

		var msgRole llms.ChatMessageType
		switch role {
		case RoleHuman:
			msgRole = llms.ChatMessageTypeHuman
		case RoleAI:
			msgRole = llms.ChatMessageTypeAI
		case RoleSystem:
			msgRole = llms.ChatMessageTypeSystem
		default:
			msgRole = llms.ChatMessageTypeHuman
		}

		history = append(history, llms.TextParts(msgRole, content))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	return history, nil
}

// RecordRun inserts or replaces a run record.
func (h *HistoryStore) RecordRun(ctx context.Context, run Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	_, err = h.DB.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, chat_id, request, plan_id, plan_title, outcome, results, summary, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ChatID, run.Request, run.PlanID, run.PlanTitle, run.Outcome,
		string(results), run.Summary, run.Error, run.CreatedAt.UnixNano(),
	)
	return err
}

// ListRuns returns the newest runs of a chat first.
func (h *HistoryStore) ListRuns(ctx context.Context, chatID string, limit int) ([]Run, error) {
	rows, err := h.DB.QueryContext(ctx,
		`SELECT id, chat_id, request, plan_id, plan_title, outcome, results, summary, error, created_at
		 FROM runs WHERE chat_id = ? ORDER BY created_at DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			results string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Request, &r.PlanID, &r.PlanTitle, &r.Outcome, &results, &r.Summary, &r.Error, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
			return nil, fmt.Errorf("decode results of run %s: %w", r.ID, err)
		}
		r.CreatedAt = time.Unix(0, created)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
