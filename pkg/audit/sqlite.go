package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/harborchat/valet/pkg/action"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	action_id       TEXT PRIMARY KEY,
	principal_id    TEXT NOT NULL,
	action_kind     TEXT NOT NULL,
	parameters      TEXT NOT NULL,
	status          TEXT NOT NULL,
	detail          TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_principal ON audit_entries(principal_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_conversation ON audit_entries(conversation_id);
`

// SQLiteStore is the durable Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the audit database at path. Use
// ":memory:" for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}
	// A single connection keeps ":memory:" coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating audit db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append inserts a new entry. The caller's Status is ignored: every entry
// starts pending. The minted id is a UUIDv7 so display order follows
// creation order closely enough.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("minting action id: %w", err)
	}
	params, err := json.Marshal(e.Parameters)
	if err != nil {
		return "", fmt.Errorf("encoding parameters: %w", err)
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_entries
		 (action_id, principal_id, action_kind, parameters, status, detail, conversation_id, created_at)
		 VALUES (?, ?, ?, ?, ?, '', ?, ?)`,
		id.String(), e.PrincipalID, string(e.ActionKind), string(params),
		string(StatusPending), e.ConversationID, createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("appending audit entry: %w", err)
	}
	return id.String(), nil
}

// Transition moves an entry from pending to a terminal status. Calling it
// again with the same terminal status is a no-op; a different terminal
// status is rejected.
func (s *SQLiteStore) Transition(ctx context.Context, actionID string, status Status, detail string) error {
	if status != StatusExecuted && status != StatusFailed {
		return fmt.Errorf("transition to non-terminal status %q", status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE audit_entries SET status = ?, detail = ? WHERE action_id = ? AND status = ?`,
		string(status), detail, actionID, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("transitioning audit entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transitioning audit entry: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM audit_entries WHERE action_id = ?`, actionID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading audit entry: %w", err)
	}
	if Status(current) == status {
		return nil
	}
	return ErrTerminalMismatch
}

func (s *SQLiteStore) ByPrincipal(ctx context.Context, principalID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, principal_id, action_kind, parameters, status, detail, conversation_id, created_at
		 FROM audit_entries WHERE principal_id = ? ORDER BY created_at DESC LIMIT ?`,
		principalID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) ByConversation(ctx context.Context, conversationID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, principal_id, action_kind, parameters, status, detail, conversation_id, created_at
		 FROM audit_entries WHERE conversation_id = ? ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			kind      string
			params    string
			status    string
			createdAt string
		)
		err := rows.Scan(&e.ActionID, &e.PrincipalID, &kind, &params, &status,
			&e.Detail, &e.ConversationID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.ActionKind = action.Kind(kind)
		e.Status = Status(status)
		if err := json.Unmarshal([]byte(params), &e.Parameters); err != nil {
			return nil, fmt.Errorf("decoding parameters for %s: %w", e.ActionID, err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
