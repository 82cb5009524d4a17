// Package audit keeps the durable record of every execution attempt. An
// entry is written pending before the effect runs and moves exactly once to
// executed or failed: a crash mid-execution still leaves proof that an
// attempt was made.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/harborchat/valet/pkg/action"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

var (
	ErrNotFound = errors.New("audit entry not found")
	// ErrTerminalMismatch means a transition tried to move an entry to a
	// different terminal status than the one it already has. Repeating the
	// same terminal status is idempotent and allowed.
	ErrTerminalMismatch = errors.New("audit entry already in a different terminal status")
)

// Entry is one execution attempt. ActionID is minted by the store on
// append.
type Entry struct {
	ActionID       string                 `json:"action_id"`
	PrincipalID    string                 `json:"principal_id"`
	ActionKind     action.Kind            `json:"action_kind"`
	Parameters     map[string]interface{} `json:"parameters"`
	Status         Status                 `json:"status"`
	Detail         string                 `json:"detail,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Store is the append-only audit log. Append returns the server-minted
// action id; Transition is idempotent for a repeated terminal status.
type Store interface {
	Append(ctx context.Context, e Entry) (string, error)
	Transition(ctx context.Context, actionID string, status Status, detail string) error
	ByPrincipal(ctx context.Context, principalID string, limit int) ([]Entry, error)
	ByConversation(ctx context.Context, conversationID string) ([]Entry, error)
}
