// Package outcome defines the typed results of the action execution
// pipeline. Disambiguation and conflict outcomes are first-class statuses
// here, not error strings: callers branch on Status, never on message
// contents.
package outcome

import (
	"time"

	"github.com/harborchat/valet/pkg/action"
)

type Status string

const (
	StatusSuccess           Status = "success"
	StatusFailure           Status = "failure"
	StatusSelectionRequired Status = "selection_required"
	StatusConflictDetected  Status = "conflict_detected"
)

// FailureKind classifies terminal failures so the orchestrator can pick a
// recovery flow (not-found escalates to new-target creation, execution and
// internal failures get a retry affordance).
type FailureKind string

const (
	FailureParams    FailureKind = "parameter_error"
	FailureNotFound  FailureKind = "not_found"
	FailureExecution FailureKind = "execution_error"
	FailureInternal  FailureKind = "internal_error"
	FailureAuth      FailureKind = "auth_error"
)

type SelectionType string

const (
	SelectTarget  SelectionType = "target"
	SelectTime    SelectionType = "time"
	SelectAction  SelectionType = "action"
	SelectGeneric SelectionType = "generic"
)

type SelectionOption struct {
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Subtitle string                 `json:"subtitle,omitempty"`
	Icon     string                 `json:"icon,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SelectionContext carries the original action untouched so the client can
// merge the chosen option back in without re-deriving prior state.
type SelectionContext struct {
	OriginalAction     action.Kind            `json:"original_action"`
	OriginalParameters map[string]interface{} `json:"original_parameters"`
}

// SelectionRequest is only ever produced by the executor in resolve mode,
// never synthesized client-side.
type SelectionRequest struct {
	SelectionType SelectionType     `json:"selection_type"`
	Prompt        string            `json:"prompt"`
	Options       []SelectionOption `json:"options"`
	Context       SelectionContext  `json:"context"`
}

// MergeOption resolves the selection into a fresh parameter map: every key
// of the original parameters is preserved and only the resolved identifier
// field is added.
func (sr SelectionRequest) MergeOption(opt SelectionOption) (action.Kind, map[string]interface{}) {
	merged := action.Clone(sr.Context.OriginalParameters)
	_, resolvedField := action.IdentFields(sr.Context.OriginalAction)
	if resolvedField != "" {
		merged[resolvedField] = opt.ID
	}
	return sr.Context.OriginalAction, merged
}

// CommitmentRef identifies the commitment a proposed time range collides
// with.
type CommitmentRef struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ConflictResult always carries at least one alternative; an executor that
// cannot suggest any must return a hard failure instead.
type ConflictResult struct {
	Conflicting           CommitmentRef          `json:"conflicting"`
	SuggestedAlternatives []time.Time            `json:"suggested_alternatives"`
	OriginalAction        action.Kind            `json:"original_action"`
	OriginalParameters    map[string]interface{} `json:"original_parameters"`
}

// WithAlternative substitutes a chosen alternative start time into a copy
// of the original parameters, ready for commit.
func (cr ConflictResult) WithAlternative(start time.Time) (action.Kind, map[string]interface{}) {
	merged := action.Clone(cr.OriginalParameters)
	merged["start_time"] = start.Format(time.RFC3339)
	return cr.OriginalAction, merged
}

// Outcome is the executor's reply to one resolve or commit call.
//
// ActionID is set whenever the call reached the executor far enough to
// create an audit entry, including resolve attempts. On a successful
// resolve, Parameters holds the normalized (identifier-substituted)
// parameter map that should be fed to commit; on a successful commit, Data
// holds the effect's payload.
type Outcome struct {
	Status      Status                 `json:"status"`
	ActionID    string                 `json:"action_id,omitempty"`
	Message     string                 `json:"message,omitempty"`
	FailureKind FailureKind            `json:"failure_kind,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Selection   *SelectionRequest      `json:"selection,omitempty"`
	Conflict    *ConflictResult        `json:"conflict,omitempty"`
}

func Success(actionID, message string, data map[string]interface{}) Outcome {
	return Outcome{Status: StatusSuccess, ActionID: actionID, Message: message, Data: data}
}

// Ready is the side-effect-free resolve success: the action is unambiguous
// and conflict-free, and params are fully resolved for commit.
func Ready(actionID string, params map[string]interface{}) Outcome {
	return Outcome{Status: StatusSuccess, ActionID: actionID, Parameters: params}
}

func Failure(kind FailureKind, actionID, message string) Outcome {
	return Outcome{Status: StatusFailure, FailureKind: kind, ActionID: actionID, Message: message}
}

func SelectionNeeded(actionID string, sr SelectionRequest) Outcome {
	return Outcome{Status: StatusSelectionRequired, ActionID: actionID, Selection: &sr}
}

func ConflictFound(actionID string, cr ConflictResult) Outcome {
	return Outcome{Status: StatusConflictDetected, ActionID: actionID, Conflict: &cr}
}

// IsTerminal reports whether the outcome ends the pipeline rather than
// requesting more input.
func (o Outcome) IsTerminal() bool {
	return o.Status == StatusSuccess || o.Status == StatusFailure
}

// ExecutionResult is the flat result shape handed to the UI layer on a
// terminal outcome.
type ExecutionResult struct {
	Success  bool                   `json:"success"`
	ActionID string                 `json:"action_id,omitempty"`
	Message  string                 `json:"message,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Result flattens a terminal outcome for rendering.
func (o Outcome) Result() ExecutionResult {
	return ExecutionResult{
		Success:  o.Status == StatusSuccess,
		ActionID: o.ActionID,
		Message:  o.Message,
		Data:     o.Data,
	}
}
