// Package action defines the closed set of assistant-executable actions and
// their parameter contracts. The executor is the sole validator of required
// keys; this package only answers the pure questions the orchestrator needs
// before any network call is made.
package action

import (
	"fmt"
	"strings"

	"github.com/adhocore/gronx"
)

type Kind string

const (
	KindScheduleEvent Kind = "schedule_event"
	KindSetReminder   Kind = "set_reminder"
	KindSendMessage   Kind = "send_message"
	KindSearchHistory Kind = "search_history"
)

// Intent is a proposed action as produced by the assistant collaborator.
// Parameters is a loose map because the producer emits unstructured
// key-value pairs; nothing here is trusted until the executor validates it.
type Intent struct {
	Name           Kind                   `json:"name"`
	Parameters     map[string]interface{} `json:"parameters"`
	ConversationID string                 `json:"conversation_id,omitempty"`
}

type spec struct {
	required []string
	optional []string

	// identField names a human-identifying parameter (a contact name) that
	// must be resolved to resolvedField before the action can execute.
	identField    string
	resolvedField string

	// scheduling actions occupy a time range and are conflict-checked.
	scheduling bool

	description string
	template    func(p map[string]interface{}) string
}

var specs = map[Kind]spec{
	KindScheduleEvent: {
		required:      []string{"title", "start_time", "duration_minutes"},
		optional:      []string{"target", "target_id", "location", "notes"},
		identField:    "target",
		resolvedField: "target_id",
		scheduling:    true,
		description:   "Schedule a calendar event, optionally with another contact.",
		template:      renderScheduleEvent,
	},
	KindSetReminder: {
		required:    []string{"message", "remind_at"},
		optional:    []string{"recurrence"},
		description: "Set a reminder for the user at a given time, optionally recurring.",
		template:    renderSetReminder,
	},
	KindSendMessage: {
		required:      []string{"target", "content"},
		optional:      []string{"target_id"},
		identField:    "target",
		resolvedField: "target_id",
		description:   "Send a message to a contact on the user's behalf.",
		template:      renderSendMessage,
	},
	KindSearchHistory: {
		required:      []string{"query"},
		optional:      []string{"target", "target_id", "limit"},
		identField:    "target",
		resolvedField: "target_id",
		description:   "Search the user's message history.",
		template:      renderSearchHistory,
	},
}

func renderScheduleEvent(p map[string]interface{}) string {
	return fmt.Sprintf("Schedule %q at %s for %s min",
		String(p, "title"), String(p, "start_time"), String(p, "duration_minutes"))
}

func renderSetReminder(p map[string]interface{}) string {
	s := fmt.Sprintf("Remind you at %s: %q", String(p, "remind_at"), String(p, "message"))
	if r := String(p, "recurrence"); r != "" {
		s += fmt.Sprintf(" (repeats: %s)", r)
	}
	return s
}

func renderSendMessage(p map[string]interface{}) string {
	return fmt.Sprintf("Send to %s: %q", String(p, "target"), String(p, "content"))
}

func renderSearchHistory(p map[string]interface{}) string {
	return fmt.Sprintf("Search history for %q", String(p, "query"))
}

// Known reports whether name is a recognized action kind.
func Known(name Kind) bool {
	_, ok := specs[name]
	return ok
}

// Kinds returns all action kinds in stable order.
func Kinds() []Kind {
	return []Kind{KindScheduleEvent, KindSetReminder, KindSendMessage, KindSearchHistory}
}

// Description returns the human-readable purpose of a kind, used for the
// assistant's tool definitions. Empty for unknown kinds.
func Description(kind Kind) string {
	return specs[kind].description
}

// Required returns the required parameter keys for a kind.
func Required(kind Kind) []string {
	sp, ok := specs[kind]
	if !ok {
		return nil
	}
	out := make([]string, len(sp.required))
	copy(out, sp.required)
	return out
}

// Missing reports which required keys are absent or empty. Pure predicate,
// no I/O.
func Missing(kind Kind, params map[string]interface{}) []string {
	sp, ok := specs[kind]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range sp.required {
		if !present(params, key) {
			missing = append(missing, key)
		}
	}
	return missing
}

// NeedsResolve reports whether the action must go through the executor's
// resolve pass before the user can be asked to confirm it. True when a
// human-identifying field was supplied without its resolved identifier, and
// always for scheduling actions, whose time range must be conflict-checked.
func NeedsResolve(kind Kind, params map[string]interface{}) bool {
	sp, ok := specs[kind]
	if !ok {
		return false
	}
	if sp.scheduling {
		return true
	}
	if sp.identField == "" {
		return false
	}
	return present(params, sp.identField) && !present(params, sp.resolvedField)
}

// IdentFields returns the (name field, resolved-id field) pair for kinds
// that reference a contact, or ("", "") otherwise.
func IdentFields(kind Kind) (identField, resolvedField string) {
	sp := specs[kind]
	return sp.identField, sp.resolvedField
}

// IsScheduling reports whether a kind occupies a time range.
func IsScheduling(kind Kind) bool {
	return specs[kind].scheduling
}

// Render produces the confirmation line shown to the user. Display only,
// never used for execution logic.
func Render(kind Kind, params map[string]interface{}) string {
	sp, ok := specs[kind]
	if !ok {
		return string(kind)
	}
	return sp.template(params)
}

// ValidateRecurrence checks an optional cron recurrence expression. An
// empty expression is valid (one-shot reminder).
func ValidateRecurrence(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid recurrence expression %q", expr)
	}
	return nil
}

func present(params map[string]interface{}, key string) bool {
	v, ok := params[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}
