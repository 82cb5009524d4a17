// Package exec is the server side of the action pipeline: it validates a
// proposed action against backing state, resolves ambiguous targets,
// detects scheduling conflicts, performs the effect exactly once, and
// records every attempt in the audit log.
package exec

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/harborchat/valet/pkg/action"
	"github.com/harborchat/valet/pkg/audit"
	"github.com/harborchat/valet/pkg/bus"
	"github.com/harborchat/valet/pkg/directory"
	"github.com/harborchat/valet/pkg/logger"
	"github.com/harborchat/valet/pkg/outcome"
	"github.com/harborchat/valet/pkg/schedule"
	"github.com/harborchat/valet/pkg/session"
)

// Service executes actions. Resolve is side-effect-free: it normalizes
// parameters, disambiguates targets, and reports conflicts without running
// the effect. Commit always executes. Both modes create an audit entry the
// moment the request is accepted.
type Service struct {
	audit     audit.Store
	dir       directory.Directory
	schedules schedule.Store
	reminders schedule.ReminderStore
	bus       *bus.MessageBus
	sessions  *session.Manager

	// locks serializes conflict-check-then-write per principal so two
	// near-simultaneous overlapping commits cannot both pass the check.
	locks sync.Map // principalID -> *sync.Mutex
}

func NewService(
	auditStore audit.Store,
	dir directory.Directory,
	schedules schedule.Store,
	reminders schedule.ReminderStore,
	mb *bus.MessageBus,
	sessions *session.Manager,
) *Service {
	return &Service{
		audit:     auditStore,
		dir:       dir,
		schedules: schedules,
		reminders: reminders,
		bus:       mb,
		sessions:  sessions,
	}
}

func (s *Service) principalLock(principalID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(principalID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Resolve validates and normalizes an action without executing it.
//
// Outcomes: parameter/not-found failures are terminal; multiple target
// matches produce a selection request; an occupied time range produces a
// conflict with alternatives; otherwise the outcome is a success carrying
// the fully resolved parameters, ready for Commit.
func (s *Service) Resolve(ctx context.Context, kind action.Kind, params map[string]interface{}, principalID, conversationID string) outcome.Outcome {
	actionID, err := s.appendEntry(ctx, kind, params, principalID, conversationID)
	if err != nil {
		return outcome.Failure(outcome.FailureInternal, "", "recording attempt: "+err.Error())
	}

	out := s.resolveLocked(ctx, kind, params, principalID)
	out.ActionID = actionID
	s.finishEntry(ctx, actionID, out, "resolve")
	return out
}

func (s *Service) resolveLocked(ctx context.Context, kind action.Kind, params map[string]interface{}, principalID string) outcome.Outcome {
	if !action.Known(kind) {
		return outcome.Failure(outcome.FailureParams, "", fmt.Sprintf("unknown action %q", kind))
	}
	if missing := action.Missing(kind, params); len(missing) > 0 {
		return outcome.Failure(outcome.FailureParams, "",
			"missing required parameters: "+strings.Join(missing, ", "))
	}

	normalized := action.Clone(params)

	identField, resolvedField := action.IdentFields(kind)
	if identField != "" {
		name := action.String(normalized, identField)
		id := action.String(normalized, resolvedField)
		if name != "" && id == "" {
			resolved := s.resolveTarget(ctx, kind, normalized, principalID, name, resolvedField)
			if resolved.Status != outcome.StatusSuccess {
				return resolved
			}
			normalized = resolved.Parameters
		}
	}

	if action.IsScheduling(kind) {
		conflicted := s.checkConflict(ctx, kind, normalized, principalID)
		if conflicted.Status != outcome.StatusSuccess {
			return conflicted
		}
	}

	if kind == action.KindSetReminder {
		if err := action.ValidateRecurrence(action.String(normalized, "recurrence")); err != nil {
			return outcome.Failure(outcome.FailureParams, "", err.Error())
		}
	}

	return outcome.Ready("", normalized)
}

// resolveTarget maps a contact name to exactly one identifier, or asks the
// caller to choose.
func (s *Service) resolveTarget(ctx context.Context, kind action.Kind, params map[string]interface{}, principalID, name, resolvedField string) outcome.Outcome {
	matches, err := s.dir.FindByName(ctx, principalID, name)
	if err != nil {
		return outcome.Failure(outcome.FailureInternal, "", "looking up contact: "+err.Error())
	}

	switch len(matches) {
	case 0:
		return outcome.Failure(outcome.FailureNotFound, "",
			fmt.Sprintf("no contact named %q", name))
	case 1:
		normalized := action.Clone(params)
		normalized[resolvedField] = matches[0].ID
		return outcome.Ready("", normalized)
	default:
		options := make([]outcome.SelectionOption, 0, len(matches))
		for _, m := range matches {
			options = append(options, outcome.SelectionOption{
				ID:       m.ID,
				Title:    m.DisplayName,
				Subtitle: m.Handle,
				Icon:     m.AvatarURL,
				Metadata: map[string]interface{}{"contact_id": m.ID},
			})
		}
		return outcome.SelectionNeeded("", outcome.SelectionRequest{
			SelectionType: outcome.SelectTarget,
			Prompt:        fmt.Sprintf("Multiple contacts match %q. Which one?", name),
			Options:       options,
			Context: outcome.SelectionContext{
				OriginalAction:     kind,
				OriginalParameters: params,
			},
		})
	}
}

// checkConflict verifies the proposed time range is free and, when it is
// not, offers alternatives. An empty alternative list is escalated to a
// hard failure: a conflict outcome always carries at least one suggestion.
func (s *Service) checkConflict(ctx context.Context, kind action.Kind, params map[string]interface{}, principalID string) outcome.Outcome {
	start, end, failure := schedulingRange(params)
	if failure != nil {
		return *failure
	}

	conflicting, found, err := schedule.FirstConflict(ctx, s.schedules, principalID, start, end)
	if err != nil {
		return outcome.Failure(outcome.FailureInternal, "", "checking calendar: "+err.Error())
	}
	if !found {
		return outcome.Ready("", params)
	}

	alts, err := schedule.Alternatives(ctx, s.schedules, principalID, start, end.Sub(start))
	if err != nil {
		return outcome.Failure(outcome.FailureInternal, "", "suggesting alternatives: "+err.Error())
	}
	if len(alts) == 0 {
		return outcome.Failure(outcome.FailureExecution,
			"", "the requested time conflicts and no free alternative was found")
	}

	return outcome.ConflictFound("", outcome.ConflictResult{
		Conflicting: outcome.CommitmentRef{
			ID:    conflicting.ID,
			Title: conflicting.Title,
			Start: conflicting.Start,
			End:   conflicting.End,
		},
		SuggestedAlternatives: alts,
		OriginalAction:        kind,
		OriginalParameters:    params,
	})
}

// Commit executes the action as given. Parameters are assumed resolved; the
// only check repeated here is the scheduling conflict, which must run under
// the principal's lock in the same critical section as the calendar write.
func (s *Service) Commit(ctx context.Context, kind action.Kind, params map[string]interface{}, principalID, conversationID string) outcome.Outcome {
	actionID, err := s.appendEntry(ctx, kind, params, principalID, conversationID)
	if err != nil {
		return outcome.Failure(outcome.FailureInternal, "", "recording attempt: "+err.Error())
	}

	var out outcome.Outcome
	if !action.Known(kind) {
		out = outcome.Failure(outcome.FailureParams, "", fmt.Sprintf("unknown action %q", kind))
	} else if missing := action.Missing(kind, params); len(missing) > 0 {
		out = outcome.Failure(outcome.FailureParams, "",
			"missing required parameters: "+strings.Join(missing, ", "))
	} else {
		out = s.execute(ctx, kind, params, principalID, conversationID)
	}

	out.ActionID = actionID
	s.finishEntry(ctx, actionID, out, "commit")
	return out
}

func (s *Service) appendEntry(ctx context.Context, kind action.Kind, params map[string]interface{}, principalID, conversationID string) (string, error) {
	actionID, err := s.audit.Append(ctx, audit.Entry{
		PrincipalID:    principalID,
		ActionKind:     kind,
		Parameters:     params,
		ConversationID: conversationID,
	})
	if err != nil {
		logger.ErrorCF("exec", "Audit append failed", map[string]interface{}{
			"principal": principalID,
			"action":    string(kind),
			"error":     err.Error(),
		})
		return "", err
	}
	return actionID, nil
}

// finishEntry moves the pending entry to its terminal status. The entry is
// never left pending: even selection and conflict outcomes complete the
// attempt they were produced by.
func (s *Service) finishEntry(ctx context.Context, actionID string, out outcome.Outcome, mode string) {
	status := audit.StatusExecuted
	detail := mode + ":" + string(out.Status)
	if out.Status == outcome.StatusFailure {
		status = audit.StatusFailed
		detail = out.Message
	}
	if err := s.audit.Transition(ctx, actionID, status, detail); err != nil {
		logger.WarnCF("exec", "Audit transition failed", map[string]interface{}{
			"action_id": actionID,
			"status":    string(status),
			"error":     err.Error(),
		})
	}
}
