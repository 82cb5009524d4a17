package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborchat/valet/pkg/action"
	"github.com/harborchat/valet/pkg/bus"
	"github.com/harborchat/valet/pkg/outcome"
	"github.com/harborchat/valet/pkg/schedule"
)

func (s *Service) execute(ctx context.Context, kind action.Kind, params map[string]interface{}, principalID, conversationID string) outcome.Outcome {
	switch kind {
	case action.KindScheduleEvent:
		return s.executeScheduleEvent(ctx, params, principalID)
	case action.KindSetReminder:
		return s.executeSetReminder(ctx, params, principalID)
	case action.KindSendMessage:
		return s.executeSendMessage(ctx, params, principalID, conversationID)
	case action.KindSearchHistory:
		return s.executeSearchHistory(params, principalID)
	default:
		return outcome.Failure(outcome.FailureParams, "", fmt.Sprintf("unknown action %q", kind))
	}
}

// schedulingRange extracts and validates the [start, end) range of a
// scheduling action. It returns a failure outcome instead of an error so
// both resolve and commit surface the same message.
func schedulingRange(params map[string]interface{}) (time.Time, time.Time, *outcome.Outcome) {
	start, ok := action.Time(params, "start_time")
	if !ok {
		f := outcome.Failure(outcome.FailureParams, "", "start_time must be an RFC3339 timestamp")
		return time.Time{}, time.Time{}, &f
	}
	minutes, ok := action.Int(params, "duration_minutes")
	if !ok || minutes <= 0 {
		f := outcome.Failure(outcome.FailureParams, "", "duration_minutes must be a positive number")
		return time.Time{}, time.Time{}, &f
	}
	return start, start.Add(time.Duration(minutes) * time.Minute), nil
}

// executeScheduleEvent re-runs the conflict check inside the principal's
// lock so the check and the calendar write are one critical section. A
// conflict discovered here is returned as a conflict outcome, not silently
// executed over.
func (s *Service) executeScheduleEvent(ctx context.Context, params map[string]interface{}, principalID string) outcome.Outcome {
	mu := s.principalLock(principalID)
	mu.Lock()
	defer mu.Unlock()

	checked := s.checkConflict(ctx, action.KindScheduleEvent, params, principalID)
	if checked.Status != outcome.StatusSuccess {
		return checked
	}

	start, end, failure := schedulingRange(params)
	if failure != nil {
		return *failure
	}

	c := schedule.Commitment{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Title:       action.String(params, "title"),
		Start:       start,
		End:         end,
		ContactID:   action.String(params, "target_id"),
	}
	if err := s.schedules.Add(ctx, c); err != nil {
		return outcome.Failure(outcome.FailureExecution, "", "writing calendar: "+err.Error())
	}

	return outcome.Success("", fmt.Sprintf("Scheduled %q for %s", c.Title, start.Format(time.RFC1123)),
		map[string]interface{}{
			"commitment_id": c.ID,
			"start":         start.Format(time.RFC3339),
			"end":           end.Format(time.RFC3339),
		})
}

func (s *Service) executeSetReminder(ctx context.Context, params map[string]interface{}, principalID string) outcome.Outcome {
	remindAt, ok := action.Time(params, "remind_at")
	if !ok {
		return outcome.Failure(outcome.FailureParams, "", "remind_at must be an RFC3339 timestamp")
	}
	recurrence := action.String(params, "recurrence")
	if err := action.ValidateRecurrence(recurrence); err != nil {
		return outcome.Failure(outcome.FailureParams, "", err.Error())
	}

	r := schedule.Reminder{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Message:     action.String(params, "message"),
		RemindAt:    remindAt,
		Recurrence:  recurrence,
	}
	if err := s.reminders.Add(ctx, r); err != nil {
		return outcome.Failure(outcome.FailureExecution, "", "writing reminder: "+err.Error())
	}

	return outcome.Success("", fmt.Sprintf("Reminder set for %s", remindAt.Format(time.RFC1123)),
		map[string]interface{}{"reminder_id": r.ID})
}

func (s *Service) executeSendMessage(ctx context.Context, params map[string]interface{}, principalID, conversationID string) outcome.Outcome {
	targetID := action.String(params, "target_id")
	if targetID == "" {
		return outcome.Failure(outcome.FailureParams, "", "target_id is required at commit time")
	}

	contact, ok, err := s.dir.Get(ctx, principalID, targetID)
	if err != nil {
		return outcome.Failure(outcome.FailureInternal, "", "looking up contact: "+err.Error())
	}
	if !ok {
		return outcome.Failure(outcome.FailureNotFound, "", fmt.Sprintf("contact %s not found", targetID))
	}

	err = s.bus.PublishOutbound(ctx, bus.OutboundMessage{
		ConversationID: conversationID,
		TargetID:       contact.ID,
		Kind:           bus.OutboundRelay,
		Content:        action.String(params, "content"),
	})
	if err != nil {
		return outcome.Failure(outcome.FailureExecution, "", "delivering message: "+err.Error())
	}

	return outcome.Success("", fmt.Sprintf("Message sent to %s", contact.DisplayName),
		map[string]interface{}{"delivered_to": contact.ID})
}

// executeSearchHistory searches only the acting principal's history; the
// manager holds every principal's sessions, so scoping happens here, not in
// the caller's parameters.
func (s *Service) executeSearchHistory(params map[string]interface{}, principalID string) outcome.Outcome {
	query := action.String(params, "query")
	limit, _ := action.Int(params, "limit")

	hits := s.sessions.Search(principalID, query, limit)
	results := make([]interface{}, 0, len(hits))
	for _, h := range hits {
		results = append(results, map[string]interface{}{
			"session_key": h.SessionKey,
			"role":        h.Role,
			"sender":      h.Sender,
			"content":     h.Content,
			"timestamp":   h.Timestamp.Format(time.RFC3339),
		})
	}

	return outcome.Success("", fmt.Sprintf("Found %d matching message(s)", len(hits)),
		map[string]interface{}{
			"query":   query,
			"count":   len(hits),
			"results": results,
		})
}
