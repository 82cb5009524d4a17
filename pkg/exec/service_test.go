package exec

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harborchat/valet/pkg/action"
	"github.com/harborchat/valet/pkg/audit"
	"github.com/harborchat/valet/pkg/bus"
	"github.com/harborchat/valet/pkg/directory"
	"github.com/harborchat/valet/pkg/outcome"
	"github.com/harborchat/valet/pkg/schedule"
	"github.com/harborchat/valet/pkg/session"
)

type fixture struct {
	svc       *Service
	audit     *audit.SQLiteStore
	dir       *directory.MemoryDirectory
	schedules *schedule.MemoryStore
	reminders schedule.ReminderStore
	bus       *bus.MessageBus
	sessions  *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	auditStore, err := audit.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { auditStore.Close() })

	f := &fixture{
		audit:     auditStore,
		dir:       directory.NewMemoryDirectory(),
		schedules: schedule.NewMemoryStore(),
		reminders: schedule.NewMemoryReminderStore(),
		bus:       bus.NewMessageBus(),
		sessions:  session.NewManager(""),
	}
	t.Cleanup(f.bus.Close)
	f.svc = NewService(f.audit, f.dir, f.schedules, f.reminders, f.bus, f.sessions)
	return f
}

func (f *fixture) withReminders(store schedule.ReminderStore) *fixture {
	f.svc = NewService(f.audit, f.dir, f.schedules, store, f.bus, f.sessions)
	return f
}

func (f *fixture) lastEntry(t *testing.T, principal string) audit.Entry {
	t.Helper()
	entries, err := f.audit.ByPrincipal(context.Background(), principal, 1)
	if err != nil {
		t.Fatalf("ByPrincipal: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no audit entries recorded")
	}
	return entries[0]
}

func wednesday(hour, min int) string {
	return time.Date(2026, 9, 2, hour, min, 0, 0, time.UTC).Format(time.RFC3339)
}

type failingReminderStore struct{}

func (failingReminderStore) Add(ctx context.Context, r schedule.Reminder) error {
	return errors.New("reminder backend unavailable")
}

func (failingReminderStore) ByPrincipal(ctx context.Context, principalID string) ([]schedule.Reminder, error) {
	return nil, nil
}

func TestResolveAmbiguousTargetReturnsSelection(t *testing.T) {
	f := newFixture(t)
	f.dir.Seed(directory.Contact{ID: "u123", PrincipalID: "p1", DisplayName: "Sam Alvarez"})
	f.dir.Seed(directory.Contact{ID: "u456", PrincipalID: "p1", DisplayName: "Sam Okafor"})

	params := map[string]interface{}{
		"title":            "sync",
		"target":           "Sam",
		"start_time":       wednesday(10, 0),
		"duration_minutes": 60,
	}
	out := f.svc.Resolve(context.Background(), action.KindScheduleEvent, params, "p1", "c1")

	if out.Status != outcome.StatusSelectionRequired {
		t.Fatalf("status = %q, want selection_required (%s)", out.Status, out.Message)
	}
	if out.ActionID == "" {
		t.Fatal("resolve attempt must carry an action id")
	}
	if len(out.Selection.Options) != 2 {
		t.Fatalf("got %d options, want 2", len(out.Selection.Options))
	}
	ctxParams := out.Selection.Context.OriginalParameters
	for k, v := range params {
		if ctxParams[k] != v {
			t.Fatalf("context parameter %q changed: %v != %v", k, ctxParams[k], v)
		}
	}

	entry := f.lastEntry(t, "p1")
	if entry.Status != audit.StatusExecuted {
		t.Fatalf("resolve entry left %q", entry.Status)
	}
}

func TestResolveSingleMatchSubstitutesIdentifier(t *testing.T) {
	f := newFixture(t)
	f.dir.Seed(directory.Contact{ID: "u789", PrincipalID: "p1", DisplayName: "Priya Nair"})

	out := f.svc.Resolve(context.Background(), action.KindSendMessage, map[string]interface{}{
		"target":  "Priya",
		"content": "running late",
	}, "p1", "c1")

	if out.Status != outcome.StatusSuccess {
		t.Fatalf("status = %q (%s)", out.Status, out.Message)
	}
	if out.Parameters["target_id"] != "u789" {
		t.Fatalf("target_id = %v", out.Parameters["target_id"])
	}
	if out.Parameters["target"] != "Priya" {
		t.Fatal("original name must be preserved")
	}
}

func TestResolveUnknownTargetFailsNotFound(t *testing.T) {
	f := newFixture(t)

	out := f.svc.Resolve(context.Background(), action.KindSendMessage, map[string]interface{}{
		"target":  "Lennart",
		"content": "hi",
	}, "p1", "c1")

	if out.Status != outcome.StatusFailure || out.FailureKind != outcome.FailureNotFound {
		t.Fatalf("got %q/%q, want failure/not_found", out.Status, out.FailureKind)
	}
	if entry := f.lastEntry(t, "p1"); entry.Status != audit.StatusFailed {
		t.Fatalf("entry status = %q, want failed", entry.Status)
	}
}

func TestResolveMissingParams(t *testing.T) {
	f := newFixture(t)

	out := f.svc.Resolve(context.Background(), action.KindSetReminder, map[string]interface{}{
		"message": "stretch",
	}, "p1", "c1")

	if out.Status != outcome.StatusFailure || out.FailureKind != outcome.FailureParams {
		t.Fatalf("got %q/%q, want failure/parameter_error", out.Status, out.FailureKind)
	}
}

func TestResolveConflictCarriesAlternatives(t *testing.T) {
	f := newFixture(t)
	start, _ := time.Parse(time.RFC3339, wednesday(10, 0))
	if err := f.schedules.Add(context.Background(), schedule.Commitment{
		ID: "busy1", PrincipalID: "p1", Title: "standup",
		Start: start, End: start.Add(30 * time.Minute),
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	out := f.svc.Resolve(context.Background(), action.KindScheduleEvent, map[string]interface{}{
		"title":            "1:1",
		"target_id":        "u123",
		"start_time":       wednesday(10, 0),
		"duration_minutes": 60,
	}, "p1", "c1")

	if out.Status != outcome.StatusConflictDetected {
		t.Fatalf("status = %q (%s)", out.Status, out.Message)
	}
	if out.Conflict.Conflicting.ID != "busy1" {
		t.Fatalf("conflicting = %+v", out.Conflict.Conflicting)
	}
	if len(out.Conflict.SuggestedAlternatives) < 1 {
		t.Fatal("conflict must carry at least one alternative")
	}
	for _, alt := range out.Conflict.SuggestedAlternatives {
		hits, _ := f.schedules.Between(context.Background(), "p1", alt, alt.Add(time.Hour))
		if len(hits) != 0 {
			t.Fatalf("alternative %v overlaps an existing commitment", alt)
		}
	}
	// Resolve must not have written the commitment.
	hits, _ := f.schedules.Between(context.Background(), "p1", start.Add(-time.Hour), start.Add(24*time.Hour))
	if len(hits) != 1 {
		t.Fatalf("resolve had a side effect: %d commitments", len(hits))
	}
}

func TestResolveIsSideEffectFree(t *testing.T) {
	f := newFixture(t)

	out := f.svc.Resolve(context.Background(), action.KindScheduleEvent, map[string]interface{}{
		"title":            "focus block",
		"start_time":       wednesday(14, 0),
		"duration_minutes": 30,
	}, "p1", "c1")

	if out.Status != outcome.StatusSuccess {
		t.Fatalf("status = %q (%s)", out.Status, out.Message)
	}
	if out.Parameters == nil {
		t.Fatal("ready outcome must carry normalized parameters")
	}
	from, _ := time.Parse(time.RFC3339, wednesday(0, 0))
	hits, _ := f.schedules.Between(context.Background(), "p1", from, from.Add(24*time.Hour))
	if len(hits) != 0 {
		t.Fatal("resolve must never execute the effect")
	}
}

func TestCommitReminderSucceedsAndAudits(t *testing.T) {
	f := newFixture(t)

	out := f.svc.Commit(context.Background(), action.KindSetReminder, map[string]interface{}{
		"message":   "submit expense report",
		"remind_at": wednesday(9, 0),
	}, "p1", "c1")

	if out.Status != outcome.StatusSuccess {
		t.Fatalf("status = %q (%s)", out.Status, out.Message)
	}
	if out.ActionID == "" {
		t.Fatal("commit must carry an action id")
	}
	entry := f.lastEntry(t, "p1")
	if entry.Status != audit.StatusExecuted {
		t.Fatalf("entry status = %q, want executed", entry.Status)
	}

	reminders, _ := f.reminders.ByPrincipal(context.Background(), "p1")
	if len(reminders) != 1 || reminders[0].Message != "submit expense report" {
		t.Fatalf("reminders = %+v", reminders)
	}
}

func TestCommitEffectFailureStillAudited(t *testing.T) {
	f := newFixture(t).withReminders(failingReminderStore{})

	out := f.svc.Commit(context.Background(), action.KindSetReminder, map[string]interface{}{
		"message":   "stretch",
		"remind_at": wednesday(9, 0),
	}, "p1", "c1")

	if out.Status != outcome.StatusFailure {
		t.Fatalf("status = %q", out.Status)
	}
	if out.ActionID == "" {
		t.Fatal("action id must be present: the entry was logged before the attempt")
	}
	entry := f.lastEntry(t, "p1")
	if entry.Status != audit.StatusFailed {
		t.Fatalf("entry status = %q, want failed", entry.Status)
	}
	if entry.Detail == "" {
		t.Fatal("failed entry must carry the error detail")
	}
}

func TestCommitSendMessagePublishesOutbound(t *testing.T) {
	f := newFixture(t)
	f.dir.Seed(directory.Contact{ID: "u789", PrincipalID: "p1", DisplayName: "Priya Nair"})

	out := f.svc.Commit(context.Background(), action.KindSendMessage, map[string]interface{}{
		"target":    "Priya",
		"target_id": "u789",
		"content":   "running late, sorry",
	}, "p1", "c1")

	if out.Status != outcome.StatusSuccess {
		t.Fatalf("status = %q (%s)", out.Status, out.Message)
	}

	msg, ok := f.bus.SubscribeOutbound(context.Background())
	if !ok {
		t.Fatal("no outbound message published")
	}
	if msg.TargetID != "u789" || msg.Kind != bus.OutboundRelay || msg.Content != "running late, sorry" {
		t.Fatalf("outbound = %+v", msg)
	}
}

func TestCommitSearchHistoryReturnsHits(t *testing.T) {
	f := newFixture(t)
	f.sessions.AddMessage("c1", "p1", "user", "p1", "did we settle on the venue?")
	f.sessions.AddMessage("c1", "p1", "assistant", "", "The venue is Fern Hall.")

	out := f.svc.Commit(context.Background(), action.KindSearchHistory, map[string]interface{}{
		"query": "venue",
	}, "p1", "c1")

	if out.Status != outcome.StatusSuccess {
		t.Fatalf("status = %q (%s)", out.Status, out.Message)
	}
	if out.Data["count"] != 2 {
		t.Fatalf("count = %v, want 2", out.Data["count"])
	}
}

func TestCommitSearchHistoryScopedToPrincipal(t *testing.T) {
	f := newFixture(t)
	f.sessions.AddMessage("p1-conv", "p1", "user", "p1", "the vault code is 4417")

	out := f.svc.Commit(context.Background(), action.KindSearchHistory, map[string]interface{}{
		"query": "vault code",
	}, "p2", "p2-conv")

	if out.Status != outcome.StatusSuccess {
		t.Fatalf("status = %q (%s)", out.Status, out.Message)
	}
	if out.Data["count"] != 0 {
		t.Fatalf("p2 read p1's history: count = %v, data = %+v", out.Data["count"], out.Data)
	}

	own := f.svc.Commit(context.Background(), action.KindSearchHistory, map[string]interface{}{
		"query": "vault code",
	}, "p1", "p1-conv")
	if own.Data["count"] != 1 {
		t.Fatalf("p1 lost access to own history: count = %v", own.Data["count"])
	}
}

func TestCommitScheduleRechecksConflictUnderLock(t *testing.T) {
	f := newFixture(t)
	params := map[string]interface{}{
		"title":            "deep work",
		"start_time":       wednesday(10, 0),
		"duration_minutes": 60,
	}

	var wg sync.WaitGroup
	results := make([]outcome.Outcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.Commit(context.Background(), action.KindScheduleEvent, params, "p1", "c1")
		}(i)
	}
	wg.Wait()

	successes := 0
	conflicts := 0
	for _, r := range results {
		switch r.Status {
		case outcome.StatusSuccess:
			successes++
		case outcome.StatusConflictDetected:
			conflicts++
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("got %d successes and %d conflicts, want exactly one of each", successes, conflicts)
	}

	from, _ := time.Parse(time.RFC3339, wednesday(0, 0))
	hits, _ := f.schedules.Between(context.Background(), "p1", from, from.Add(24*time.Hour))
	if len(hits) != 1 {
		t.Fatalf("double-booked: %d commitments written", len(hits))
	}
}

func TestCommitUnknownActionFails(t *testing.T) {
	f := newFixture(t)
	out := f.svc.Commit(context.Background(), "launch_rocket", map[string]interface{}{}, "p1", "c1")
	if out.Status != outcome.StatusFailure || out.FailureKind != outcome.FailureParams {
		t.Fatalf("got %q/%q", out.Status, out.FailureKind)
	}
}
