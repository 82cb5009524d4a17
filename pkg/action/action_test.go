package action

import (
	"testing"
	"time"
)

func TestMissingReportsAbsentKeys(t *testing.T) {
	params := map[string]interface{}{
		"title":      "standup",
		"start_time": "2026-09-02T10:00:00Z",
	}
	missing := Missing(KindScheduleEvent, params)
	if len(missing) != 1 || missing[0] != "duration_minutes" {
		t.Fatalf("got missing %v, want [duration_minutes]", missing)
	}
}

func TestMissingTreatsBlankStringsAsAbsent(t *testing.T) {
	params := map[string]interface{}{
		"message":   "  ",
		"remind_at": "2026-09-02T09:00:00Z",
	}
	missing := Missing(KindSetReminder, params)
	if len(missing) != 1 || missing[0] != "message" {
		t.Fatalf("got missing %v, want [message]", missing)
	}
}

func TestMissingCompleteParams(t *testing.T) {
	params := map[string]interface{}{
		"target":  "Sam",
		"content": "running late",
	}
	if missing := Missing(KindSendMessage, params); len(missing) != 0 {
		t.Fatalf("expected no missing keys, got %v", missing)
	}
}

func TestNeedsResolve(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		params map[string]interface{}
		want   bool
	}{
		{
			name:   "name without id",
			kind:   KindSendMessage,
			params: map[string]interface{}{"target": "Sam", "content": "hi"},
			want:   true,
		},
		{
			name:   "name with resolved id",
			kind:   KindSendMessage,
			params: map[string]interface{}{"target": "Sam", "target_id": "u123", "content": "hi"},
			want:   false,
		},
		{
			name:   "no contact reference",
			kind:   KindSetReminder,
			params: map[string]interface{}{"message": "stretch", "remind_at": "2026-09-02T09:00:00Z"},
			want:   false,
		},
		{
			name: "scheduling always resolves for conflict check",
			kind: KindScheduleEvent,
			params: map[string]interface{}{
				"title": "1:1", "start_time": "2026-09-02T10:00:00Z",
				"duration_minutes": 30, "target_id": "u123",
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsResolve(tt.kind, tt.params); got != tt.want {
				t.Fatalf("NeedsResolve = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKnown(t *testing.T) {
	for _, kind := range Kinds() {
		if !Known(kind) {
			t.Fatalf("kind %q should be known", kind)
		}
	}
	if Known("drop_tables") {
		t.Fatal("unknown kind reported as known")
	}
}

func TestValidateRecurrence(t *testing.T) {
	if err := ValidateRecurrence(""); err != nil {
		t.Fatalf("empty recurrence should be valid: %v", err)
	}
	if err := ValidateRecurrence("0 9 * * 1-5"); err != nil {
		t.Fatalf("weekday cron should be valid: %v", err)
	}
	if err := ValidateRecurrence("every tuesday"); err == nil {
		t.Fatal("prose recurrence should be rejected")
	}
}

func TestParamTime(t *testing.T) {
	params := map[string]interface{}{
		"start_time": "2026-09-02T10:00:00Z",
		"bad":        "tomorrow",
	}
	ts, ok := Time(params, "start_time")
	if !ok {
		t.Fatal("RFC3339 start_time should parse")
	}
	want := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	if !ts.Equal(want) {
		t.Fatalf("got %v, want %v", ts, want)
	}
	if _, ok := Time(params, "bad"); ok {
		t.Fatal("prose timestamp should not parse")
	}
}

func TestParamInt(t *testing.T) {
	params := map[string]interface{}{
		"a": float64(60), // JSON number
		"b": "45",
		"c": "soon",
	}
	if n, ok := Int(params, "a"); !ok || n != 60 {
		t.Fatalf("a: got (%d,%v)", n, ok)
	}
	if n, ok := Int(params, "b"); !ok || n != 45 {
		t.Fatalf("b: got (%d,%v)", n, ok)
	}
	if _, ok := Int(params, "c"); ok {
		t.Fatal("c should not parse as int")
	}
}

func TestCloneDoesNotAliasOriginal(t *testing.T) {
	orig := map[string]interface{}{"target": "Sam"}
	cp := Clone(orig)
	cp["target_id"] = "u123"
	if _, ok := orig["target_id"]; ok {
		t.Fatal("Clone must not mutate the original map")
	}
}
