package outcome

import (
	"testing"
	"time"

	"github.com/harborchat/valet/pkg/action"
)

func TestMergeOptionPreservesOriginalParameters(t *testing.T) {
	orig := map[string]interface{}{
		"target":           "Sam",
		"start_time":       "2026-09-02T10:00:00Z",
		"duration_minutes": 60,
	}
	sr := SelectionRequest{
		SelectionType: SelectTarget,
		Prompt:        "Which Sam?",
		Options: []SelectionOption{
			{ID: "u123", Title: "Sam Alvarez"},
			{ID: "u456", Title: "Sam Okafor"},
		},
		Context: SelectionContext{
			OriginalAction:     action.KindScheduleEvent,
			OriginalParameters: orig,
		},
	}

	kind, merged := sr.MergeOption(sr.Options[1])
	if kind != action.KindScheduleEvent {
		t.Fatalf("kind = %q", kind)
	}
	for k, v := range orig {
		if merged[k] != v {
			t.Fatalf("original key %q changed: %v != %v", k, merged[k], v)
		}
	}
	if merged["target_id"] != "u456" {
		t.Fatalf("target_id = %v, want u456", merged["target_id"])
	}
	if _, ok := orig["target_id"]; ok {
		t.Fatal("merge mutated the original parameter map")
	}
}

func TestWithAlternativeSubstitutesStartTime(t *testing.T) {
	cr := ConflictResult{
		OriginalAction: action.KindScheduleEvent,
		OriginalParameters: map[string]interface{}{
			"title":            "1:1",
			"start_time":       "2026-09-02T10:00:00Z",
			"duration_minutes": 30,
		},
	}
	alt := time.Date(2026, 9, 2, 11, 0, 0, 0, time.UTC)
	_, merged := cr.WithAlternative(alt)
	if merged["start_time"] != "2026-09-02T11:00:00Z" {
		t.Fatalf("start_time = %v", merged["start_time"])
	}
	if merged["title"] != "1:1" {
		t.Fatal("unrelated key lost in substitution")
	}
}

func TestIsTerminal(t *testing.T) {
	if !Success("a1", "done", nil).IsTerminal() {
		t.Fatal("success should be terminal")
	}
	if !Failure(FailureExecution, "a1", "boom").IsTerminal() {
		t.Fatal("failure should be terminal")
	}
	if SelectionNeeded("a1", SelectionRequest{}).IsTerminal() {
		t.Fatal("selection should not be terminal")
	}
	if ConflictFound("a1", ConflictResult{}).IsTerminal() {
		t.Fatal("conflict should not be terminal")
	}
}

func TestResultFlattening(t *testing.T) {
	o := Failure(FailureExecution, "a9", "downstream unavailable")
	r := o.Result()
	if r.Success {
		t.Fatal("failure flattened to success")
	}
	if r.ActionID != "a9" || r.Message != "downstream unavailable" {
		t.Fatalf("unexpected result %+v", r)
	}
}
