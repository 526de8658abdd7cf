package action

import (
	"testing"
	"time"
)

func TestApply_DeepMergesDetails(t *testing.T) {
	rec := Record{
		ActionID: "a1",
		Status:   StatusActive,
		Details: map[string]interface{}{
			"message": "m",
			"nested": map[string]interface{}{
				"keep": "old",
			},
		},
	}

	rec.Apply(Update{
		Status: StatusFailed,
		Details: map[string]interface{}{
			"error": "x",
			"nested": map[string]interface{}{
				"add": "new",
			},
		},
	})

	if rec.Status != StatusFailed {
		t.Fatalf("status not updated, got %s", rec.Status)
	}
	if rec.Details["message"] != "m" {
		t.Fatalf("existing detail key lost: %+v", rec.Details)
	}
	if rec.Details["error"] != "x" {
		t.Fatalf("new detail key missing: %+v", rec.Details)
	}
	nested, ok := rec.Details["nested"].(map[string]interface{})
	if !ok {
		t.Fatalf("nested map replaced: %+v", rec.Details["nested"])
	}
	if nested["keep"] != "old" || nested["add"] != "new" {
		t.Fatalf("nested map not merged key-by-key: %+v", nested)
	}
}

func TestApply_UpdateKeysWin(t *testing.T) {
	rec := Record{
		Details: map[string]interface{}{"message": "old", "error": "stale"},
	}
	rec.Apply(Update{Details: map[string]interface{}{"message": "new"}})

	if rec.Details["message"] != "new" {
		t.Fatalf("update key did not win: %+v", rec.Details)
	}
	if rec.Details["error"] != "stale" {
		t.Fatalf("untouched key lost: %+v", rec.Details)
	}
}

func TestApply_EmptyUpdateLeavesRecordAlone(t *testing.T) {
	rec := Record{
		Status:  StatusSucceeded,
		Details: map[string]interface{}{"message": "done"},
	}
	rec.Apply(Update{})

	if rec.Status != StatusSucceeded || rec.Details["message"] != "done" {
		t.Fatalf("zero update mutated record: %+v", rec)
	}
}

func TestTerminal(t *testing.T) {
	cases := map[string]bool{
		StatusActive:    false,
		StatusInactive:  false,
		StatusSucceeded: true,
		StatusFailed:    true,
	}
	for status, want := range cases {
		if got := Terminal(status); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestTranslate(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		ActionID:     "a1",
		RequestID:    "r1",
		Status:       StatusActive,
		ManageBy:     []string{"urn:globus:auth:identity:u1"},
		MonitorBy:    []string{"urn:globus:auth:identity:u1"},
		CreatorID:    "urn:globus:auth:identity:u1",
		Label:        "test run",
		ReleaseAfter: "P30D",
		DateStarted:  started,
		Details:      map[string]interface{}{"message": "Action started"},
	}

	view := rec.Translate()
	if view.ActionID != "a1" || view.Status != StatusActive {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.DisplayStatus != StatusActive {
		t.Fatalf("display_status mismatch: %s", view.DisplayStatus)
	}
	if view.StartTime != "2024-05-01T12:00:00Z" {
		t.Fatalf("start_time not RFC3339: %s", view.StartTime)
	}
	if view.ReleaseAfter != "P30D" {
		t.Fatalf("release_after mismatch: %s", view.ReleaseAfter)
	}
}
