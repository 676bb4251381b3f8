package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"wacrm/database"

	"github.com/google/go-cmp/cmp"
)

func TestSecondsRange(t *testing.T) {
	berlin := time.FixedZone("CET", 60*60)

	got, err := secondsRange("2024-03-01", "2024-03-31", berlin)
	if err != nil {
		t.Fatalf("secondsRange: %v", err)
	}
	want := database.AnalyticsRange{
		FromSec: time.Date(2024, 3, 1, 0, 0, 0, 0, berlin).Unix(),
		ToSec:   time.Date(2024, 4, 1, 0, 0, 0, 0, berlin).Unix() - 1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("range mismatch (-want +got):\n%s", diff)
	}

	got, err = secondsRange("", "", time.UTC)
	if err != nil || got != (database.AnalyticsRange{}) {
		t.Errorf("open range = %+v, %v", got, err)
	}

	if _, err = secondsRange("03/01/2024", "", time.UTC); err == nil {
		t.Error("expected an error for a malformed date")
	}
}

func TestMonthRange(t *testing.T) {
	from, to, err := monthRange("2024-01-15", "2024-03-31", time.UTC)
	if err != nil {
		t.Fatalf("monthRange: %v", err)
	}
	if from != "2024-01" || to != "2024-03" {
		t.Errorf("monthRange = %s..%s, want 2024-01..2024-03", from, to)
	}

	from, to, err = monthRange("", "", time.UTC)
	if err != nil || from != "" || to != "" {
		t.Errorf("open month range = %q..%q, %v", from, to, err)
	}
}

func TestReadSnapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.json")
	body := `[{"id":"15551234567","name":"Jane"},{"id":"120363000000000001@g.us","name":"Team"}]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	items, err := readSnapshots(path)
	if err != nil {
		t.Fatalf("readSnapshots: %v", err)
	}
	want := []database.ChatSnapshot{
		{ID: "15551234567", Name: "Jane"},
		{ID: "120363000000000001@g.us", Name: "Team", IsGroup: true},
	}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("snapshots mismatch (-want +got):\n%s", diff)
	}

	if _, err := readSnapshots(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
