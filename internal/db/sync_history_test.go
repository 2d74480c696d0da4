package db

import (
	"testing"
	"time"

	"github.com/stockly-app/stockly/internal/models"
)

func TestSyncHistoryRecordsPushAndPull(t *testing.T) {
	db, clock := newTestDB(t)

	db.InsertLogged(models.TableClients, models.Row{"name": "A"})
	pending, _ := db.GetPending()
	if err := db.ConfirmChange(pending[0], ServerRow{ID: 3, Version: 1}); err != nil {
		t.Fatalf("ConfirmChange: %v", err)
	}
	clock.advance(time.Minute)
	db.ApplyPull(models.TableSuppliers, []ServerRow{{ID: 1, Version: 1, Data: models.Row{"name": "S"}}})

	entries, err := db.GetSyncHistoryTail(10)
	if err != nil {
		t.Fatalf("GetSyncHistoryTail: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	push, pull := entries[0], entries[1]
	if push.Direction != "push" || push.EntityID != 3 || push.Operation != "create" || push.DeviceID != "dev-test" {
		t.Errorf("push entry = %+v", push)
	}
	if pull.Direction != "pull" || pull.EntityType != models.TableSuppliers || pull.ServerVersion != 1 {
		t.Errorf("pull entry = %+v", pull)
	}
	if !pull.Timestamp.After(push.Timestamp) {
		t.Errorf("timestamps out of order: %v then %v", push.Timestamp, pull.Timestamp)
	}

	after, err := db.GetSyncHistory(push.ID, 10)
	if err != nil {
		t.Fatalf("GetSyncHistory: %v", err)
	}
	if len(after) != 1 || after[0].ID != pull.ID {
		t.Errorf("entries after %d = %+v", push.ID, after)
	}
}

func TestGetSyncHistoryTail_Empty(t *testing.T) {
	db, _ := newTestDB(t)

	entries, err := db.GetSyncHistoryTail(10)
	if err != nil {
		t.Fatalf("GetSyncHistoryTail failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected 0 entries, got %d", len(entries))
	}
}

func TestParseTimestampFormats(t *testing.T) {
	for _, s := range []string{
		"2026-03-01T09:00:00.000000000Z",
		"2026-03-01T09:00:00Z",
		"2026-03-01 09:00:00",
	} {
		ts, err := parseTimestamp(s)
		if err != nil {
			t.Errorf("parseTimestamp(%q): %v", s, err)
			continue
		}
		if ts.Hour() != 9 {
			t.Errorf("parseTimestamp(%q) = %v", s, ts)
		}
	}
	if _, err := parseTimestamp("yesterday"); err == nil {
		t.Error("expected error for garbage timestamp")
	}
}
