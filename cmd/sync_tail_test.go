package cmd

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stockly-app/stockly/internal/db"
)

func TestTruncateID(t *testing.T) {
	tests := []struct {
		id   string
		max  int
		want string
	}{
		{"short", 16, "short"},
		{"exactly16chars!!", 16, "exactly16chars!!"},
		{"this-is-a-very-long-id-string", 16, "this-is-a-ver..."},
		{"abcdefghijk", 10, "abcdefg..."},
		{"", 10, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.id, tt.max), func(t *testing.T) {
			got := truncateID(tt.id, tt.max)
			if got != tt.want {
				t.Errorf("truncateID(%q, %d) = %q, want %q", tt.id, tt.max, got, tt.want)
			}
			if len(got) > tt.max {
				t.Errorf("truncateID(%q, %d) length %d exceeds max %d", tt.id, tt.max, len(got), tt.max)
			}
		})
	}
}

func TestFormatSyncEntry(t *testing.T) {
	ts := time.Date(2025, 1, 15, 10, 30, 45, 0, time.UTC)
	tests := []struct {
		name     string
		entry    db.SyncHistoryEntry
		contains []string
		fromTag  bool
	}{
		{
			name: "push",
			entry: db.SyncHistoryEntry{
				ID: 1, Direction: "push", Operation: "create",
				EntityType: "products", EntityID: 12, ServerVersion: 1,
				DeviceID: "dev-1", Timestamp: ts,
			},
			contains: []string{"push", "create", "products/12", "v1"},
		},
		{
			name: "pull from another device",
			entry: db.SyncHistoryEntry{
				ID: 2, Direction: "pull", Operation: "update",
				EntityType: "clients", EntityID: 4, ServerVersion: 7,
				DeviceID: "other-device-id", Timestamp: ts,
			},
			contains: []string{"pull", "update", "clients/4", "v7", "from:other-dev..."},
			fromTag:  true,
		},
		{
			name: "pull without device",
			entry: db.SyncHistoryEntry{
				ID: 3, Direction: "pull", Operation: "delete",
				EntityType: "sales", EntityID: 9, ServerVersion: 3,
				Timestamp: ts,
			},
			contains: []string{"pull", "delete", "sales/9", "v3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := formatSyncEntry(tt.entry)
			for _, s := range tt.contains {
				if !strings.Contains(line, s) {
					t.Errorf("line missing %q\ngot: %s", s, line)
				}
			}
			if !tt.fromTag && strings.Contains(line, "from:") {
				t.Errorf("unexpected from: tag\ngot: %s", line)
			}
		})
	}
}
