package cmd

import "testing"

func TestIsMutatingCommand(t *testing.T) {
	for _, name := range []string{"create", "update", "delete", "sale", "purchase", "import"} {
		if !isMutatingCommand(name) {
			t.Errorf("%s should trigger auto-sync", name)
		}
	}
	for _, name := range []string{"list", "show", "sync", "queue", "status", "export", "monitor"} {
		if isMutatingCommand(name) {
			t.Errorf("%s should not trigger auto-sync", name)
		}
	}
}

func TestAutoSyncEnabledEnvOverride(t *testing.T) {
	t.Setenv("STOCKLY_AUTO_SYNC", "0")
	if autoSyncEnabled(true) {
		t.Error("STOCKLY_AUTO_SYNC=0 should disable")
	}
	t.Setenv("STOCKLY_AUTO_SYNC", "true")
	if !autoSyncEnabled(false) {
		t.Error("STOCKLY_AUTO_SYNC=true should enable")
	}
	t.Setenv("STOCKLY_AUTO_SYNC", "")
	if !autoSyncEnabled(true) || autoSyncEnabled(false) {
		t.Error("unset variable should follow config")
	}
}
