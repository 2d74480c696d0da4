package db

import (
	"testing"
	"time"

	"github.com/stockly-app/stockly/internal/models"
)

func TestApplyPullUpsertsAndPrunes(t *testing.T) {
	db, _ := newTestDB(t)
	ts := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	stats, err := db.ApplyPull(models.TableClients, []ServerRow{
		{ID: 1, Version: 1, LastModified: ts, Data: models.Row{"name": "One", "unknown_field": "x"}},
		{ID: 2, Version: 1, LastModified: ts, Data: models.Row{"name": "Two"}},
	})
	if err != nil {
		t.Fatalf("ApplyPull: %v", err)
	}
	if stats.Applied != 2 || stats.Deleted != 0 {
		t.Errorf("first pull stats = %+v", stats)
	}
	row, _ := db.FindByID(models.TableClients, 1)
	if row[models.ColIsSynced] != int64(1) || row[models.ColServerVersion] != int64(1) {
		t.Errorf("pulled row = %v", row)
	}
	if row[models.ColLastModified] != ts.Format(timeLayout) {
		t.Errorf("last_modified = %v", row[models.ColLastModified])
	}

	// Unchanged versions are not rewritten; vanished rows are pruned.
	stats, err = db.ApplyPull(models.TableClients, []ServerRow{
		{ID: 2, Version: 2, Data: models.Row{"name": "Two v2"}},
	})
	if err != nil {
		t.Fatalf("ApplyPull: %v", err)
	}
	if stats.Applied != 1 || stats.Deleted != 1 {
		t.Errorf("second pull stats = %+v", stats)
	}
	if row, _ := db.FindByID(models.TableClients, 1); row != nil {
		t.Error("client 1 should be pruned")
	}
	row, _ = db.FindByID(models.TableClients, 2)
	if row["name"] != "Two v2" {
		t.Errorf("client 2 name = %v", row["name"])
	}

	states, err := db.GetTableSyncStates()
	if err != nil {
		t.Fatalf("GetTableSyncStates: %v", err)
	}
	if len(states) != 1 || states[0].RowCount != 1 || states[0].LastPulledAt == nil {
		t.Errorf("states = %+v", states)
	}
	last, err := db.LastSyncAt()
	if err != nil || last == nil {
		t.Errorf("LastSyncAt = %v, %v", last, err)
	}
}

func TestApplyPullKeepsOutstandingRows(t *testing.T) {
	db, _ := newTestDB(t)
	db.ApplyPull(models.TableProducts, []ServerRow{
		{ID: 42, Version: 1, Data: models.Row{"sku": "P42", "name": "Product", "quantity_on_hand": 10}},
	})
	local, _ := db.InsertLogged(models.TableProducts, product("NEW", "Offline", 1))
	if err := db.UpdateLogged(models.TableProducts, 42, models.Row{"quantity_on_hand": 7}); err != nil {
		t.Fatalf("UpdateLogged: %v", err)
	}

	stats, err := db.ApplyPull(models.TableProducts, []ServerRow{
		{ID: 42, Version: 2, Data: models.Row{"sku": "P42", "name": "Product", "quantity_on_hand": 5}},
	})
	if err != nil {
		t.Fatalf("ApplyPull: %v", err)
	}
	if stats.Skipped != 1 || stats.Applied != 0 || stats.Deleted != 0 {
		t.Errorf("stats = %+v", stats)
	}
	row, _ := db.FindByID(models.TableProducts, 42)
	if row["quantity_on_hand"] != int64(7) {
		t.Errorf("quantity = %v, local edit should survive the pull", row["quantity_on_hand"])
	}
	if row, _ := db.FindByID(models.TableProducts, local); row == nil {
		t.Error("provisional row should survive the pull")
	}
}

func TestApplyPullRejectsDuplicateUniqueValue(t *testing.T) {
	db, _ := newTestDB(t)
	local, err := db.InsertLogged(models.TableProducts, product("SOAP-1", "Soap", 3))
	if err != nil {
		t.Fatalf("InsertLogged: %v", err)
	}

	rows := []ServerRow{
		{ID: 1, Version: 1, Data: models.Row{"sku": "SOAP-1", "name": "Soap (other device)", "quantity_on_hand": 8}},
		{ID: 2, Version: 1, Data: models.Row{"sku": "BRUSH-1", "name": "Brush", "quantity_on_hand": 2}},
	}
	for round := 1; round <= 2; round++ {
		stats, err := db.ApplyPull(models.TableProducts, rows)
		if err != nil {
			t.Fatalf("round %d: ApplyPull: %v", round, err)
		}
		if len(stats.Rejected) != 1 || stats.Rejected[0].ID != 1 || !IsIntegrityError(stats.Rejected[0].Err) {
			t.Fatalf("round %d: rejected = %+v", round, stats.Rejected)
		}
	}

	if row, _ := db.FindByID(models.TableProducts, 2); row == nil {
		t.Error("product 2 should be applied despite the rejected row")
	}
	if row, _ := db.FindByID(models.TableProducts, 1); row != nil {
		t.Error("product 1 should not be written")
	}
	if row, _ := db.FindByID(models.TableProducts, local); row == nil || row["name"] != "Soap" {
		t.Errorf("local product = %v, want it untouched", row)
	}
	states, err := db.GetTableSyncStates()
	if err != nil || len(states) != 1 || states[0].LastPulledAt == nil {
		t.Errorf("states = %+v, err = %v", states, err)
	}
}

func TestAcceptServerCopy(t *testing.T) {
	db, _ := newTestDB(t)
	db.ApplyPull(models.TableProducts, []ServerRow{
		{ID: 42, Version: 1, Data: models.Row{"sku": "P42", "name": "Product", "quantity_on_hand": 10}},
	})
	db.UpdateLogged(models.TableProducts, 42, models.Row{"quantity_on_hand": 7})
	pending, _ := db.GetPending()

	server := &ServerRow{ID: 42, Version: 3, Data: models.Row{"sku": "P42", "name": "Product", "quantity_on_hand": 5}}
	if err := db.AcceptServerCopy(pending[0], server, models.StrategyServerPriority); err != nil {
		t.Fatalf("AcceptServerCopy: %v", err)
	}

	row, _ := db.FindByID(models.TableProducts, 42)
	if row["quantity_on_hand"] != int64(5) || row[models.ColIsSynced] != int64(1) {
		t.Errorf("row = %v", row)
	}
	item, _ := db.GetChange(pending[0].ID)
	if item.Status != models.StatusSynced || item.ServerVersion != 3 {
		t.Errorf("item = %s v%d", item.Status, item.ServerVersion)
	}
	conflicts, err := db.ListConflicts(10, time.Time{})
	if err != nil {
		t.Fatalf("ListConflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Resolution != models.ResolutionServerWins || conflicts[0].Strategy != models.StrategyServerPriority {
		t.Errorf("conflicts = %+v", conflicts)
	}
}

func TestAcceptServerCopyOfDeletedEntity(t *testing.T) {
	db, _ := newTestDB(t)
	db.ApplyPull(models.TableClients, []ServerRow{{ID: 3, Version: 1, Data: models.Row{"name": "Gone"}}})
	db.UpdateLogged(models.TableClients, 3, models.Row{"name": "Edited"})
	pending, _ := db.GetPending()

	if err := db.AcceptServerCopy(pending[0], nil, models.StrategyServerPriority); err != nil {
		t.Fatalf("AcceptServerCopy: %v", err)
	}
	if row, _ := db.FindByID(models.TableClients, 3); row != nil {
		t.Error("row should be removed when the server no longer has it")
	}
}

func TestDeferConflictAndRewriteAsCreate(t *testing.T) {
	db, _ := newTestDB(t)
	db.ApplyPull(models.TableClients, []ServerRow{{ID: 9, Version: 2, Data: models.Row{"name": "Nine"}}})
	db.UpdateLogged(models.TableClients, 9, models.Row{"phone": "123"})
	pending, _ := db.GetPending()
	item := pending[0]

	if err := db.RewriteAsCreate(item.ID); err != nil {
		t.Fatalf("RewriteAsCreate: %v", err)
	}
	rewritten, _ := db.GetChange(item.ID)
	data, _ := rewritten.Row()
	if rewritten.Operation != models.OpCreate || rewritten.BaseVersion != 0 {
		t.Errorf("rewritten = %s base %d", rewritten.Operation, rewritten.BaseVersion)
	}
	if data["name"] != "Nine" || data["phone"] != "123" {
		t.Errorf("create data should carry the full row: %v", data)
	}

	server := &ServerRow{ID: 9, Version: 5, Data: models.Row{"name": "Nine", "phone": "999"}}
	if err := db.DeferConflict(rewritten, server, models.StrategyManual, "manual resolution required"); err != nil {
		t.Fatalf("DeferConflict: %v", err)
	}
	c, _ := db.GetChange(item.ID)
	if c.Status != models.StatusConflict || c.ServerVersion != 5 {
		t.Errorf("item = %s v%d", c.Status, c.ServerVersion)
	}
	if n, _ := db.CountPending(); n != 0 {
		t.Errorf("conflict items must leave the pending set, got %d", n)
	}
	conflicts, _ := db.ListConflicts(10, time.Time{})
	if len(conflicts) != 1 || conflicts[0].Resolution != models.ResolutionDeferred || len(conflicts[0].ServerData) == 0 {
		t.Errorf("conflicts = %+v", conflicts)
	}

	// Requeueing picks up the server version learned from the conflict.
	newID, err := db.Requeue(item.ID)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	requeued, _ := db.GetChange(newID)
	if requeued.BaseVersion != 5 {
		t.Errorf("requeued base = %d, want 5", requeued.BaseVersion)
	}
}
