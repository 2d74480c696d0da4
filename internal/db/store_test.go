package db

import (
	"testing"
	"time"

	"github.com/stockly-app/stockly/internal/models"
)

func TestInsertAndFindByID(t *testing.T) {
	db, _ := newTestDB(t)

	id, err := db.Insert(models.TableProducts, product("SKU-1", "Widget", 10))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if id <= 0 {
		t.Fatalf("id = %d, want positive", id)
	}

	row, err := db.FindByID(models.TableProducts, id)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if row == nil {
		t.Fatal("row not found")
	}
	if row["name"] != "Widget" {
		t.Errorf("name = %v, want Widget", row["name"])
	}
	if row["quantity_on_hand"] != int64(10) {
		t.Errorf("quantity = %#v, want 10", row["quantity_on_hand"])
	}
	if row[models.ColVersion] != int64(1) {
		t.Errorf("version = %v, want 1", row[models.ColVersion])
	}
	if row[models.ColCreatedAt] == "" {
		t.Error("created_at not set")
	}

	missing, err := db.FindByID(models.TableProducts, 999)
	if err != nil {
		t.Fatalf("FindByID missing: %v", err)
	}
	if missing != nil {
		t.Errorf("missing row = %v, want nil", missing)
	}
}

func TestInsertDuplicateSKUIsIntegrityError(t *testing.T) {
	db, _ := newTestDB(t)

	if _, err := db.Insert(models.TableProducts, product("DUP", "One", 1)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := db.Insert(models.TableProducts, product("DUP", "Two", 1))
	if err == nil {
		t.Fatal("expected duplicate sku to fail")
	}
	if !IsIntegrityError(err) {
		t.Errorf("error = %v, want IntegrityError", err)
	}
}

func TestUpdateBumpsVersionAndClearsSynced(t *testing.T) {
	db, clock := newTestDB(t)

	id, _ := db.Insert(models.TableProducts, models.Row{"sku": "S", "name": "Saw", "is_synced": 1})
	clock.advance(time.Second)

	n, err := db.Update(models.TableProducts, models.Row{"name": "Hand saw"}, ByID(id))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if n != 1 {
		t.Errorf("rows affected = %d, want 1", n)
	}

	row, _ := db.FindByID(models.TableProducts, id)
	if row["name"] != "Hand saw" {
		t.Errorf("name = %v", row["name"])
	}
	if row[models.ColVersion] != int64(2) {
		t.Errorf("version = %v, want 2", row[models.ColVersion])
	}
	if row[models.ColIsSynced] != int64(0) {
		t.Errorf("is_synced = %v, want 0", row[models.ColIsSynced])
	}
	if row[models.ColUpdatedAt] == row[models.ColCreatedAt] {
		t.Error("updated_at should move on update")
	}
}

func TestUpdateAndDeleteMatchingNothing(t *testing.T) {
	db, _ := newTestDB(t)

	n, err := db.Update(models.TableClients, models.Row{"name": "x"}, ByID(42))
	if err != nil || n != 0 {
		t.Errorf("Update no match = (%d, %v), want (0, nil)", n, err)
	}
	n, err = db.Delete(models.TableClients, ByID(42))
	if err != nil || n != 0 {
		t.Errorf("Delete no match = (%d, %v), want (0, nil)", n, err)
	}
}

func TestEmptyPredicateRejected(t *testing.T) {
	db, _ := newTestDB(t)

	if _, err := db.Update(models.TableClients, models.Row{"name": "x"}, Where{}); err == nil {
		t.Error("Update with empty predicate should fail")
	}
	if _, err := db.Delete(models.TableClients, nil); err == nil {
		t.Error("Delete with empty predicate should fail")
	}
}

func TestUnknownTableAndColumnRejected(t *testing.T) {
	db, _ := newTestDB(t)

	if _, err := db.Insert("users; DROP TABLE products", models.Row{"a": 1}); err == nil {
		t.Error("unknown table should be rejected")
	}
	if _, err := db.Insert(models.TableClients, models.Row{"name = 1; --": "x"}); err == nil {
		t.Error("invalid column should be rejected")
	}
	if _, err := db.Find(models.TableClients, Where{"1=1 OR name": "x"}); err == nil {
		t.Error("invalid predicate column should be rejected")
	}
}

func TestSelectIsReadOnly(t *testing.T) {
	db, _ := newTestDB(t)
	db.Insert(models.TableClients, models.Row{"name": "Acme"})

	rows, err := db.Select(`SELECT name FROM clients WHERE name = ?`, "Acme")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "Acme" {
		t.Errorf("rows = %v", rows)
	}

	for _, q := range []string{
		`DELETE FROM clients`,
		`SELECT 1; DELETE FROM clients`,
		`WITH x AS (SELECT 1) DELETE FROM clients`,
		``,
	} {
		if _, err := db.Select(q); err == nil {
			t.Errorf("Select(%q) should be rejected", q)
		}
	}
}

func TestFindWithNullPredicate(t *testing.T) {
	db, _ := newTestDB(t)
	db.Insert(models.TableProducts, product("A", "A", 1))
	db.Insert(models.TableProducts, models.Row{"sku": "B", "name": "B", "category_id": 3})

	rows, err := db.Find(models.TableProducts, Where{"category_id": nil})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(rows) != 1 || rows[0]["sku"] != "A" {
		t.Errorf("rows = %v, want only A", rows)
	}
}

func TestInsertManyIsAtomic(t *testing.T) {
	db, _ := newTestDB(t)

	_, err := db.InsertMany(models.TableProducts, []models.Row{
		product("X", "x", 1),
		product("X", "dup", 1),
	})
	if !IsIntegrityError(err) {
		t.Fatalf("InsertMany error = %v, want IntegrityError", err)
	}
	if n, _ := db.Count(models.TableProducts); n != 0 {
		t.Errorf("products = %d, want 0 after failed batch", n)
	}

	ids, err := db.InsertMany(models.TableProducts, []models.Row{product("X", "x", 1), product("Y", "y", 1)})
	if err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v", ids)
	}
}

func TestReset(t *testing.T) {
	db, _ := newTestDB(t)
	db.InsertLogged(models.TableClients, models.Row{"name": "Acme"})

	if err := db.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n, _ := db.Count(models.TableClients); n != 0 {
		t.Errorf("clients = %d after reset", n)
	}
	if n, _ := db.CountPending(); n != 0 {
		t.Errorf("pending = %d after reset", n)
	}
}
