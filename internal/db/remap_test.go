package db

import (
	"testing"

	"github.com/stockly-app/stockly/internal/models"
)

func TestConfirmChangeRemapsProvisionalIDs(t *testing.T) {
	db, _ := newTestDB(t)

	var catID, prodID, saleID int64
	err := db.Transaction(func(tx *Tx) error {
		var err error
		if catID, err = tx.InsertLogged(models.TableCategories, models.Row{"name": "Tools"}); err != nil {
			return err
		}
		p := product("H-1", "Hammer", 4)
		p["category_id"] = catID
		if prodID, err = tx.InsertLogged(models.TableProducts, p); err != nil {
			return err
		}
		saleID, err = tx.InsertLogged(models.TableSales, models.Row{"product_id": prodID, "quantity": 1, "unit_price": 9.5})
		return err
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	pending, _ := db.GetPending()
	if len(pending) != 3 {
		t.Fatalf("pending = %d", len(pending))
	}

	if err := db.ConfirmChange(pending[0], ServerRow{ID: 10, Version: 1}); err != nil {
		t.Fatalf("confirm category: %v", err)
	}
	prod, _ := db.FindByID(models.TableProducts, prodID)
	if prod["category_id"] != int64(10) {
		t.Errorf("product.category_id = %v, want 10", prod["category_id"])
	}
	queued, _ := db.GetChange(pending[1].ID)
	data, _ := queued.Row()
	if data["category_id"] != int64(10) {
		t.Errorf("queued product category_id = %v, want 10", data["category_id"])
	}

	if err := db.ConfirmChange(queued, ServerRow{ID: 20, Version: 1}); err != nil {
		t.Fatalf("confirm product: %v", err)
	}
	if row, _ := db.FindByID(models.TableProducts, prodID); row != nil {
		t.Error("provisional product row should be gone")
	}
	prod, _ = db.FindByID(models.TableProducts, 20)
	if prod == nil {
		t.Fatal("product 20 missing after remap")
	}
	if prod[models.ColIsSynced] != int64(1) || prod[models.ColServerVersion] != int64(1) {
		t.Errorf("product stamp = synced %v server_version %v", prod[models.ColIsSynced], prod[models.ColServerVersion])
	}

	sale, _ := db.FindByID(models.TableSales, saleID)
	if sale["product_id"] != int64(20) {
		t.Errorf("sale.product_id = %v, want 20", sale["product_id"])
	}
	saleItem, _ := db.GetChange(pending[2].ID)
	saleData, _ := saleItem.Row()
	if saleData["product_id"] != int64(20) {
		t.Errorf("queued sale product_id = %v, want 20", saleData["product_id"])
	}
	if saleItem.EntityID != saleID || saleItem.Status != models.StatusPending {
		t.Errorf("sale item = %+v", saleItem)
	}
}

func TestConfirmChangeRebasesLaterItems(t *testing.T) {
	db, _ := newTestDB(t)
	id, _ := db.InsertLogged(models.TableProducts, product("K", "Knife", 2))
	db.UpdateLogged(models.TableProducts, id, models.Row{"quantity_on_hand": 1})
	pending, _ := db.GetPending()

	if err := db.ConfirmChange(pending[0], ServerRow{ID: 5, Version: 1}); err != nil {
		t.Fatalf("ConfirmChange: %v", err)
	}
	upd, _ := db.GetChange(pending[1].ID)
	if upd.EntityID != 5 || upd.BaseVersion != 1 {
		t.Errorf("update item entity=%d base=%d, want 5/1", upd.EntityID, upd.BaseVersion)
	}
	row, _ := db.FindByID(models.TableProducts, 5)
	if row[models.ColIsSynced] != int64(0) {
		t.Error("row with a pending update must stay unsynced")
	}

	if err := db.ConfirmChange(upd, ServerRow{Version: 2}); err != nil {
		t.Fatalf("confirm update: %v", err)
	}
	row, _ = db.FindByID(models.TableProducts, 5)
	if row[models.ColIsSynced] != int64(1) || row[models.ColServerVersion] != int64(2) {
		t.Errorf("row = %v", row)
	}

	// Repeated acknowledgements are harmless.
	if err := db.ConfirmChange(upd, ServerRow{Version: 2}); err != nil {
		t.Errorf("second confirm: %v", err)
	}
}

func TestRemapActivityReferences(t *testing.T) {
	db, _ := newTestDB(t)
	var clientID int64
	db.Transaction(func(tx *Tx) error {
		clientID, _ = tx.InsertLogged(models.TableClients, models.Row{"name": "Zed"})
		_, err := tx.InsertLogged(models.TableActivities, models.Row{
			"type": "client_created", "entity_type": models.TableClients, "entity_id": clientID,
		})
		return err
	})
	pending, _ := db.GetPending()

	if err := db.ConfirmChange(pending[0], ServerRow{ID: 77, Version: 1}); err != nil {
		t.Fatalf("ConfirmChange: %v", err)
	}
	acts, _ := db.Find(models.TableActivities, Where{"entity_type": models.TableClients})
	if len(acts) != 1 || acts[0]["entity_id"] != int64(77) {
		t.Errorf("activities = %v", acts)
	}
	item, _ := db.GetChange(pending[1].ID)
	data, _ := item.Row()
	if data["entity_id"] != int64(77) {
		t.Errorf("queued activity entity_id = %v, want 77", data["entity_id"])
	}
}
