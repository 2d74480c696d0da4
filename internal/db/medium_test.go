package db

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stockly-app/stockly/internal/models"
)

func TestFileMediumMirrorsCommits(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "mirror", "stockly.img")
	db, _ := newTestDB(t, WithMedium(FileMedium{Path: imagePath}))

	if _, err := db.InsertLogged(models.TableProducts, product("M-1", "Mallet", 2)); err != nil {
		t.Fatalf("InsertLogged: %v", err)
	}
	image, err := os.ReadFile(imagePath)
	if err != nil {
		t.Fatalf("mirror image not written: %v", err)
	}
	if !bytes.HasPrefix(image, sqliteHeader) {
		t.Fatal("mirror is not a sqlite image")
	}

	other, _ := newTestDB(t)
	if err := other.Import(image); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n, _ := other.Count(models.TableProducts); n != 1 {
		t.Errorf("imported products = %d, want 1", n)
	}
	pending, _ := other.GetPending()
	if len(pending) != 1 || pending[0].Operation != models.OpCreate {
		t.Errorf("imported queue = %+v", pending)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src, _ := newTestDB(t)
	src.InsertLogged(models.TableClients, models.Row{"name": "Acme"})
	src.ApplyPull(models.TableSuppliers, []ServerRow{{ID: 4, Version: 2, Data: models.Row{"name": "Supplies Co"}}})

	image, err := src.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst, _ := newTestDB(t)
	dst.Insert(models.TableClients, models.Row{"name": "Stale"})
	if err := dst.Import(image); err != nil {
		t.Fatalf("Import: %v", err)
	}
	clients, _ := dst.Find(models.TableClients, nil)
	if len(clients) != 1 || clients[0]["name"] != "Acme" {
		t.Errorf("clients = %v, import should replace existing rows", clients)
	}
	sup, _ := dst.FindByID(models.TableSuppliers, 4)
	if sup == nil || sup[models.ColServerVersion] != int64(2) {
		t.Errorf("supplier = %v", sup)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	db, _ := newTestDB(t)
	if err := db.Import([]byte("not a database")); err == nil {
		t.Fatal("expected error for garbage image")
	}
}

func TestRestoreFromMedium(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "stockly.img")
	src, _ := newTestDB(t, WithMedium(FileMedium{Path: imagePath}))
	src.InsertLogged(models.TableCategories, models.Row{"name": "Paint"})

	dst, _ := newTestDB(t, WithMedium(FileMedium{Path: imagePath}))
	restored, err := dst.Restore()
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !restored {
		t.Fatal("expected an image to restore")
	}
	if n, _ := dst.Count(models.TableCategories); n != 1 {
		t.Errorf("categories = %d, want 1", n)
	}

	empty, _ := newTestDB(t, WithMedium(FileMedium{Path: filepath.Join(t.TempDir(), "none.img")}))
	if restored, err := empty.Restore(); err != nil || restored {
		t.Errorf("Restore with no image = %v, %v", restored, err)
	}
}
