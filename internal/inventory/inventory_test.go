package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/hooks"
	"github.com/stockly-app/stockly/internal/models"
)

func newTestService(t *testing.T, hs ...hooks.Hook) (*Service, *db.DB) {
	t.Helper()
	store, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	runner := hooks.NewRunner(hs,
		hooks.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		hooks.WithRetry(1, 0),
	)
	return New(store, runner), store
}

func seedProduct(t *testing.T, svc *Service, sku string, qty int64, price float64) int64 {
	t.Helper()
	id, err := svc.Create(context.Background(), models.TableProducts, models.Row{
		"sku": sku, "name": sku, "quantity_on_hand": qty, "selling_price": price, "min_stock_level": int64(2),
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return id
}

func quantity(t *testing.T, store *db.DB, id int64) int64 {
	t.Helper()
	p, err := store.FindByID(models.TableProducts, id)
	if err != nil || p == nil {
		t.Fatalf("FindByID %d: %v", id, err)
	}
	q, _ := models.AsInt64(p["quantity_on_hand"])
	return q
}

func TestRecordSale(t *testing.T) {
	var events []hooks.Event
	spy := hooks.Func{HookName: "spy", Fn: func(_ context.Context, ev hooks.Event) error {
		events = append(events, ev)
		return nil
	}}
	svc, store := newTestService(t, spy)
	pid := seedProduct(t, svc, "SKU-1", 10, 2.5)
	events = nil

	before, _ := store.CountPending()
	res, err := svc.RecordSale(context.Background(), Sale{ProductID: pid, Quantity: 3})
	if err != nil {
		t.Fatalf("RecordSale: %v", err)
	}
	if res.Remaining != 7 || quantity(t, store, pid) != 7 {
		t.Fatalf("remaining = %d, stored = %d, want 7", res.Remaining, quantity(t, store, pid))
	}
	if res.Total != 7.5 {
		t.Errorf("total = %v, want 7.5 from the product's selling price", res.Total)
	}
	if res.SaleID >= 0 || res.MovementID >= 0 {
		t.Errorf("offline rows should carry provisional ids, got sale %d movement %d", res.SaleID, res.MovementID)
	}

	after, _ := store.CountPending()
	if after-before != 3 {
		t.Errorf("queued %d items, want 3 (sale, product update, movement)", after-before)
	}

	movements, err := store.Find(models.TableStockMovements, db.Where{"product_id": pid})
	if err != nil || len(movements) != 1 || movements[0]["type"] != MovementOut {
		t.Fatalf("movements = %v, %v", movements, err)
	}

	if len(events) != 1 || events[0].Kind != hooks.KindSaleRecorded {
		t.Fatalf("events = %+v, want one sale event", events)
	}
	if len(events[0].StockChanged) != 1 || events[0].StockChanged[0] != pid {
		t.Errorf("StockChanged = %v", events[0].StockChanged)
	}
}

func TestRecordSaleInsufficientStockRollsBack(t *testing.T) {
	svc, store := newTestService(t)
	pid := seedProduct(t, svc, "SKU-1", 2, 1)
	before, _ := store.CountPending()

	_, err := svc.RecordSale(context.Background(), Sale{ProductID: pid, Quantity: 5})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
	if quantity(t, store, pid) != 2 {
		t.Errorf("stock changed on failed sale")
	}
	if n, _ := store.Count(models.TableSales); n != 0 {
		t.Errorf("sales = %d, want 0", n)
	}
	if after, _ := store.CountPending(); after != before {
		t.Errorf("failed sale queued %d items", after-before)
	}
}

func TestRecordSaleValidation(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.RecordSale(context.Background(), Sale{ProductID: 1, Quantity: 0}); err == nil {
		t.Error("zero quantity should fail")
	}
	if _, err := svc.RecordSale(context.Background(), Sale{ProductID: 42, Quantity: 1}); !errors.Is(err, db.ErrRowNotFound) {
		t.Errorf("missing product: err = %v, want ErrRowNotFound", err)
	}
}

func TestRecordPurchase(t *testing.T) {
	svc, store := newTestService(t)
	a := seedProduct(t, svc, "A", 1, 5)
	b := seedProduct(t, svc, "B", 0, 5)
	sup, err := svc.Create(context.Background(), models.TableSuppliers, models.Row{"name": "Acme"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.RecordPurchase(context.Background(), Purchase{
		SupplierID: sup,
		Lines: []PurchaseLine{
			{ProductID: a, Quantity: 4, UnitCost: 1.25},
			{ProductID: b, Quantity: 10, UnitCost: 2},
			{ProductID: a, Quantity: 1, UnitCost: 1.25},
		},
	})
	if err != nil {
		t.Fatalf("RecordPurchase: %v", err)
	}
	if res.Total != 26.25 {
		t.Errorf("total = %v, want 26.25", res.Total)
	}
	if len(res.ItemIDs) != 3 {
		t.Errorf("items = %v", res.ItemIDs)
	}
	if quantity(t, store, a) != 6 || quantity(t, store, b) != 10 {
		t.Errorf("stock a=%d b=%d, want 6 and 10", quantity(t, store, a), quantity(t, store, b))
	}

	items, err := store.Find(models.TablePurchaseItems, db.Where{"purchase_id": res.PurchaseID})
	if err != nil || len(items) != 3 {
		t.Fatalf("purchase items = %d, %v", len(items), err)
	}
}

func TestRecordPurchaseUnknownProductRollsBack(t *testing.T) {
	svc, store := newTestService(t)
	a := seedProduct(t, svc, "A", 1, 5)

	_, err := svc.RecordPurchase(context.Background(), Purchase{Lines: []PurchaseLine{
		{ProductID: a, Quantity: 4},
		{ProductID: 999, Quantity: 1},
	}})
	if !errors.Is(err, db.ErrRowNotFound) {
		t.Fatalf("err = %v, want ErrRowNotFound", err)
	}
	if quantity(t, store, a) != 1 {
		t.Errorf("stock changed on failed purchase")
	}
	if n, _ := store.Count(models.TablePurchases); n != 0 {
		t.Errorf("purchases = %d, want 0", n)
	}
}

func TestHookFailureKeepsMutation(t *testing.T) {
	failing := hooks.Func{HookName: "notify", Fn: func(context.Context, hooks.Event) error {
		return errors.New("offline")
	}}
	svc, store := newTestService(t, failing)
	pid := seedProduct(t, svc, "A", 5, 1)

	res, err := svc.RecordSale(context.Background(), Sale{ProductID: pid, Quantity: 1})
	if err != nil {
		t.Fatalf("RecordSale: %v", err)
	}
	if len(res.HookFailures) != 1 || res.HookFailures[0].Hook != "notify" {
		t.Errorf("HookFailures = %+v", res.HookFailures)
	}
	if quantity(t, store, pid) != 4 {
		t.Errorf("sale must survive a failed hook")
	}
}

func TestActivityAndLowStockHooks(t *testing.T) {
	store, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	var alerts []hooks.Alert
	runner := hooks.NewRunner([]hooks.Hook{
		&hooks.ActivityLog{Store: store},
		&hooks.LowStock{Store: store, Notify: func(_ context.Context, a hooks.Alert) error {
			alerts = append(alerts, a)
			return nil
		}},
	}, hooks.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	svc := New(store, runner)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	pid := seedProduct(t, svc, "A", 3, 1)
	alerts = nil
	if _, err := svc.RecordSale(context.Background(), Sale{ProductID: pid, Quantity: 2}); err != nil {
		t.Fatal(err)
	}

	if len(alerts) != 1 || alerts[0].Quantity != 1 {
		t.Fatalf("alerts = %+v, want one at quantity 1", alerts)
	}
	acts, err := store.Find(models.TableActivities, db.Where{"type": hooks.KindSaleRecorded})
	if err != nil || len(acts) != 1 {
		t.Fatalf("sale activities = %v, %v", acts, err)
	}
}
