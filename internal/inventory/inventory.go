// Package inventory holds the business mutations of the local app. Each one
// writes its rows and their change-log items in a single store transaction,
// then fires the post-commit hooks.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/hooks"
	"github.com/stockly-app/stockly/internal/models"
)

// ErrInsufficientStock is returned when a sale asks for more than is on hand.
var ErrInsufficientStock = errors.New("insufficient stock")

// Stock movement types.
const (
	MovementIn  = "in"
	MovementOut = "out"
)

// Service runs business mutations against one store.
type Service struct {
	store *db.DB
	hooks *hooks.Runner
	now   func() time.Time
}

// New creates a service. runner may be nil.
func New(store *db.DB, runner *hooks.Runner) *Service {
	return &Service{store: store, hooks: runner, now: time.Now}
}

// Sale describes one product sold.
type Sale struct {
	ProductID int64
	ClientID  int64
	Quantity  int64
	// UnitPrice defaults to the product's selling_price when zero.
	UnitPrice float64
}

// SaleResult is the outcome of RecordSale.
type SaleResult struct {
	SaleID       int64
	MovementID   int64
	Remaining    int64
	Total        float64
	HookFailures []hooks.Failure
}

// RecordSale writes the sale, decrements stock and records the movement.
func (s *Service) RecordSale(ctx context.Context, in Sale) (*SaleResult, error) {
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("sale quantity must be positive, got %d", in.Quantity)
	}
	res := &SaleResult{}
	var sale models.Row
	err := s.store.Transaction(func(tx *db.Tx) error {
		product, err := loadProduct(tx, in.ProductID)
		if err != nil {
			return err
		}
		onHand, _ := models.AsInt64(product["quantity_on_hand"])
		if onHand < in.Quantity {
			return fmt.Errorf("%w: product %d has %d, sale needs %d", ErrInsufficientStock, in.ProductID, onHand, in.Quantity)
		}
		price := in.UnitPrice
		if price == 0 {
			price, _ = models.AsFloat64(product["selling_price"])
		}

		sale = models.Row{
			"product_id": in.ProductID,
			"quantity":   in.Quantity,
			"unit_price": price,
			"total":      roundCents(price * float64(in.Quantity)),
			"sold_at":    s.stamp(),
		}
		if in.ClientID != 0 {
			sale["client_id"] = in.ClientID
		}
		if res.SaleID, err = tx.InsertLogged(models.TableSales, sale); err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		res.Remaining = onHand - in.Quantity
		if err := tx.UpdateLogged(models.TableProducts, in.ProductID, models.Row{"quantity_on_hand": res.Remaining}); err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		res.MovementID, err = tx.InsertLogged(models.TableStockMovements, models.Row{
			"product_id": in.ProductID,
			"type":       MovementOut,
			"quantity":   in.Quantity,
			"reason":     fmt.Sprintf("sale %d", res.SaleID),
		})
		if err != nil {
			return fmt.Errorf("record movement: %w", err)
		}
		res.Total, _ = models.AsFloat64(sale["total"])
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.HookFailures = s.hooks.Fire(ctx, hooks.Event{
		Kind:         hooks.KindSaleRecorded,
		Table:        models.TableSales,
		EntityID:     res.SaleID,
		Data:         sale,
		StockChanged: []int64{in.ProductID},
		At:           s.now().UTC(),
	})
	return res, nil
}

// PurchaseLine is one product received in a purchase.
type PurchaseLine struct {
	ProductID int64
	Quantity  int64
	UnitCost  float64
}

// Purchase describes goods received from a supplier.
type Purchase struct {
	SupplierID int64
	Lines      []PurchaseLine
}

// PurchaseResult is the outcome of RecordPurchase.
type PurchaseResult struct {
	PurchaseID   int64
	ItemIDs      []int64
	Total        float64
	HookFailures []hooks.Failure
}

// RecordPurchase writes the purchase with its items, increments stock and
// records a movement per line.
func (s *Service) RecordPurchase(ctx context.Context, in Purchase) (*PurchaseResult, error) {
	if len(in.Lines) == 0 {
		return nil, fmt.Errorf("purchase needs at least one line")
	}
	for i, l := range in.Lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("line %d: quantity must be positive, got %d", i+1, l.Quantity)
		}
		if l.UnitCost < 0 {
			return nil, fmt.Errorf("line %d: unit cost must not be negative", i+1)
		}
	}

	res := &PurchaseResult{}
	var purchase models.Row
	var touched []int64
	err := s.store.Transaction(func(tx *db.Tx) error {
		var total float64
		for _, l := range in.Lines {
			total += l.UnitCost * float64(l.Quantity)
		}
		purchase = models.Row{
			"status":       "received",
			"total":        roundCents(total),
			"purchased_at": s.stamp(),
		}
		if in.SupplierID != 0 {
			purchase["supplier_id"] = in.SupplierID
		}
		var err error
		if res.PurchaseID, err = tx.InsertLogged(models.TablePurchases, purchase); err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}

		seen := make(map[int64]bool)
		for _, l := range in.Lines {
			product, err := loadProduct(tx, l.ProductID)
			if err != nil {
				return err
			}
			itemID, err := tx.InsertLogged(models.TablePurchaseItems, models.Row{
				"purchase_id": res.PurchaseID,
				"product_id":  l.ProductID,
				"quantity":    l.Quantity,
				"unit_cost":   l.UnitCost,
				"line_total":  roundCents(l.UnitCost * float64(l.Quantity)),
			})
			if err != nil {
				return fmt.Errorf("insert purchase item: %w", err)
			}
			res.ItemIDs = append(res.ItemIDs, itemID)

			onHand, _ := models.AsInt64(product["quantity_on_hand"])
			changes := models.Row{"quantity_on_hand": onHand + l.Quantity}
			if l.UnitCost > 0 {
				changes["cost_price"] = l.UnitCost
			}
			if err := tx.UpdateLogged(models.TableProducts, l.ProductID, changes); err != nil {
				return fmt.Errorf("increment stock: %w", err)
			}
			if _, err := tx.InsertLogged(models.TableStockMovements, models.Row{
				"product_id": l.ProductID,
				"type":       MovementIn,
				"quantity":   l.Quantity,
				"reason":     fmt.Sprintf("purchase %d", res.PurchaseID),
			}); err != nil {
				return fmt.Errorf("record movement: %w", err)
			}
			if !seen[l.ProductID] {
				seen[l.ProductID] = true
				touched = append(touched, l.ProductID)
			}
		}
		res.Total, _ = models.AsFloat64(purchase["total"])
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.HookFailures = s.hooks.Fire(ctx, hooks.Event{
		Kind:         hooks.KindPurchaseRecorded,
		Table:        models.TablePurchases,
		EntityID:     res.PurchaseID,
		Data:         purchase,
		StockChanged: touched,
		At:           s.now().UTC(),
	})
	return res, nil
}

// Create inserts a row into any synced table and queues it.
func (s *Service) Create(ctx context.Context, table string, data models.Row) (int64, error) {
	id, err := s.store.InsertLogged(table, data)
	if err != nil {
		return 0, err
	}
	s.fire(ctx, hooks.KindEntityCreated, table, id, data)
	return id, nil
}

// Update applies a partial update to one row and queues it.
func (s *Service) Update(ctx context.Context, table string, id int64, changes models.Row) error {
	if err := s.store.UpdateLogged(table, id, changes); err != nil {
		return err
	}
	s.fire(ctx, hooks.KindEntityUpdated, table, id, changes)
	return nil
}

// Delete removes one row and queues the delete.
func (s *Service) Delete(ctx context.Context, table string, id int64) error {
	if err := s.store.DeleteLogged(table, id); err != nil {
		return err
	}
	s.fire(ctx, hooks.KindEntityDeleted, table, id, nil)
	return nil
}

func (s *Service) fire(ctx context.Context, kind, table string, id int64, data models.Row) {
	ev := hooks.Event{Kind: kind, Table: table, EntityID: id, Data: data, At: s.now().UTC()}
	if table == models.TableProducts {
		if _, ok := data["quantity_on_hand"]; ok || kind == hooks.KindEntityCreated {
			ev.StockChanged = []int64{id}
		}
	}
	s.hooks.Fire(ctx, ev)
}

func (s *Service) stamp() string {
	return s.now().UTC().Format(models.TimeLayout)
}

func loadProduct(tx *db.Tx, id int64) (models.Row, error) {
	p, err := tx.FindByID(models.TableProducts, id)
	if err != nil {
		return nil, fmt.Errorf("load product %d: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: products %d", db.ErrRowNotFound, id)
	}
	return p, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
