package hooks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stockly-app/stockly/internal/models"
)

// RowFinder reads one row by id; a missing row is (nil, nil).
type RowFinder interface {
	FindByID(table string, id int64) (models.Row, error)
}

// Alert is a product at or under its reorder level.
type Alert struct {
	ProductID  int64
	SKU        string
	Name       string
	Quantity   int64
	Minimum    int64
	OutOfStock bool
}

// LowStock checks every product an event touched. A product alerts when its
// quantity is at or below the larger of its min_stock_level and Threshold.
type LowStock struct {
	Store     RowFinder
	Threshold int64
	// Notify receives each alert. When nil, alerts are logged.
	Notify func(ctx context.Context, a Alert) error
	Logger *slog.Logger
}

func (l *LowStock) Name() string { return "low-stock" }

func (l *LowStock) Run(ctx context.Context, ev Event) error {
	for _, id := range ev.StockChanged {
		p, err := l.Store.FindByID(models.TableProducts, id)
		if err != nil {
			return fmt.Errorf("load product %d: %w", id, err)
		}
		if p == nil {
			continue
		}
		a, low := Check(p, l.Threshold)
		if !low {
			continue
		}
		if err := l.notify(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (l *LowStock) notify(ctx context.Context, a Alert) error {
	if l.Notify != nil {
		return l.Notify(ctx, a)
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("low stock", "product_id", a.ProductID, "sku", a.SKU, "quantity", a.Quantity,
		"minimum", a.Minimum, "out_of_stock", a.OutOfStock)
	return nil
}

// Check reports whether product row p is low on stock.
func Check(p models.Row, threshold int64) (Alert, bool) {
	qty, _ := models.AsInt64(p["quantity_on_hand"])
	minLevel, _ := models.AsInt64(p["min_stock_level"])
	limit := max(minLevel, threshold)
	a := Alert{
		ProductID:  p.ID(),
		Quantity:   qty,
		Minimum:    limit,
		OutOfStock: qty <= 0,
	}
	a.SKU, _ = p["sku"].(string)
	a.Name, _ = p["name"].(string)
	return a, qty <= 0 || qty <= limit
}
