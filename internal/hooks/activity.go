package hooks

import (
	"context"
	"fmt"

	"github.com/stockly-app/stockly/internal/models"
)

// RowInserter writes a row and queues it for sync.
type RowInserter interface {
	InsertLogged(table string, data models.Row) (int64, error)
}

// ActivityLog records each event as an activities row, which syncs like any
// other table.
type ActivityLog struct {
	Store RowInserter
}

func (a *ActivityLog) Name() string { return "activity" }

func (a *ActivityLog) Run(_ context.Context, ev Event) error {
	if ev.Table == models.TableActivities {
		return nil
	}
	row := models.Row{
		"type":        ev.Kind,
		"description": describe(ev),
		"entity_type": ev.Table,
	}
	if ev.EntityID != 0 {
		row["entity_id"] = ev.EntityID
	}
	if _, err := a.Store.InsertLogged(models.TableActivities, row); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

func describe(ev Event) string {
	switch ev.Kind {
	case KindSaleRecorded:
		qty, _ := models.AsInt64(ev.Data["quantity"])
		return fmt.Sprintf("sale of %d unit(s) of product %v", qty, ev.Data["product_id"])
	case KindPurchaseRecorded:
		return fmt.Sprintf("purchase received (%d product(s) restocked)", len(ev.StockChanged))
	case KindLowStock:
		return fmt.Sprintf("low stock on product %d", ev.EntityID)
	case KindEntityCreated:
		return fmt.Sprintf("created %s %d", ev.Table, ev.EntityID)
	case KindEntityUpdated:
		return fmt.Sprintf("updated %s %d", ev.Table, ev.EntityID)
	case KindEntityDeleted:
		return fmt.Sprintf("deleted %s %d", ev.Table, ev.EntityID)
	}
	return ev.Kind
}
