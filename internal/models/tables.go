package models

import "sort"

// Table names mirrored between the local store and the server.
const (
	TableCategories     = "categories"
	TableProducts       = "products"
	TableClients        = "clients"
	TableSuppliers      = "suppliers"
	TableInvoices       = "invoices"
	TableInvoiceItems   = "invoice_items"
	TableSales          = "sales"
	TablePurchases      = "purchases"
	TablePurchaseItems  = "purchase_items"
	TableStockMovements = "stock_movements"
	TableActivities     = "activities"
)

// Reference is a column holding the id of a row in another table.
type Reference struct {
	Table  string
	Column string
	Target string
}

var syncTables = map[string]bool{
	TableCategories:     true,
	TableProducts:       true,
	TableClients:        true,
	TableSuppliers:      true,
	TableInvoices:       true,
	TableInvoiceItems:   true,
	TableSales:          true,
	TablePurchases:      true,
	TablePurchaseItems:  true,
	TableStockMovements: true,
	TableActivities:     true,
}

// references lists every foreign-key-like column. Provisional ids are
// rewritten through these when the server assigns a real id.
var references = []Reference{
	{Table: TableProducts, Column: "category_id", Target: TableCategories},
	{Table: TableInvoices, Column: "client_id", Target: TableClients},
	{Table: TableInvoiceItems, Column: "invoice_id", Target: TableInvoices},
	{Table: TableInvoiceItems, Column: "product_id", Target: TableProducts},
	{Table: TableSales, Column: "product_id", Target: TableProducts},
	{Table: TableSales, Column: "client_id", Target: TableClients},
	{Table: TablePurchases, Column: "supplier_id", Target: TableSuppliers},
	{Table: TablePurchaseItems, Column: "purchase_id", Target: TablePurchases},
	{Table: TablePurchaseItems, Column: "product_id", Target: TableProducts},
	{Table: TableStockMovements, Column: "product_id", Target: TableProducts},
}

// uniqueColumns are business keys that must not repeat within one tenant.
var uniqueColumns = map[string][]string{
	TableProducts: {"sku"},
	TableInvoices: {"invoice_number"},
}

// UniqueColumns returns the columns of table whose values are unique.
func UniqueColumns(table string) []string {
	return uniqueColumns[table]
}

// IsSyncTable returns true for tables known at startup.
func IsSyncTable(name string) bool {
	return syncTables[name]
}

// SyncTables returns the known table names in a stable order.
func SyncTables() []string {
	out := make([]string, 0, len(syncTables))
	for t := range syncTables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ReferencesTo returns the columns that point at rows of target.
func ReferencesTo(target string) []Reference {
	var out []Reference
	for _, r := range references {
		if r.Target == target {
			out = append(out, r)
		}
	}
	return out
}

// ReferencesFrom returns the reference columns declared on table.
func ReferencesFrom(table string) []Reference {
	var out []Reference
	for _, r := range references {
		if r.Table == table {
			out = append(out, r)
		}
	}
	return out
}
