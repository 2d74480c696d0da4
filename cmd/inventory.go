package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stockly-app/stockly/internal/hooks"
	"github.com/stockly-app/stockly/internal/inventory"
	"github.com/stockly-app/stockly/internal/output"
)

var saleCmd = &cobra.Command{
	Use:   "sale <product-id>",
	Short: "Record a sale and take the units out of stock",
	Example: `  stockly sale 12 --qty 3
  stockly sale --qty 1 --price 9.99 --client 7 -- -4   # provisional ids follow --`,
	GroupID: "inventory",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, err := parseID(args[0])
		if err != nil {
			return err
		}
		qty, _ := cmd.Flags().GetInt64("qty")
		price, _ := cmd.Flags().GetFloat64("price")
		client, _ := cmd.Flags().GetInt64("client")

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		res, err := a.inventory().RecordSale(cmd.Context(), inventory.Sale{
			ProductID: productID,
			ClientID:  client,
			Quantity:  qty,
			UnitPrice: price,
		})
		if err != nil {
			return fail(err)
		}
		if jsonOutput {
			return output.JSON(res)
		}
		output.Success("SALE %d: %d unit(s) of product %d, total %.2f, %d left", res.SaleID, qty, productID, res.Total, res.Remaining)
		reportHookFailures(res.HookFailures)
		return nil
	},
}

// parsePurchaseLine reads "product:qty[:unit_cost]".
func parsePurchaseLine(s string) (inventory.PurchaseLine, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return inventory.PurchaseLine{}, fmt.Errorf("line %q: want product:qty[:unit_cost]", s)
	}
	var line inventory.PurchaseLine
	var err error
	if line.ProductID, err = strconv.ParseInt(parts[0], 10, 64); err != nil || line.ProductID == 0 {
		return line, fmt.Errorf("line %q: invalid product id", s)
	}
	if line.Quantity, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return line, fmt.Errorf("line %q: invalid quantity", s)
	}
	if len(parts) == 3 {
		if line.UnitCost, err = strconv.ParseFloat(parts[2], 64); err != nil {
			return line, fmt.Errorf("line %q: invalid unit cost", s)
		}
	}
	return line, nil
}

var purchaseCmd = &cobra.Command{
	Use:     "purchase",
	Short:   "Record goods received from a supplier",
	Example: `  stockly purchase --supplier 3 --line 12:10:4.25 --line 14:2:19.90`,
	GroupID: "inventory",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		supplier, _ := cmd.Flags().GetInt64("supplier")
		rawLines, _ := cmd.Flags().GetStringArray("line")
		if len(rawLines) == 0 {
			return invalid("at least one --line is required")
		}
		in := inventory.Purchase{SupplierID: supplier}
		for _, raw := range rawLines {
			line, err := parsePurchaseLine(raw)
			if err != nil {
				return invalid("%v", err)
			}
			in.Lines = append(in.Lines, line)
		}

		a, err := openApp()
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		res, err := a.inventory().RecordPurchase(cmd.Context(), in)
		if err != nil {
			return fail(err)
		}
		if jsonOutput {
			return output.JSON(res)
		}
		output.Success("PURCHASE %d: %d line(s), total %.2f", res.PurchaseID, len(res.ItemIDs), res.Total)
		reportHookFailures(res.HookFailures)
		return nil
	},
}

func reportHookFailures(failures []hooks.Failure) {
	for _, f := range failures {
		output.Warning("hook %s failed after %d attempt(s): %v", f.Hook, f.Attempts, f.Err)
	}
}

func init() {
	saleCmd.Flags().Int64("qty", 1, "Units sold")
	saleCmd.Flags().Float64("price", 0, "Unit price (default: the product's selling price)")
	saleCmd.Flags().Int64("client", 0, "Client id")
	purchaseCmd.Flags().Int64("supplier", 0, "Supplier id")
	purchaseCmd.Flags().StringArray("line", nil, "product:qty[:unit_cost] (repeatable)")
	rootCmd.AddCommand(saleCmd, purchaseCmd)
}
