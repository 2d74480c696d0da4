package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/inventory"
	"github.com/stockly-app/stockly/internal/output"
)

func TestParseFieldValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"Hammer", "Hammer"},
		{"12", int64(12)},
		{"-3", int64(-3)},
		{"12.5", 12.5},
		{"true", true},
		{"false", false},
		{"null", nil},
		{`"0042"`, "0042"},
		{`"true"`, "true"},
		{"", ""},
	}
	for _, tt := range tests {
		got := parseFieldValue(tt.in)
		if got != tt.want {
			t.Errorf("parseFieldValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestParseFields(t *testing.T) {
	row, err := parseFields([]string{"name=Claw hammer", "quantity_on_hand=4", "description="})
	if err != nil {
		t.Fatalf("parseFields: %v", err)
	}
	if row["name"] != "Claw hammer" {
		t.Errorf("name = %#v", row["name"])
	}
	if row["quantity_on_hand"] != int64(4) {
		t.Errorf("quantity_on_hand = %#v", row["quantity_on_hand"])
	}
	if v, ok := row["description"]; !ok || v != "" {
		t.Errorf("description = %#v, present %v", v, ok)
	}

	for _, bad := range []string{"name", "=value", " =x"} {
		if _, err := parseFields([]string{bad}); err == nil {
			t.Errorf("parseFields(%q) succeeded, want error", bad)
		}
	}
}

func TestParseID(t *testing.T) {
	jsonOutput = false
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"12", 12, false},
		{"-3", -3, false},
		{"0", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCheckTable(t *testing.T) {
	jsonOutput = false
	if err := checkTable("products"); err != nil {
		t.Errorf("checkTable(products): %v", err)
	}
	if err := checkTable("issues"); err == nil {
		t.Error("checkTable(issues) succeeded, want error")
	}
}

func TestParsePurchaseLine(t *testing.T) {
	tests := []struct {
		in      string
		want    inventory.PurchaseLine
		wantErr bool
	}{
		{"12:10", inventory.PurchaseLine{ProductID: 12, Quantity: 10}, false},
		{"12:10:4.25", inventory.PurchaseLine{ProductID: 12, Quantity: 10, UnitCost: 4.25}, false},
		{"-2:1", inventory.PurchaseLine{ProductID: -2, Quantity: 1}, false},
		{"12", inventory.PurchaseLine{}, true},
		{"0:5", inventory.PurchaseLine{}, true},
		{"x:5", inventory.PurchaseLine{}, true},
		{"12:y", inventory.PurchaseLine{}, true},
		{"12:1:z", inventory.PurchaseLine{}, true},
		{"1:2:3:4", inventory.PurchaseLine{}, true},
	}
	for _, tt := range tests {
		got, err := parsePurchaseLine(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePurchaseLine(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parsePurchaseLine(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errNotConfigured, output.ErrCodeNotConfigured},
		{fmt.Errorf("products 3: %w", db.ErrRowNotFound), output.ErrCodeNotFound},
		{fmt.Errorf("change 9: %w", db.ErrChangeNotFound), output.ErrCodeNotFound},
		{fmt.Errorf("sale: %w", inventory.ErrInsufficientStock), output.ErrCodeOutOfStock},
		{&db.IntegrityError{Table: "products", Err: errors.New("UNIQUE constraint failed")}, output.ErrCodeConflict},
		{errors.New("disk I/O error"), output.ErrCodeDatabaseError},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
