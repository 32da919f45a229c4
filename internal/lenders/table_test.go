package lenders

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Dan9191/lender-rates/internal/models"
)

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()
	if table.Len() != 6 {
		t.Fatalf("Len: got %d, want 6", table.Len())
	}
	if got := table.Spreads()[0].ID; got != "rocket" {
		t.Errorf("first lender: got %s, want rocket", got)
	}
	if _, ok := table.Lookup("navyfed"); !ok {
		t.Error("navyfed should be known")
	}
	if _, ok := table.Lookup("nobody"); ok {
		t.Error("unknown lender should not be found")
	}
}

func TestSpreadsReturnsCopy(t *testing.T) {
	table := DefaultTable()
	s := table.Spreads()
	s[0].Spread30 = 99

	got, _ := table.Lookup("rocket")
	if got.Spread30 != 0.12 {
		t.Errorf("table mutated through Spreads(): spread_30 = %v", got.Spread30)
	}
}

func TestNewTableValidation(t *testing.T) {
	tests := []struct {
		name    string
		spreads []models.LenderSpread
	}{
		{name: "empty", spreads: nil},
		{name: "missing id", spreads: []models.LenderSpread{{Name: "X"}}},
		{name: "missing name", spreads: []models.LenderSpread{{ID: "x"}}},
		{name: "duplicate id", spreads: []models.LenderSpread{{ID: "x", Name: "X"}, {ID: "x", Name: "Y"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable(tt.spreads); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lenders.yaml")
	content := `lenders:
  - id: chase
    name: Chase Home Lending
    spread_30: 0.15
    spread_15: 0.11
    spread_arm: 0.09
    min_credit: 620
    min_down_pct: 3.0
  - id: usbank
    name: U.S. Bank
    spread_30: -0.02
    spread_15: -0.01
    spread_arm: 0.0
    min_credit: 640
    min_down_pct: 5.0
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", table.Len())
	}
	chase, ok := table.Lookup("chase")
	if !ok {
		t.Fatal("chase missing")
	}
	if chase.Spread30 != 0.15 || chase.MinCredit != 620 {
		t.Errorf("chase parsed wrong: %+v", chase)
	}
	if table.Spreads()[1].ID != "usbank" {
		t.Error("file order not preserved")
	}
}

func TestLoadTableErrors(t *testing.T) {
	if _, err := LoadTable(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("lenders: [::"), 0644)
	if _, err := LoadTable(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
