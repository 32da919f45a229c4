package lenders

import (
	"fmt"
	"os"

	"github.com/Dan9191/lender-rates/internal/models"
	"gopkg.in/yaml.v3"
)

// defaultSpreads is the built-in spread table, in display insertion order
var defaultSpreads = []models.LenderSpread{
	{ID: "rocket", Name: "Rocket Mortgage", Spread30: 0.12, Spread15: 0.10, SpreadARM: 0.08, MinCredit: 580, MinDownPct: 3.0},
	{ID: "loandepot", Name: "LoanDepot", Spread30: -0.05, Spread15: -0.04, SpreadARM: -0.06, MinCredit: 620, MinDownPct: 3.5},
	{ID: "bofa", Name: "Bank of America", Spread30: 0.19, Spread15: 0.15, SpreadARM: 0.14, MinCredit: 660, MinDownPct: 3.0},
	{ID: "wells", Name: "Wells Fargo Home Mortgage", Spread30: 0.26, Spread15: 0.22, SpreadARM: 0.20, MinCredit: 620, MinDownPct: 3.0},
	{ID: "better", Name: "Better Mortgage", Spread30: -0.03, Spread15: -0.02, SpreadARM: -0.10, MinCredit: 620, MinDownPct: 5.0},
	{ID: "navyfed", Name: "Navy Federal Credit Union", Spread30: -0.07, Spread15: -0.06, SpreadARM: -0.12, MinCredit: 580, MinDownPct: 0.0},
}

// Table is an immutable, ordered set of lender spreads
type Table struct {
	spreads []models.LenderSpread
	index   map[string]int
}

type tableFile struct {
	Lenders []models.LenderSpread `yaml:"lenders"`
}

// NewTable validates the given spreads and freezes them into a Table
func NewTable(spreads []models.LenderSpread) (*Table, error) {
	if len(spreads) == 0 {
		return nil, fmt.Errorf("spread table is empty")
	}

	t := &Table{
		spreads: make([]models.LenderSpread, len(spreads)),
		index:   make(map[string]int, len(spreads)),
	}
	copy(t.spreads, spreads)

	for i, s := range t.spreads {
		if s.ID == "" {
			return nil, fmt.Errorf("lender at position %d has no id", i)
		}
		if s.Name == "" {
			return nil, fmt.Errorf("lender %q has no name", s.ID)
		}
		if _, dup := t.index[s.ID]; dup {
			return nil, fmt.Errorf("duplicate lender id %q", s.ID)
		}
		t.index[s.ID] = i
	}
	return t, nil
}

// DefaultTable returns the built-in spread table
func DefaultTable() *Table {
	t, err := NewTable(defaultSpreads)
	if err != nil {
		panic("invalid built-in spread table: " + err.Error())
	}
	return t
}

// LoadTable reads a spread table from a YAML file of the form
//
//	lenders:
//	  - id: rocket
//	    name: Rocket Mortgage
//	    spread_30: 0.12
//	    ...
func LoadTable(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lenders file: %w", err)
	}

	var f tableFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse lenders file %s: %w", path, err)
	}
	return NewTable(f.Lenders)
}

// Spreads returns a copy of the table entries in insertion order
func (t *Table) Spreads() []models.LenderSpread {
	out := make([]models.LenderSpread, len(t.spreads))
	copy(out, t.spreads)
	return out
}

// Lookup returns the spread entry for a lender id
func (t *Table) Lookup(id string) (models.LenderSpread, bool) {
	i, ok := t.index[id]
	if !ok {
		return models.LenderSpread{}, false
	}
	return t.spreads[i], true
}

// Len returns the number of lenders in the table
func (t *Table) Len() int {
	return len(t.spreads)
}
