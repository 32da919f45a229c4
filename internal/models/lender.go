package models

// LenderSpread holds a lender's pricing position relative to the market base rates.
// Spreads are in percentage points; positive means the lender prices above market.
type LenderSpread struct {
	ID         string  `json:"lender_id" yaml:"id"`
	Name       string  `json:"lender_name" yaml:"name"`
	Spread30   float64 `json:"spread_30" yaml:"spread_30"`
	Spread15   float64 `json:"spread_15" yaml:"spread_15"`
	SpreadARM  float64 `json:"spread_arm" yaml:"spread_arm"`
	MinCredit  int     `json:"min_credit" yaml:"min_credit"`
	MinDownPct float64 `json:"min_down_pct" yaml:"min_down_pct"`
}
