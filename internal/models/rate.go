package models

import "time"

// RateSource identifies where a set of base rates came from
type RateSource string

const (
	SourceFRED      RateSource = "fred"
	SourceSimulated RateSource = "simulated"
)

// BaseRateSet represents the market-wide reference rates for one pipeline run
type BaseRateSet struct {
	Rate30yr  float64    `json:"rate_30yr"`
	Rate15yr  float64    `json:"rate_15yr"`
	RateARM51 float64    `json:"rate_arm_5_1"`
	Source    RateSource `json:"source"`
}

// LenderRate represents the latest snapshot row for a lender
type LenderRate struct {
	LenderID   string    `json:"lender_id"`
	LenderName string    `json:"lender_name"`
	Rate30yr   float64   `json:"rate_30yr"`
	Rate15yr   float64   `json:"rate_15yr"`
	RateARM51  float64   `json:"rate_arm_5_1"`
	APR30yr    float64   `json:"apr_30yr"`
	MinCredit  int       `json:"min_credit"`
	MinDownPct float64   `json:"min_down_pct"`
	UpdatedAt  time.Time `json:"updated_at"`
}
