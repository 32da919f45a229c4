package models

import "time"

// HistoryEntry represents one daily history row for a lender.
// LenderName is only populated by reads that join against the snapshot table.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	LenderID   string    `json:"lender_id"`
	LenderName string    `json:"lender_name,omitempty"`
	Rate30yr   float64   `json:"rate_30yr"`
	Rate15yr   float64   `json:"rate_15yr"`
	RateARM51  float64   `json:"rate_arm_5_1"`
	APR30yr    float64   `json:"apr_30yr"`
	RecordedAt time.Time `json:"recorded_at"`
}

// HistoryStats summarizes the stored history
type HistoryStats struct {
	TotalRows   int        `json:"total_rows"`
	LenderCount int        `json:"lender_count"`
	DaysCovered int        `json:"days_covered"`
	Earliest    *time.Time `json:"earliest"`
	Latest      *time.Time `json:"latest"`
}

// RefreshResult describes a completed pipeline run
type RefreshResult struct {
	RunID     string      `json:"run_id"`
	Base      BaseRateSet `json:"base"`
	Lenders   []string    `json:"lenders"`
	UpdatedAt time.Time   `json:"updated_at"`
}
