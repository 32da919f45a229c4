package repository

import "time"

// dialect holds the backend-specific SQL for a Repository
type dialect struct {
	name   string
	schema string

	// dayColumnExists/addDayColumn upgrade history tables created before recorded_day existed
	dayColumnExists string
	addDayColumn    string
	selectUndated   string
	setDay          string

	// lockBatch is executed first inside every upsert transaction, if set
	lockBatch string

	upsertLatest  string
	insertHistory string
	selectLatest  string
	lenderExists  string
	lenderHistory string
	allHistory    string
	historyStats  string

	timeArg func(time.Time) any
}
