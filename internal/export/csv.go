package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Dan9191/lender-rates/internal/models"
)

// Header is the fixed column order of the history export
var Header = []string{
	"recorded_at", "lender_id", "lender_name",
	"rate_30yr", "rate_15yr", "rate_arm_5_1", "apr_30yr",
}

// FileName returns the attachment name offered for a days window
func FileName(days int) string {
	return fmt.Sprintf("toplenderguide_rates_%ddays.csv", days)
}

// WriteHistoryCSV writes the header and one row per entry, in the given order
func WriteHistoryCSV(w io.Writer, entries []models.HistoryEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	for _, e := range entries {
		row := []string{
			e.RecordedAt.UTC().Format(time.RFC3339),
			e.LenderID,
			e.LenderName,
			formatRate(e.Rate30yr),
			formatRate(e.Rate15yr),
			formatRate(e.RateARM51),
			formatRate(e.APR30yr),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("csv: write row for %s: %w", e.LenderID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
