package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `
		CREATE TABLE IF NOT EXISTS rates (
			lender_id    TEXT PRIMARY KEY,
			lender_name  TEXT NOT NULL,
			rate_30yr    REAL NOT NULL CHECK (rate_30yr > 0 AND rate_30yr < 100),
			rate_15yr    REAL NOT NULL CHECK (rate_15yr > 0 AND rate_15yr < 100),
			rate_arm_5_1 REAL NOT NULL CHECK (rate_arm_5_1 > 0 AND rate_arm_5_1 < 100),
			apr_30yr     REAL NOT NULL,
			min_credit   INTEGER NOT NULL,
			min_down_pct REAL NOT NULL,
			updated_at   TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS rate_history (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			lender_id    TEXT NOT NULL,
			rate_30yr    REAL NOT NULL,
			rate_15yr    REAL NOT NULL,
			rate_arm_5_1 REAL NOT NULL,
			apr_30yr     REAL NOT NULL,
			recorded_at  TEXT NOT NULL,
			recorded_day TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_history_lender ON rate_history (lender_id, recorded_at DESC);
		CREATE INDEX IF NOT EXISTS idx_history_date   ON rate_history (recorded_at DESC);`,

	dayColumnExists: `SELECT COUNT(*) FROM pragma_table_info('rate_history') WHERE name = 'recorded_day'`,
	addDayColumn:    `ALTER TABLE rate_history ADD COLUMN recorded_day TEXT`,
	selectUndated:   `SELECT id, recorded_at FROM rate_history WHERE recorded_day IS NULL`,
	setDay:          `UPDATE rate_history SET recorded_at = ?1, recorded_day = ?2 WHERE id = ?3`,

	upsertLatest: `
		INSERT INTO rates
			(lender_id, lender_name, rate_30yr, rate_15yr, rate_arm_5_1,
			 apr_30yr, min_credit, min_down_pct, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lender_id) DO UPDATE SET
			lender_name  = excluded.lender_name,
			rate_30yr    = excluded.rate_30yr,
			rate_15yr    = excluded.rate_15yr,
			rate_arm_5_1 = excluded.rate_arm_5_1,
			apr_30yr     = excluded.apr_30yr,
			min_credit   = excluded.min_credit,
			min_down_pct = excluded.min_down_pct,
			updated_at   = excluded.updated_at`,
	insertHistory: `
		INSERT INTO rate_history
			(lender_id, rate_30yr, rate_15yr, rate_arm_5_1, apr_30yr, recorded_at, recorded_day)
		SELECT ?1, ?2, ?3, ?4, ?5, ?6, ?7
		WHERE NOT EXISTS (
			SELECT 1 FROM rate_history
			WHERE lender_id = ?1 AND recorded_day = ?7
		)`,
	selectLatest: `
		SELECT lender_id, lender_name, rate_30yr, rate_15yr, rate_arm_5_1,
		       apr_30yr, min_credit, min_down_pct, updated_at
		FROM rates
		ORDER BY rate_30yr ASC, lender_id ASC`,
	lenderExists: `
		SELECT EXISTS (SELECT 1 FROM rates WHERE lender_id = ?1)
		    OR EXISTS (SELECT 1 FROM rate_history WHERE lender_id = ?1)`,
	lenderHistory: `
		SELECT id, lender_id, rate_30yr, rate_15yr, rate_arm_5_1, apr_30yr, recorded_at
		FROM rate_history
		WHERE lender_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`,
	allHistory: `
		SELECT h.id, h.lender_id, r.lender_name,
		       h.rate_30yr, h.rate_15yr, h.rate_arm_5_1, h.apr_30yr, h.recorded_at
		FROM rate_history h
		JOIN rates r USING (lender_id)
		WHERE h.recorded_at >= ?
		ORDER BY h.recorded_at DESC, h.lender_id`,
	historyStats: `
		SELECT COUNT(*),
		       COUNT(DISTINCT lender_id),
		       COUNT(DISTINCT recorded_day),
		       MIN(recorded_at),
		       MAX(recorded_at)
		FROM rate_history`,

	timeArg: func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
}

// NewSQLiteRepository opens (creating if needed) a SQLite database file.
// Write transactions start with BEGIN IMMEDIATE so concurrent batches queue
// on the database lock instead of racing the daily history check.
func NewSQLiteRepository(path string, loc *time.Location, log *logrus.Logger) (*Repository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate&_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	return newRepository(db, sqliteDialect, loc, log)
}
