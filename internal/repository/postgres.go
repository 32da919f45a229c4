package repository

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// advisoryLockKey serializes upsert batches across processes sharing one database
const advisoryLockKey = 0x6c656e64

var postgresDialect = dialect{
	name: "postgres",
	schema: `
		CREATE TABLE IF NOT EXISTS rates (
			lender_id    TEXT PRIMARY KEY,
			lender_name  TEXT NOT NULL,
			rate_30yr    NUMERIC(5,2) NOT NULL CHECK (rate_30yr > 0 AND rate_30yr < 100),
			rate_15yr    NUMERIC(5,2) NOT NULL CHECK (rate_15yr > 0 AND rate_15yr < 100),
			rate_arm_5_1 NUMERIC(5,2) NOT NULL CHECK (rate_arm_5_1 > 0 AND rate_arm_5_1 < 100),
			apr_30yr     NUMERIC(5,2) NOT NULL,
			min_credit   INTEGER NOT NULL,
			min_down_pct NUMERIC(5,2) NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS rate_history (
			id           BIGSERIAL PRIMARY KEY,
			lender_id    TEXT NOT NULL,
			rate_30yr    NUMERIC(5,2) NOT NULL,
			rate_15yr    NUMERIC(5,2) NOT NULL,
			rate_arm_5_1 NUMERIC(5,2) NOT NULL,
			apr_30yr     NUMERIC(5,2) NOT NULL,
			recorded_at  TIMESTAMPTZ NOT NULL,
			recorded_day DATE
		);
		CREATE INDEX IF NOT EXISTS idx_history_lender ON rate_history (lender_id, recorded_at DESC);
		CREATE INDEX IF NOT EXISTS idx_history_date   ON rate_history (recorded_at DESC);`,

	dayColumnExists: `
		SELECT COUNT(*) FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = 'rate_history' AND column_name = 'recorded_day'`,
	addDayColumn:  `ALTER TABLE rate_history ADD COLUMN recorded_day DATE`,
	selectUndated: `SELECT id, recorded_at FROM rate_history WHERE recorded_day IS NULL`,
	setDay:        `UPDATE rate_history SET recorded_at = $1::timestamptz, recorded_day = $2::date WHERE id = $3`,

	lockBatch: fmt.Sprintf(`SELECT pg_advisory_xact_lock(%d)`, advisoryLockKey),

	upsertLatest: `
		INSERT INTO rates
			(lender_id, lender_name, rate_30yr, rate_15yr, rate_arm_5_1,
			 apr_30yr, min_credit, min_down_pct, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (lender_id) DO UPDATE SET
			lender_name  = EXCLUDED.lender_name,
			rate_30yr    = EXCLUDED.rate_30yr,
			rate_15yr    = EXCLUDED.rate_15yr,
			rate_arm_5_1 = EXCLUDED.rate_arm_5_1,
			apr_30yr     = EXCLUDED.apr_30yr,
			min_credit   = EXCLUDED.min_credit,
			min_down_pct = EXCLUDED.min_down_pct,
			updated_at   = EXCLUDED.updated_at`,
	insertHistory: `
		INSERT INTO rate_history
			(lender_id, rate_30yr, rate_15yr, rate_arm_5_1, apr_30yr, recorded_at, recorded_day)
		SELECT $1::text, $2::numeric, $3::numeric, $4::numeric, $5::numeric, $6::timestamptz, $7::date
		WHERE NOT EXISTS (
			SELECT 1 FROM rate_history
			WHERE lender_id = $1::text AND recorded_day = $7::date
		)`,
	selectLatest: `
		SELECT lender_id, lender_name, rate_30yr, rate_15yr, rate_arm_5_1,
		       apr_30yr, min_credit, min_down_pct, updated_at
		FROM rates
		ORDER BY rate_30yr ASC, lender_id ASC`,
	lenderExists: `
		SELECT EXISTS (SELECT 1 FROM rates WHERE lender_id = $1)
		    OR EXISTS (SELECT 1 FROM rate_history WHERE lender_id = $1)`,
	lenderHistory: `
		SELECT id, lender_id, rate_30yr, rate_15yr, rate_arm_5_1, apr_30yr, recorded_at
		FROM rate_history
		WHERE lender_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2`,
	allHistory: `
		SELECT h.id, h.lender_id, r.lender_name,
		       h.rate_30yr, h.rate_15yr, h.rate_arm_5_1, h.apr_30yr, h.recorded_at
		FROM rate_history h
		JOIN rates r USING (lender_id)
		WHERE h.recorded_at >= $1
		ORDER BY h.recorded_at DESC, h.lender_id`,
	historyStats: `
		SELECT COUNT(*),
		       COUNT(DISTINCT lender_id),
		       COUNT(DISTINCT recorded_day),
		       MIN(recorded_at),
		       MAX(recorded_at)
		FROM rate_history`,

	timeArg: func(t time.Time) any { return t },
}

// NewPostgresRepository connects to Postgres, runs schema migrations and
// returns a ready-to-use Repository.
func NewPostgresRepository(dsn string, loc *time.Location, log *logrus.Logger) (*Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 5; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		log.WithError(err).Warnf("Postgres not ready, retrying (%d/5)", i+1)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	return newRepository(db, postgresDialect, loc, log)
}
