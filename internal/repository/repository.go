package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Dan9191/lender-rates/internal/config"
	"github.com/Dan9191/lender-rates/internal/models"
	"github.com/sirupsen/logrus"
)

// Repository provides database operations for the rate snapshot and history tables
type Repository struct {
	db  *sql.DB
	d   dialect
	loc *time.Location
	log *logrus.Logger

	// writeMu serializes batches from this process; cross-process safety comes
	// from the dialect's batch lock or the database's own write lock.
	writeMu sync.Mutex
}

// Open selects the backend from configuration: Postgres when DATABASE_URL is
// set, a local SQLite file otherwise.
func Open(cfg *config.Config, log *logrus.Logger) (*Repository, error) {
	if cfg.UsePostgres() {
		log.Info("Using PostgreSQL rate store")
		return NewPostgresRepository(cfg.DatabaseURL, cfg.Location(), log)
	}
	log.WithField("path", cfg.DBPath).Info("Using SQLite rate store")
	return NewSQLiteRepository(cfg.DBPath, cfg.Location(), log)
}

func newRepository(db *sql.DB, d dialect, loc *time.Location, log *logrus.Logger) (*Repository, error) {
	if loc == nil {
		loc = time.UTC
	}
	r := &Repository{db: db, d: d, loc: loc, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", d.name, err)
	}
	return r, nil
}

// migrate creates the tables and upgrades history rows that predate recorded_day,
// rewriting their recorded_at in the backend's canonical layout
func (r *Repository) migrate() error {
	if _, err := r.db.Exec(r.d.schema); err != nil {
		return err
	}

	var n int
	if err := r.db.QueryRow(r.d.dayColumnExists).Scan(&n); err != nil {
		return fmt.Errorf("failed to inspect rate_history: %w", err)
	}
	if n == 0 {
		if _, err := r.db.Exec(r.d.addDayColumn); err != nil {
			return fmt.Errorf("failed to add recorded_day: %w", err)
		}
	}
	return r.backfillDays()
}

func (r *Repository) backfillDays() error {
	rows, err := r.db.Query(r.d.selectUndated)
	if err != nil {
		return fmt.Errorf("failed to find undated history: %w", err)
	}
	type undated struct {
		id  int64
		at  time.Time
		day string
	}
	var pending []undated
	for rows.Next() {
		var id int64
		var at dbTime
		if err := rows.Scan(&id, &at); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan undated history: %w", err)
		}
		pending = append(pending, undated{id: id, at: at.Time, day: r.dayOf(at.Time)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, u := range pending {
		if _, err := r.db.Exec(r.d.setDay, r.d.timeArg(u.at), u.day, u.id); err != nil {
			return fmt.Errorf("failed to backfill history row %d: %w", u.id, err)
		}
	}
	if len(pending) > 0 {
		r.log.WithField("rows", len(pending)).Info("Backfilled recorded_day on history rows")
	}
	return nil
}

// dayOf returns the calendar day of t in the repository's timezone
func (r *Repository) dayOf(t time.Time) string {
	return civil.DateOf(t.In(r.loc)).String()
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Backend returns the dialect name, "postgres" or "sqlite"
func (r *Repository) Backend() string {
	return r.d.name
}

// UpsertRates overwrites the snapshot row of every record and appends a history
// row for each lender that has none yet on the calendar day of at. The whole
// batch commits or rolls back as one transaction.
func (r *Repository) UpsertRates(ctx context.Context, records []models.LenderRate, at time.Time) (err error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.log.WithError(rbErr).Error("Failed to roll back rate upsert")
			}
		}
	}()

	if r.d.lockBatch != "" {
		if _, err = tx.ExecContext(ctx, r.d.lockBatch); err != nil {
			return fmt.Errorf("failed to lock rate tables: %w", err)
		}
	}

	ts := r.d.timeArg(at)
	day := r.dayOf(at)
	inserted := 0
	for _, rec := range records {
		if _, err = tx.ExecContext(ctx, r.d.upsertLatest,
			rec.LenderID, rec.LenderName, rec.Rate30yr, rec.Rate15yr, rec.RateARM51,
			rec.APR30yr, rec.MinCredit, rec.MinDownPct, ts); err != nil {
			return fmt.Errorf("failed to upsert rate for %s: %w", rec.LenderID, err)
		}

		var res sql.Result
		res, err = tx.ExecContext(ctx, r.d.insertHistory,
			rec.LenderID, rec.Rate30yr, rec.Rate15yr, rec.RateARM51, rec.APR30yr, ts, day)
		if err != nil {
			return fmt.Errorf("failed to append history for %s: %w", rec.LenderID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rate upsert: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"lenders":      len(records),
		"history_rows": inserted,
		"day":          day,
	}).Info("Upserted lender rates")
	return nil
}

// LatestRates returns the snapshot for all lenders, cheapest 30yr first
func (r *Repository) LatestRates(ctx context.Context) ([]models.LenderRate, error) {
	rows, err := r.db.QueryContext(ctx, r.d.selectLatest)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest rates: %w", err)
	}
	defer rows.Close()

	rates := []models.LenderRate{}
	for rows.Next() {
		var rate models.LenderRate
		var updated dbTime
		if err := rows.Scan(&rate.LenderID, &rate.LenderName, &rate.Rate30yr, &rate.Rate15yr,
			&rate.RateARM51, &rate.APR30yr, &rate.MinCredit, &rate.MinDownPct, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		rate.UpdatedAt = updated.Time
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}

// LenderExists reports whether the lender has a snapshot or any history
func (r *Repository) LenderExists(ctx context.Context, lenderID string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, r.d.lenderExists, lenderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to look up lender %s: %w", lenderID, err)
	}
	return exists, nil
}

// LenderHistory returns up to limit history rows for one lender, newest first
func (r *Repository) LenderHistory(ctx context.Context, lenderID string, limit int) ([]models.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, r.d.lenderHistory, lenderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", lenderID, err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		var recorded dbTime
		if err := rows.Scan(&e.ID, &e.LenderID, &e.Rate30yr, &e.Rate15yr, &e.RateARM51, &e.APR30yr, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.RecordedAt = recorded.Time
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AllHistory returns every lender's history recorded at or after since, with
// display names taken from the snapshot table. Newest first, then by lender id.
func (r *Repository) AllHistory(ctx context.Context, since time.Time) ([]models.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, r.d.allHistory, r.d.timeArg(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		var recorded dbTime
		if err := rows.Scan(&e.ID, &e.LenderID, &e.LenderName, &e.Rate30yr, &e.Rate15yr,
			&e.RateARM51, &e.APR30yr, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.RecordedAt = recorded.Time
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HistoryStats summarizes the history table in a single query
func (r *Repository) HistoryStats(ctx context.Context) (models.HistoryStats, error) {
	var stats models.HistoryStats
	var earliest, latest dbTime
	err := r.db.QueryRowContext(ctx, r.d.historyStats).
		Scan(&stats.TotalRows, &stats.LenderCount, &stats.DaysCovered, &earliest, &latest)
	if err != nil {
		return models.HistoryStats{}, fmt.Errorf("failed to query history stats: %w", err)
	}
	stats.Earliest = earliest.ptr()
	stats.Latest = latest.ptr()
	return stats, nil
}
