package repository

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/lender-rates/internal/lenders"
	"github.com/Dan9191/lender-rates/internal/models"
	"github.com/sirupsen/logrus"
)

// repoFactory returns an empty repository whose calendar day is taken in loc
type repoFactory func(t *testing.T, loc *time.Location) *Repository

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func buildRecords(r30, r15, rarm float64) []models.LenderRate {
	return lenders.DefaultTable().Build(models.BaseRateSet{Rate30yr: r30, Rate15yr: r15, RateARM51: rarm})
}

func historyByLender(t *testing.T, repo *Repository, since time.Time) map[string][]models.HistoryEntry {
	t.Helper()
	all, err := repo.AllHistory(context.Background(), since)
	if err != nil {
		t.Fatalf("AllHistory: %v", err)
	}
	out := map[string][]models.HistoryEntry{}
	for _, e := range all {
		out[e.LenderID] = append(out[e.LenderID], e)
	}
	return out
}

// runStoreContract exercises the behaviour every backend must share
func runStoreContract(t *testing.T, newRepo repoFactory) {
	ctx := context.Background()
	epoch := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("same day upsert keeps first history row and overwrites snapshot", func(t *testing.T) {
		repo := newRepo(t, time.UTC)
		first := buildRecords(6.74, 6.05, 5.98)
		second := buildRecords(6.90, 6.20, 6.10)
		morning := time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)
		afternoon := time.Date(2026, 10, 15, 16, 45, 12, 345000000, time.UTC)

		if err := repo.UpsertRates(ctx, first, morning); err != nil {
			t.Fatalf("first upsert: %v", err)
		}
		if err := repo.UpsertRates(ctx, second, afternoon); err != nil {
			t.Fatalf("second upsert: %v", err)
		}

		byLender := historyByLender(t, repo, epoch)
		for _, rec := range first {
			rows := byLender[rec.LenderID]
			if len(rows) != 1 {
				t.Fatalf("%s: got %d history rows, want 1", rec.LenderID, len(rows))
			}
			if rows[0].Rate30yr != rec.Rate30yr || rows[0].APR30yr != rec.APR30yr {
				t.Errorf("%s: history holds %v/%v, want first call's %v/%v",
					rec.LenderID, rows[0].Rate30yr, rows[0].APR30yr, rec.Rate30yr, rec.APR30yr)
			}
			if !rows[0].RecordedAt.Equal(morning) {
				t.Errorf("%s: recorded_at %v, want %v", rec.LenderID, rows[0].RecordedAt, morning)
			}
		}

		latest, err := repo.LatestRates(ctx)
		if err != nil {
			t.Fatalf("LatestRates: %v", err)
		}
		want := map[string]models.LenderRate{}
		for _, rec := range second {
			want[rec.LenderID] = rec
		}
		if len(latest) != len(second) {
			t.Fatalf("latest: got %d rows, want %d", len(latest), len(second))
		}
		for _, got := range latest {
			w := want[got.LenderID]
			if got.Rate30yr != w.Rate30yr || got.Rate15yr != w.Rate15yr || got.RateARM51 != w.RateARM51 {
				t.Errorf("%s: latest %+v, want second call's %+v", got.LenderID, got, w)
			}
			if !got.UpdatedAt.Equal(afternoon) {
				t.Errorf("%s: updated_at %v, want %v", got.LenderID, got.UpdatedAt, afternoon)
			}
		}
	})

	t.Run("different days append one row each newest first", func(t *testing.T) {
		repo := newRepo(t, time.UTC)
		day1 := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
		day2 := day1.Add(24 * time.Hour)
		older := buildRecords(6.74, 6.05, 5.98)
		newer := buildRecords(6.71, 6.02, 5.96)

		if err := repo.UpsertRates(ctx, older, day1); err != nil {
			t.Fatal(err)
		}
		if err := repo.UpsertRates(ctx, newer, day2); err != nil {
			t.Fatal(err)
		}

		for i, rec := range newer {
			rows, err := repo.LenderHistory(ctx, rec.LenderID, 90)
			if err != nil {
				t.Fatalf("LenderHistory: %v", err)
			}
			if len(rows) != 2 {
				t.Fatalf("%s: got %d rows, want 2", rec.LenderID, len(rows))
			}
			if !rows[0].RecordedAt.Equal(day2) || !rows[1].RecordedAt.Equal(day1) {
				t.Errorf("%s: not newest first: %v, %v", rec.LenderID, rows[0].RecordedAt, rows[1].RecordedAt)
			}
			if rows[0].Rate30yr != rec.Rate30yr || rows[1].Rate30yr != older[i].Rate30yr {
				t.Errorf("%s: rates out of order", rec.LenderID)
			}
		}
	})

	t.Run("calendar day follows the configured timezone", func(t *testing.T) {
		ny := mustLoad(t, "America/New_York")
		repo := newRepo(t, ny)
		recs := buildRecords(6.74, 6.05, 5.98)

		// 23:30 and 01:00 New York time: same UTC date, different local days
		lateEvening := time.Date(2026, 10, 18, 3, 30, 0, 0, time.UTC)
		earlyMorning := time.Date(2026, 10, 18, 5, 0, 0, 0, time.UTC)
		// 09:00 and 22:00 New York time: different UTC dates, same local day
		morning := time.Date(2026, 10, 18, 13, 0, 0, 0, time.UTC)
		night := time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC)

		for _, at := range []time.Time{lateEvening, earlyMorning, morning, night} {
			if err := repo.UpsertRates(ctx, recs, at); err != nil {
				t.Fatal(err)
			}
		}

		stats, err := repo.HistoryStats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if stats.DaysCovered != 2 {
			t.Errorf("DaysCovered: got %d, want 2", stats.DaysCovered)
		}
		if stats.TotalRows != 2*len(recs) {
			t.Errorf("TotalRows: got %d, want %d", stats.TotalRows, 2*len(recs))
		}
	})

	t.Run("round trip returns built records sorted by 30yr rate", func(t *testing.T) {
		repo := newRepo(t, time.UTC)
		at := time.Date(2026, 10, 16, 12, 30, 0, 0, time.UTC)
		built := buildRecords(6.74, 6.05, 5.98)
		if err := repo.UpsertRates(ctx, built, at); err != nil {
			t.Fatal(err)
		}

		want := make([]models.LenderRate, len(built))
		copy(want, built)
		sort.SliceStable(want, func(i, j int) bool {
			if want[i].Rate30yr != want[j].Rate30yr {
				return want[i].Rate30yr < want[j].Rate30yr
			}
			return want[i].LenderID < want[j].LenderID
		})

		got, err := repo.LatestRates(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(want) {
			t.Fatalf("got %d rows, want %d", len(got), len(want))
		}
		for i := range want {
			g, w := got[i], want[i]
			if !g.UpdatedAt.Equal(at) {
				t.Errorf("%s updated_at: got %v, want %v", g.LenderID, g.UpdatedAt, at)
			}
			g.UpdatedAt, w.UpdatedAt = time.Time{}, time.Time{}
			if g != w {
				t.Errorf("position %d: got %+v, want %+v", i, g, w)
			}
		}
	})

	t.Run("all history is windowed joined and ordered", func(t *testing.T) {
		repo := newRepo(t, time.UTC)
		old := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
		recent := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
		if err := repo.UpsertRates(ctx, buildRecords(6.80, 6.10, 6.00), old); err != nil {
			t.Fatal(err)
		}
		if err := repo.UpsertRates(ctx, buildRecords(6.74, 6.05, 5.98), recent); err != nil {
			t.Fatal(err)
		}

		rows, err := repo.AllHistory(ctx, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
		if err != nil {
			t.Fatal(err)
		}
		n := lenders.DefaultTable().Len()
		if len(rows) != n {
			t.Fatalf("got %d rows, want %d inside the window", len(rows), n)
		}
		for i, row := range rows {
			if row.LenderName == "" {
				t.Errorf("%s: lender_name not joined", row.LenderID)
			}
			if i > 0 && rows[i-1].LenderID > row.LenderID {
				t.Errorf("same timestamp rows not ordered by lender id: %s before %s", rows[i-1].LenderID, row.LenderID)
			}
		}

		everything, err := repo.AllHistory(ctx, old.Add(-time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if len(everything) != 2*n {
			t.Fatalf("got %d rows, want %d", len(everything), 2*n)
		}
		if !everything[0].RecordedAt.Equal(recent) || !everything[len(everything)-1].RecordedAt.Equal(old) {
			t.Error("history not ordered newest first")
		}
	})

	t.Run("stats on empty and populated history", func(t *testing.T) {
		repo := newRepo(t, time.UTC)
		stats, err := repo.HistoryStats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if stats.TotalRows != 0 || stats.LenderCount != 0 || stats.DaysCovered != 0 {
			t.Errorf("empty stats: %+v", stats)
		}
		if stats.Earliest != nil || stats.Latest != nil {
			t.Error("empty stats should have nil bounds")
		}

		day1 := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
		day2 := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
		recs := buildRecords(6.74, 6.05, 5.98)
		repo.UpsertRates(ctx, recs, day1)
		repo.UpsertRates(ctx, recs, day2)

		stats, err = repo.HistoryStats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if stats.TotalRows != 2*len(recs) || stats.LenderCount != len(recs) || stats.DaysCovered != 2 {
			t.Errorf("stats: %+v", stats)
		}
		if stats.Earliest == nil || !stats.Earliest.Equal(day1) {
			t.Errorf("Earliest: %v, want %v", stats.Earliest, day1)
		}
		if stats.Latest == nil || !stats.Latest.Equal(day2) {
			t.Errorf("Latest: %v, want %v", stats.Latest, day2)
		}
	})

	t.Run("lender lookups and history limit", func(t *testing.T) {
		repo := newRepo(t, time.UTC)
		start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			if err := repo.UpsertRates(ctx, buildRecords(6.74, 6.05, 5.98), start.AddDate(0, 0, i)); err != nil {
				t.Fatal(err)
			}
		}

		exists, err := repo.LenderExists(ctx, "rocket")
		if err != nil || !exists {
			t.Errorf("rocket should exist: %v %v", exists, err)
		}
		exists, err = repo.LenderExists(ctx, "nobody")
		if err != nil || exists {
			t.Errorf("nobody should not exist: %v %v", exists, err)
		}

		rows, err := repo.LenderHistory(ctx, "rocket", 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 3 {
			t.Fatalf("limit: got %d rows, want 3", len(rows))
		}
		if !rows[0].RecordedAt.Equal(start.AddDate(0, 0, 4)) {
			t.Errorf("first row should be the newest, got %v", rows[0].RecordedAt)
		}

		none, err := repo.LenderHistory(ctx, "nobody", 90)
		if err != nil {
			t.Fatal(err)
		}
		if none == nil || len(none) != 0 {
			t.Errorf("unknown lender history should be an empty slice, got %v", none)
		}
	})

	t.Run("failed batch rolls back entirely", func(t *testing.T) {
		repo := newRepo(t, time.UTC)
		day1 := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
		good := buildRecords(6.74, 6.05, 5.98)
		if err := repo.UpsertRates(ctx, good, day1); err != nil {
			t.Fatal(err)
		}

		bad := buildRecords(6.90, 6.20, 6.10)
		bad[len(bad)-1].Rate30yr = 500 // rejected by the rate check constraint
		if err := repo.UpsertRates(ctx, bad, day1.Add(24*time.Hour)); err == nil {
			t.Fatal("expected the invalid batch to fail")
		}

		latest, err := repo.LatestRates(ctx)
		if err != nil {
			t.Fatal(err)
		}
		for _, row := range latest {
			if !row.UpdatedAt.Equal(day1) {
				t.Errorf("%s: snapshot from failed batch leaked: %v", row.LenderID, row.UpdatedAt)
			}
		}
		stats, _ := repo.HistoryStats(ctx)
		if stats.TotalRows != len(good) || stats.DaysCovered != 1 {
			t.Errorf("history from failed batch leaked: %+v", stats)
		}
	})

	t.Run("concurrent same day batches keep one history row per lender", func(t *testing.T) {
		repo := newRepo(t, time.UTC)
		base := time.Date(2026, 10, 18, 12, 30, 0, 0, time.UTC)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				recs := buildRecords(6.70+float64(i)/100, 6.05, 5.98)
				errs <- repo.UpsertRates(ctx, recs, base.Add(time.Duration(i)*time.Second))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent upsert: %v", err)
			}
		}

		for id, rows := range historyByLender(t, repo, epoch) {
			if len(rows) != 1 {
				t.Errorf("%s: got %d history rows for one day, want 1", id, len(rows))
			}
		}
	})
}
