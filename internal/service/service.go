package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/lender-rates/internal/lenders"
	"github.com/Dan9191/lender-rates/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Day-window bounds for the read API
const (
	MaxHistoryDays = 365
	MaxExportDays  = 3650
)

var (
	// ErrLenderNotFound is returned for history lookups of a lender nobody has heard of
	ErrLenderNotFound = errors.New("lender not found")
	// ErrInvalidDays is returned when a days parameter is outside its allowed range
	ErrInvalidDays = errors.New("invalid days parameter")
)

// Store is the persistence capability the service needs
type Store interface {
	UpsertRates(ctx context.Context, records []models.LenderRate, at time.Time) error
	LatestRates(ctx context.Context) ([]models.LenderRate, error)
	LenderExists(ctx context.Context, lenderID string) (bool, error)
	LenderHistory(ctx context.Context, lenderID string, limit int) ([]models.HistoryEntry, error)
	AllHistory(ctx context.Context, since time.Time) ([]models.HistoryEntry, error)
	HistoryStats(ctx context.Context) (models.HistoryStats, error)
}

// RateResolver produces the base rates for a run and never fails
type RateResolver interface {
	Resolve(ctx context.Context) models.BaseRateSet
}

// Service handles the rate pipeline and the read-side business rules
type Service struct {
	store    Store
	resolver RateResolver
	table    *lenders.Table
	log      *logrus.Logger
	now      func() time.Time
}

// NewService initializes a new service
func NewService(store Store, resolver RateResolver, table *lenders.Table, log *logrus.Logger) *Service {
	return &Service{store: store, resolver: resolver, table: table, log: log, now: time.Now}
}

// RefreshRates runs the pipeline once: resolve base rates, build per-lender
// records, persist snapshot and daily history. Scheduled and manual triggers
// both call this; the store keeps concurrent runs consistent.
func (s *Service) RefreshRates(ctx context.Context) (*models.RefreshResult, error) {
	runID := uuid.NewString()
	log := s.log.WithField("run_id", runID)
	at := s.now().Truncate(time.Microsecond)
	log.WithField("at", at.UTC().Format(time.RFC3339)).Info("Rate refresh starting")

	base := s.resolver.Resolve(ctx)
	records := s.table.Build(base)
	for i := range records {
		records[i].UpdatedAt = at
	}

	if err := s.store.UpsertRates(ctx, records, at); err != nil {
		log.WithError(err).Error("Rate refresh failed")
		return nil, fmt.Errorf("failed to persist rates: %w", err)
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.LenderID)
	}

	log.WithFields(logrus.Fields{
		"lenders": len(records),
		"source":  base.Source,
	}).Info("Rate refresh complete")

	return &models.RefreshResult{
		RunID:     runID,
		Base:      base,
		Lenders:   ids,
		UpdatedAt: at,
	}, nil
}

// LatestRates returns the current snapshot, cheapest 30yr first
func (s *Service) LatestRates(ctx context.Context) ([]models.LenderRate, error) {
	return s.store.LatestRates(ctx)
}

// LastRefresh returns the newest snapshot timestamp, or the zero time before the first run
func (s *Service) LastRefresh(ctx context.Context) (time.Time, error) {
	rates, err := s.store.LatestRates(ctx)
	if err != nil {
		return time.Time{}, err
	}
	var last time.Time
	for _, r := range rates {
		if r.UpdatedAt.After(last) {
			last = r.UpdatedAt
		}
	}
	return last, nil
}

// LenderHistory returns the most recent days entries for a lender, newest first.
// A known lender without history yields an empty slice, an unknown one ErrLenderNotFound.
func (s *Service) LenderHistory(ctx context.Context, lenderID string, days int) ([]models.HistoryEntry, error) {
	if err := validateDays(days, MaxHistoryDays); err != nil {
		return nil, err
	}

	if _, ok := s.table.Lookup(lenderID); !ok {
		exists, err := s.store.LenderExists(ctx, lenderID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrLenderNotFound, lenderID)
		}
	}

	return s.store.LenderHistory(ctx, lenderID, days)
}

// History returns all lenders' history for the trailing window of days
func (s *Service) History(ctx context.Context, days int) ([]models.HistoryEntry, error) {
	if err := validateDays(days, MaxHistoryDays); err != nil {
		return nil, err
	}
	return s.store.AllHistory(ctx, s.since(days))
}

// ExportHistory is History with the wider window allowed for CSV export
func (s *Service) ExportHistory(ctx context.Context, days int) ([]models.HistoryEntry, error) {
	if err := validateDays(days, MaxExportDays); err != nil {
		return nil, err
	}
	return s.store.AllHistory(ctx, s.since(days))
}

// Stats returns the aggregate history statistics
func (s *Service) Stats(ctx context.Context) (models.HistoryStats, error) {
	return s.store.HistoryStats(ctx)
}

func (s *Service) since(days int) time.Time {
	return s.now().Add(-time.Duration(days) * 24 * time.Hour)
}

func validateDays(days, max int) error {
	if days < 1 || days > max {
		return fmt.Errorf("%w: days must be between 1 and %d, got %d", ErrInvalidDays, max, days)
	}
	return nil
}
