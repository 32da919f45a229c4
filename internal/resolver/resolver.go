package resolver

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Dan9191/lender-rates/internal/integrations/fred"
	"github.com/Dan9191/lender-rates/internal/models"
	"github.com/sirupsen/logrus"
)

// SeriesFetcher returns the most recent numeric observation of a market series
type SeriesFetcher interface {
	LatestObservation(ctx context.Context, seriesID string) (float64, error)
}

// StateStore persists the last resolved base rates between runs
type StateStore interface {
	Load() models.BaseRateSet
	Save(rates models.BaseRateSet) error
}

// Resolver produces the base rates for a pipeline run. It prefers the external
// market series and falls back to a random walk over the persisted state.
type Resolver struct {
	fetcher SeriesFetcher
	state   StateStore
	timeout time.Duration
	normal  func() float64
	log     *logrus.Logger
}

// Option customizes a Resolver
type Option func(*Resolver)

// WithNormalSource replaces the standard normal draw used by the simulation
func WithNormalSource(f func() float64) Option {
	return func(r *Resolver) { r.normal = f }
}

// NewResolver creates a resolver. A nil fetcher disables the external source.
func NewResolver(fetcher SeriesFetcher, state StateStore, timeout time.Duration, log *logrus.Logger, opts ...Option) *Resolver {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var mu sync.Mutex
	r := &Resolver{
		fetcher: fetcher,
		state:   state,
		timeout: timeout,
		normal: func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return rng.NormFloat64()
		},
		log: log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the base rates for this run. It never fails: when the
// external source is unusable the simulated walk is used. The result is
// persisted as the next walk state whatever its source.
func (r *Resolver) Resolve(ctx context.Context) models.BaseRateSet {
	rates, err := r.fetchExternal(ctx)
	if err != nil {
		r.log.WithError(err).Warn("External rate source unavailable, falling back to simulation")
		rates = Simulate(r.state.Load(), r.normal())
	}

	r.log.WithFields(logrus.Fields{
		"source":    rates.Source,
		"rate_30yr": rates.Rate30yr,
		"rate_15yr": rates.Rate15yr,
		"rate_arm":  rates.RateARM51,
	}).Info("Resolved base rates")

	if err := r.state.Save(rates); err != nil {
		r.log.WithError(err).Error("Failed to persist walk state")
	}
	return rates
}

// fetchExternal fetches the three series concurrently, each under its own
// timeout. All three must produce a value or the attempt is discarded.
func (r *Resolver) fetchExternal(ctx context.Context) (models.BaseRateSet, error) {
	if r.fetcher == nil {
		return models.BaseRateSet{}, fmt.Errorf("no external source configured")
	}

	series := []string{fred.Series30yr, fred.Series15yr, fred.SeriesARM}
	values := make([]float64, len(series))
	errs := make([]error, len(series))

	var wg sync.WaitGroup
	for i, id := range series {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			values[i], errs[i] = r.fetcher.LatestObservation(callCtx, id)
		}(i, id)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return models.BaseRateSet{}, fmt.Errorf("failed to fetch %s: %w", series[i], err)
		}
		if v := values[i]; math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return models.BaseRateSet{}, fmt.Errorf("series %s returned unusable value %v", series[i], values[i])
		}
	}

	return models.BaseRateSet{
		Rate30yr:  values[0],
		Rate15yr:  values[1],
		RateARM51: values[2],
		Source:    models.SourceFRED,
	}, nil
}
