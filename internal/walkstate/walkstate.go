package walkstate

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/Dan9191/lender-rates/internal/models"
	"github.com/sirupsen/logrus"
)

// Bootstrap is the walk state used when no usable state file exists
var Bootstrap = models.BaseRateSet{Rate30yr: 6.74, Rate15yr: 6.05, RateARM51: 5.98}

type state struct {
	Rate30yr float64 `json:"rate_30yr"`
	Rate15yr float64 `json:"rate_15yr"`
	RateARM  float64 `json:"rate_arm"`
}

// Store keeps the last resolved base rates in a small JSON file so the
// simulated walk resumes where it left off across restarts.
type Store struct {
	path string
	log  *logrus.Logger
}

// NewStore creates a walk state store backed by the file at path
func NewStore(path string, log *logrus.Logger) *Store {
	return &Store{path: path, log: log}
}

// Load returns the persisted base rates, or Bootstrap when the file is
// missing, unreadable or holds unusable values.
func (s *Store) Load() models.BaseRateSet {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).WithField("path", s.path).Warn("Failed to read walk state, using bootstrap rates")
		}
		return Bootstrap
	}

	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		s.log.WithError(err).WithField("path", s.path).Warn("Corrupt walk state, using bootstrap rates")
		return Bootstrap
	}
	if !usable(st.Rate30yr) || !usable(st.Rate15yr) || !usable(st.RateARM) {
		s.log.WithField("path", s.path).Warn("Walk state holds invalid rates, using bootstrap rates")
		return Bootstrap
	}

	return models.BaseRateSet{Rate30yr: st.Rate30yr, Rate15yr: st.Rate15yr, RateARM51: st.RateARM}
}

// Save atomically replaces the state file with the given rates
func (s *Store) Save(rates models.BaseRateSet) error {
	raw, err := json.MarshalIndent(state{
		Rate30yr: rates.Rate30yr,
		Rate15yr: rates.Rate15yr,
		RateARM:  rates.RateARM51,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode walk state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create walk state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".walkstate-*")
	if err != nil {
		return fmt.Errorf("failed to create temp walk state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write walk state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close walk state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace walk state: %w", err)
	}
	return nil
}

func usable(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
