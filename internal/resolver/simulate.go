package resolver

import (
	"github.com/Dan9191/lender-rates/internal/models"
	"github.com/Dan9191/lender-rates/internal/utils"
)

// Walk parameters: the 30yr rate moves by N(0, StdDev) per step and the
// other products follow the same draw scaled by their correlation.
const (
	StdDev   = 0.03
	Corr15yr = 0.90
	CorrARM  = 0.75
	Min30yr  = 5.50
	Max30yr  = 8.50
	Min15yr  = 5.00
	Max15yr  = 8.00
	MinARM   = 4.75
	MaxARM   = 7.50
)

// Simulate takes one random-walk step from prev using z, a standard normal draw.
// Each rate is rounded to 2dp and clamped to its realistic band.
func Simulate(prev models.BaseRateSet, z float64) models.BaseRateSet {
	delta := z * StdDev
	return models.BaseRateSet{
		Rate30yr:  utils.Clamp(utils.AddRound2(prev.Rate30yr, delta), Min30yr, Max30yr),
		Rate15yr:  utils.Clamp(utils.AddRound2(prev.Rate15yr, delta*Corr15yr), Min15yr, Max15yr),
		RateARM51: utils.Clamp(utils.AddRound2(prev.RateARM51, delta*CorrARM), MinARM, MaxARM),
		Source:    models.SourceSimulated,
	}
}
