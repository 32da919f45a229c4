package lenders

import (
	"github.com/Dan9191/lender-rates/internal/models"
	"github.com/Dan9191/lender-rates/internal/utils"
)

// APRSpread is added to the 30yr rate to approximate APR including typical fees
const APRSpread = 0.24

// Build applies the table's spreads to the base rates, producing one record per
// lender in table order. UpdatedAt is left for the persistence layer to stamp.
func (t *Table) Build(base models.BaseRateSet) []models.LenderRate {
	out := make([]models.LenderRate, 0, len(t.spreads))
	for _, s := range t.spreads {
		r30 := utils.AddRound2(base.Rate30yr, s.Spread30)
		out = append(out, models.LenderRate{
			LenderID:   s.ID,
			LenderName: s.Name,
			Rate30yr:   r30,
			Rate15yr:   utils.AddRound2(base.Rate15yr, s.Spread15),
			RateARM51:  utils.AddRound2(base.RateARM51, s.SpreadARM),
			APR30yr:    utils.AddRound2(r30, APRSpread),
			MinCredit:  s.MinCredit,
			MinDownPct: s.MinDownPct,
		})
	}
	return out
}
