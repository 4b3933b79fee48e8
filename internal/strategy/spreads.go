package strategy

import (
	"math"
	"sort"
	"time"

	"github.com/eddiefleurent/putspread_sentinel/internal/chain"
	"github.com/eddiefleurent/putspread_sentinel/internal/models"
	"github.com/eddiefleurent/putspread_sentinel/internal/util"
)

// ShortLegQualifies reports whether delta lies strictly inside the band,
// comparing magnitudes so the band may be given with either sign.
func (p SpreadParams) ShortLegQualifies(delta *float64) bool {
	if delta == nil {
		return false
	}
	lo, hi := math.Abs(p.DeltaMin), math.Abs(p.DeltaMax)
	if lo > hi {
		lo, hi = hi, lo
	}
	d := math.Abs(*delta)
	return d > lo && d < hi
}

// BuildSpreads pairs every qualifying short leg of one expiration with the
// long leg exactly Width below it. A pair is kept when the rounded credit
// (short bid minus long ask) reaches MinCredit. Output follows input order.
func BuildSpreads(contracts []models.OptionContract, expiration string, today time.Time, p SpreadParams) []models.SpreadCandidate {
	exp, err := util.ParseDate(expiration)
	if err != nil {
		return nil
	}
	dte := util.DaysUntil(today, exp)

	legs := chain.Filter(contracts, expiration, p.OptionType)
	var out []models.SpreadCandidate
	for _, short := range legs {
		if !p.ShortLegQualifies(short.Delta) {
			continue
		}
		long, ok := chain.FindByStrike(legs, expiration, p.OptionType, short.Strike-p.Width)
		if !ok {
			continue
		}
		credit := util.Round2(short.Bid - long.Ask)
		if credit < p.MinCredit {
			continue
		}
		out = append(out, models.SpreadCandidate{
			Symbol:         short.Underlying,
			ExpirationDate: expiration,
			DTE:            dte,
			ShortStrike:    short.Strike,
			LongStrike:     short.Strike - p.Width,
			Width:          p.Width,
			Credit:         credit,
			ShortDelta:     *short.Delta,
			ShortSymbol:    short.Symbol,
			LongSymbol:     long.Symbol,
		})
	}
	return out
}

// RankCandidates returns a copy sorted by credit descending. Ties keep their
// input order.
func RankCandidates(candidates []models.SpreadCandidate) []models.SpreadCandidate {
	ranked := make([]models.SpreadCandidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Credit > ranked[j].Credit
	})
	return ranked
}
