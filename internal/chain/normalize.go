// Package chain turns raw provider option records into the normalized
// contract table the spread builder and the monitor work on.
package chain

import (
	"strings"

	"github.com/eddiefleurent/putspread_sentinel/internal/broker"
	"github.com/eddiefleurent/putspread_sentinel/internal/models"
)

// Normalize converts provider records into contracts. Records with an unknown
// option type, no expiration, a non-positive strike, or a null bid or ask are
// dropped, as are records without a delta when withGreeks is set. Duplicate
// keys keep the first record. The input order is preserved.
func Normalize(options []broker.Option, withGreeks bool) []models.OptionContract {
	out := make([]models.OptionContract, 0, len(options))
	seen := make(map[models.ContractKey]struct{}, len(options))

	for i := range options {
		o := &options[i]

		typ := models.OptionType(strings.ToLower(strings.TrimSpace(o.OptionType)))
		if !typ.Valid() || o.ExpirationDate == "" || o.Strike <= 0 {
			continue
		}
		if o.Bid == nil || o.Ask == nil {
			continue
		}

		var delta *float64
		if o.Greeks != nil && o.Greeks.Delta != nil {
			d := *o.Greeks.Delta
			delta = &d
		}
		if withGreeks && delta == nil {
			continue
		}

		c := models.OptionContract{
			Symbol:         o.Symbol,
			Underlying:     o.Underlying,
			ExpirationDate: o.ExpirationDate,
			OptionType:     typ,
			Strike:         o.Strike,
			Bid:            *o.Bid,
			Ask:            *o.Ask,
			Delta:          delta,
		}
		key := c.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Filter returns the contracts of one expiration and option type.
func Filter(contracts []models.OptionContract, expiration string, typ models.OptionType) []models.OptionContract {
	var out []models.OptionContract
	for _, c := range contracts {
		if c.ExpirationDate == expiration && c.OptionType == typ {
			out = append(out, c)
		}
	}
	return out
}

// FindByStrike returns the first contract within broker.StrikeMatchEpsilon of
// strike with the given type and expiration.
func FindByStrike(contracts []models.OptionContract, expiration string, typ models.OptionType, strike float64) (models.OptionContract, bool) {
	for _, c := range contracts {
		if c.ExpirationDate != expiration || c.OptionType != typ {
			continue
		}
		if d := c.Strike - strike; d <= broker.StrikeMatchEpsilon && d >= -broker.StrikeMatchEpsilon {
			return c, true
		}
	}
	return models.OptionContract{}, false
}
