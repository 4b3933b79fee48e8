package strategy

import (
	"time"

	"github.com/eddiefleurent/putspread_sentinel/internal/util"
)

// FilterExpirations keeps the dates whose calendar day distance from today
// lies within [minDTE, maxDTE]. Unparsable dates are skipped and input order
// is preserved.
func FilterExpirations(dates []string, today time.Time, minDTE, maxDTE int) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		exp, err := util.ParseDate(d)
		if err != nil {
			continue
		}
		dte := util.DaysUntil(today, exp)
		if dte >= minDTE && dte <= maxDTE {
			out = append(out, d)
		}
	}
	return out
}
