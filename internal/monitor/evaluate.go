package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/putspread_sentinel/internal/chain"
	"github.com/eddiefleurent/putspread_sentinel/internal/models"
	"github.com/eddiefleurent/putspread_sentinel/internal/util"
)

// Evaluation failures. A position that hits one of these is skipped.
var (
	ErrLegNotFound  = errors.New("leg not found in chain")
	ErrNoMidpoint   = errors.New("no two-sided quote")
	ErrInvalidEntry = errors.New("entry price must be positive")
)

// Evaluate prices pos against the normalized chain of its expiration. The
// returned evaluation has no alert set; see Policy.Classify.
func Evaluate(pos models.OpenPosition, contracts []models.OptionContract, today time.Time) (models.PositionEvaluation, error) {
	if pos.EntryPrice <= 0 {
		return models.PositionEvaluation{}, fmt.Errorf("%w (got %.2f)", ErrInvalidEntry, pos.EntryPrice)
	}

	short, ok := chain.FindByStrike(contracts, pos.Expiration, pos.OptionType, pos.ShortStrike)
	if !ok {
		return models.PositionEvaluation{}, fmt.Errorf("short %s: %w", models.FormatStrike(pos.ShortStrike), ErrLegNotFound)
	}
	long, ok := chain.FindByStrike(contracts, pos.Expiration, pos.OptionType, pos.LongStrike)
	if !ok {
		return models.PositionEvaluation{}, fmt.Errorf("long %s: %w", models.FormatStrike(pos.LongStrike), ErrLegNotFound)
	}

	shortMid, ok := util.Midpoint(short.Bid, short.Ask)
	if !ok {
		return models.PositionEvaluation{}, fmt.Errorf("short %s: %w", models.FormatStrike(pos.ShortStrike), ErrNoMidpoint)
	}
	longMid, ok := util.Midpoint(long.Bid, long.Ask)
	if !ok {
		return models.PositionEvaluation{}, fmt.Errorf("long %s: %w", models.FormatStrike(pos.LongStrike), ErrNoMidpoint)
	}

	exp, err := pos.ExpirationDate()
	if err != nil {
		return models.PositionEvaluation{}, err
	}

	current := util.Round2(shortMid - longMid)
	e := models.PositionEvaluation{
		Position:     pos,
		ShortMid:     shortMid,
		LongMid:      longMid,
		CurrentValue: current,
		PnLPercent:   util.Round2((pos.EntryPrice - current) / pos.EntryPrice * 100),
		DTE:          util.DaysUntil(today, exp),
	}
	if short.Delta != nil {
		d := *short.Delta
		e.CurrentDelta = &d
	}
	return e, nil
}
