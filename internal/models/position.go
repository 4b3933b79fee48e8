package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/eddiefleurent/putspread_sentinel/internal/util"
)

// OpenPosition is a credit spread entered outside this program and recorded in
// the positions file. The monitor only ever reads these records.
type OpenPosition struct {
	Symbol      string     `json:"symbol"`
	Expiration  string     `json:"expiration"`
	OptionType  OptionType `json:"option_type"`
	ShortStrike float64    `json:"short_strike"`
	LongStrike  float64    `json:"long_strike"`
	EntryPrice  float64    `json:"entry_price"`
	Active      bool       `json:"active"`
}

// openPositionJSON mirrors OpenPosition with optional fields so that records
// written by older tooling (no option_type, Spanish "activo" flag) still load.
type openPositionJSON struct {
	Symbol      string     `json:"symbol"`
	Expiration  string     `json:"expiration"`
	OptionType  OptionType `json:"option_type"`
	ShortStrike float64    `json:"short_strike"`
	LongStrike  float64    `json:"long_strike"`
	EntryPrice  float64    `json:"entry_price"`
	Active      *bool      `json:"active"`
	Activo      *bool      `json:"activo"`
}

// UnmarshalJSON applies the file defaults: option_type defaults to put and a
// record without an active flag is active.
func (p *OpenPosition) UnmarshalJSON(b []byte) error {
	var raw openPositionJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = OpenPosition{
		Symbol:      strings.ToUpper(strings.TrimSpace(raw.Symbol)),
		Expiration:  strings.TrimSpace(raw.Expiration),
		OptionType:  raw.OptionType,
		ShortStrike: raw.ShortStrike,
		LongStrike:  raw.LongStrike,
		EntryPrice:  raw.EntryPrice,
		Active:      true,
	}
	if p.OptionType == "" {
		p.OptionType = OptionTypePut
	}
	switch {
	case raw.Active != nil:
		p.Active = *raw.Active
	case raw.Activo != nil:
		p.Active = *raw.Activo
	}
	return nil
}

// Validate reports records the monitor cannot price.
func (p OpenPosition) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if _, err := util.ParseDate(p.Expiration); err != nil {
		return fmt.Errorf("invalid expiration %q: %w", p.Expiration, err)
	}
	if !p.OptionType.Valid() {
		return fmt.Errorf("invalid option_type %q", p.OptionType)
	}
	if p.ShortStrike <= 0 || p.LongStrike <= 0 {
		return fmt.Errorf("strikes must be positive (short=%.2f long=%.2f)", p.ShortStrike, p.LongStrike)
	}
	return nil
}

// ExpirationDate parses the expiration field.
func (p OpenPosition) ExpirationDate() (time.Time, error) {
	return util.ParseDate(p.Expiration)
}

// Label is the short human form used in logs, e.g. "SPY 450/445 2024-01-19".
func (p OpenPosition) Label() string {
	return fmt.Sprintf("%s %s/%s %s", p.Symbol, FormatStrike(p.ShortStrike), FormatStrike(p.LongStrike), p.Expiration)
}

// AlertKind classifies the exit signal raised for a position.
type AlertKind string

const (
	// AlertNone means no rule matched
	AlertNone AlertKind = ""
	// AlertDeltaDrift means the short leg delta drifted into the warning band
	AlertDeltaDrift AlertKind = "delta_drift"
	// AlertProfit means the profit target was reached
	AlertProfit AlertKind = "profit"
	// AlertLoss means the loss limit was reached
	AlertLoss AlertKind = "loss"
)

// String returns a printable name, "none" for AlertNone.
func (k AlertKind) String() string {
	if k == AlertNone {
		return "none"
	}
	return string(k)
}

// PositionEvaluation is the mark-to-market state of one position for one run.
// It is recomputed on every monitor run and never persisted to the position file.
type PositionEvaluation struct {
	Position     OpenPosition `json:"position"`
	ShortMid     float64      `json:"short_mid"`
	LongMid      float64      `json:"long_mid"`
	CurrentValue float64      `json:"current_value"`
	PnLPercent   float64      `json:"pnl_percent"`
	CurrentDelta *float64     `json:"current_delta,omitempty"`
	DTE          int          `json:"dte"`
	Alert        AlertKind    `json:"alert,omitempty"`
}
