// Package models defines the market data and position types shared by the
// screener and the position monitor.
package models

import (
	"strconv"
	"time"
)

// OptionType represents the type of option contract
type OptionType string

const (
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "put"
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "call"
)

// Valid returns true if the OptionType is one of the defined constants
func (t OptionType) Valid() bool {
	switch t {
	case OptionTypePut, OptionTypeCall:
		return true
	default:
		return false
	}
}

// PriceBar is one daily close of the underlying.
type PriceBar struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// OptionContract is one normalized row of an option chain snapshot.
// Delta is nil when greeks were not requested or not supplied.
type OptionContract struct {
	Symbol         string     `json:"symbol"`
	Underlying     string     `json:"underlying"`
	ExpirationDate string     `json:"expiration_date"`
	OptionType     OptionType `json:"option_type"`
	Strike         float64    `json:"strike"`
	Bid            float64    `json:"bid"`
	Ask            float64    `json:"ask"`
	Delta          *float64   `json:"delta,omitempty"`
}

// ContractKey identifies a contract within one chain snapshot.
type ContractKey struct {
	Symbol         string
	ExpirationDate string
	OptionType     OptionType
	Strike         float64
}

// Key returns the uniqueness key of the contract.
func (c OptionContract) Key() ContractKey {
	return ContractKey{
		Symbol:         c.Symbol,
		ExpirationDate: c.ExpirationDate,
		OptionType:     c.OptionType,
		Strike:         c.Strike,
	}
}

// SpreadCandidate is a qualifying bull put spread: short the higher strike,
// long the strike Width below it, same expiration.
type SpreadCandidate struct {
	Symbol         string  `json:"symbol" csv:"symbol"`
	ExpirationDate string  `json:"expiration_date" csv:"expiration"`
	DTE            int     `json:"dte" csv:"dte"`
	ShortStrike    float64 `json:"short_strike" csv:"short_strike"`
	LongStrike     float64 `json:"long_strike" csv:"long_strike"`
	Width          float64 `json:"width" csv:"width"`
	Credit         float64 `json:"credit" csv:"credit"`
	ShortDelta     float64 `json:"short_delta" csv:"short_delta"`
	ShortSymbol    string  `json:"short_symbol" csv:"short_symbol"`
	LongSymbol     string  `json:"long_symbol" csv:"long_symbol"`
}

// MaxLoss is the per-share loss if the spread expires below the long strike.
func (c SpreadCandidate) MaxLoss() float64 {
	return c.Width - c.Credit
}

// FormatStrike prints a strike without trailing zeros: 450, 452.5.
func FormatStrike(strike float64) string {
	return strconv.FormatFloat(strike, 'f', -1, 64)
}
