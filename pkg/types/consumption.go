package types

import "time"

// HalfHour is the resolution of smart meter readings.
const HalfHour = 30 * time.Minute

// Consumption is a single half-hourly meter reading.
type Consumption struct {
	Consumption   float64   `json:"consumption"`
	IntervalStart time.Time `json:"intervalStart"`
	IntervalEnd   time.Time `json:"intervalEnd"`
}

// Rate is a unit rate or standing charge valid for a period. Values are in
// pence including VAT.
type Rate struct {
	ValueIncVAT float64   `json:"valueIncVAT"`
	ValidFrom   time.Time `json:"validFrom"`
	// ValidTo is zero when the rate has no end.
	ValidTo time.Time `json:"validTo"`
}

// Covers reports whether t falls inside the rate's validity.
func (r Rate) Covers(t time.Time) bool {
	if !r.ValidFrom.IsZero() && t.Before(r.ValidFrom) {
		return false
	}
	if !r.ValidTo.IsZero() && !t.Before(r.ValidTo) {
		return false
	}
	return true
}

// StandingCharge is the daily fixed charge of a tariff, in pence including VAT.
type StandingCharge = Rate
