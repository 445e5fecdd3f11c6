package types

import (
	"fmt"
	"time"
)

// FuelType is the energy a meter measures.
type FuelType string

const (
	FuelElectricity FuelType = "electricity"
	FuelGas         FuelType = "gas"
)

// Title returns the capitalized fuel name used in entity names.
func (f FuelType) Title() string {
	switch f {
	case FuelElectricity:
		return "Electricity"
	case FuelGas:
		return "Gas"
	default:
		return string(f)
	}
}

// Unit returns the unit consumption is reported in for the fuel.
func (f FuelType) Unit() string {
	if f == FuelGas {
		return "m³"
	}
	return "kWh"
}

// Agreement is a period during which a tariff applied to a meter point.
type Agreement struct {
	TariffCode string    `json:"tariffCode"`
	ValidFrom  time.Time `json:"validFrom"`
	// ValidTo is zero for open-ended agreements.
	ValidTo time.Time `json:"validTo"`
}

// Covers reports whether t falls inside the agreement.
func (a Agreement) Covers(t time.Time) bool {
	if !a.ValidFrom.IsZero() && t.Before(a.ValidFrom) {
		return false
	}
	if !a.ValidTo.IsZero() && !t.Before(a.ValidTo) {
		return false
	}
	return true
}

// Meter is a single physical meter on an electricity or gas meter point.
type Meter struct {
	Fuel FuelType `json:"fuel"`
	// PointID is the MPAN for electricity and MPRN for gas.
	PointID      string      `json:"pointID"`
	SerialNumber string      `json:"serialNumber"`
	IsExport     bool        `json:"isExport"`
	Agreements   []Agreement `json:"agreements"`
}

// IsElectricity is a shortcut for checking the fuel type.
func (m Meter) IsElectricity() bool {
	return m.Fuel == FuelElectricity
}

// ID returns a stable identifier for the meter, used for logging and keys.
func (m Meter) ID() string {
	return fmt.Sprintf("%s_%s_%s", m.Fuel, m.SerialNumber, m.PointID)
}

// ActiveAgreement returns the agreement covering t. The second return value
// is false if no agreement covers t.
func (m Meter) ActiveAgreement(t time.Time) (Agreement, bool) {
	for _, a := range m.Agreements {
		if a.Covers(t) {
			return a, true
		}
	}
	return Agreement{}, false
}

// ActiveTariff returns the tariff code covering t or an empty string.
func (m Meter) ActiveTariff(t time.Time) string {
	a, ok := m.ActiveAgreement(t)
	if !ok {
		return ""
	}
	return a.TariffCode
}

// Account is a supplier account and its meters.
type Account struct {
	ID     string  `json:"id"`
	Meters []Meter `json:"meters"`
}
