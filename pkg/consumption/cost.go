package consumption

import (
	"fmt"
	"math"
	"time"

	"github.com/raterudder/octobridge/pkg/types"
)

// Charge is the cost of a single half hour.
type Charge struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Consumption float64   `json:"consumption"`
	// Rate is in GBP per unit.
	Rate float64 `json:"rate"`
	// Cost is in GBP.
	Cost float64 `json:"cost"`
}

// Cost is the cost of a consumption series. Money values are in GBP.
type Cost struct {
	StandingCharge             float64   `json:"standingCharge"`
	TotalWithoutStandingCharge float64   `json:"totalWithoutStandingCharge"`
	Total                      float64   `json:"total"`
	TotalConsumption           float64   `json:"totalConsumption"`
	LastCalculated             time.Time `json:"lastCalculated"`
	Charges                    []Charge  `json:"charges"`
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func findRate(rates []types.Rate, t time.Time) (types.Rate, bool) {
	for _, r := range rates {
		if r.Covers(t) {
			return r, true
		}
	}
	return types.Rate{}, false
}

// CalculateCost prices every reading between periodFrom and periodTo with the
// rate covering its start and adds the standing charge covering periodFrom.
// Rates and standing charges are in pence.
func CalculateCost(data []types.Consumption, rates []types.Rate, standingCharges []types.StandingCharge, periodFrom, periodTo time.Time) (Cost, error) {
	standing, ok := findRate(standingCharges, periodFrom)
	if !ok {
		return Cost{}, fmt.Errorf("no standing charge for %s", periodFrom.Format(time.RFC3339))
	}

	var totalPence, totalConsumption float64
	res := Cost{
		Charges: make([]Charge, 0, len(data)),
	}
	for _, c := range data {
		if c.IntervalStart.Before(periodFrom) || !c.IntervalStart.Before(periodTo) {
			continue
		}
		rate, ok := findRate(rates, c.IntervalStart)
		if !ok {
			return Cost{}, fmt.Errorf("no rate for %s", c.IntervalStart.Format(time.RFC3339))
		}
		costPence := c.Consumption * rate.ValueIncVAT
		totalPence += costPence
		totalConsumption += c.Consumption
		res.Charges = append(res.Charges, Charge{
			From:        c.IntervalStart,
			To:          c.IntervalEnd,
			Consumption: c.Consumption,
			Rate:        roundTo(rate.ValueIncVAT/100, 6),
			Cost:        roundTo(costPence/100, 2),
		})
	}
	if len(res.Charges) == 0 {
		return Cost{}, fmt.Errorf("no consumption between %s and %s", periodFrom.Format(time.RFC3339), periodTo.Format(time.RFC3339))
	}
	res.LastCalculated = res.Charges[len(res.Charges)-1].To

	res.StandingCharge = roundTo(standing.ValueIncVAT/100, 2)
	res.TotalWithoutStandingCharge = roundTo(totalPence/100, 2)
	res.Total = roundTo((totalPence+standing.ValueIncVAT)/100, 2)
	res.TotalConsumption = totalConsumption
	return res, nil
}

// GasToKWh converts a gas reading in cubic meters to kWh using the given
// calorific value in MJ/m³.
func GasToKWh(m3, calorificValue float64) float64 {
	return roundTo(m3*1.02264*calorificValue/3.6, 3)
}
