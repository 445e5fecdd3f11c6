package sensors

import (
	"time"

	"github.com/raterudder/octobridge/pkg/consumption"
	"github.com/raterudder/octobridge/pkg/entity"
	"github.com/raterudder/octobridge/pkg/types"
)

// PreviousAccumulativeConsumption is the total consumption of a meter over
// the previous day.
type PreviousAccumulativeConsumption struct {
	*entity.Base
	meter types.Meter
}

// NewPreviousAccumulativeConsumption creates the previous day consumption
// sensor of a meter.
func NewPreviousAccumulativeConsumption(meter types.Meter) *PreviousAccumulativeConsumption {
	icon := "mdi:lightning-bolt"
	deviceClass := "energy"
	if meter.Fuel == types.FuelGas {
		icon = "mdi:fire"
		deviceClass = "gas"
	}
	return &PreviousAccumulativeConsumption{
		Base: entity.NewBase(
			entity.PlatformSensor,
			meterUniqueID(meter, "previous_accumulative_consumption"),
			meterName("Previous Accumulative Consumption", meter),
			icon,
			true,
			entity.Metadata{Unit: meter.Fuel.Unit(), DeviceClass: deviceClass, StateClass: "total"},
		),
		meter: meter,
	}
}

// Update sets the state from the previous day's series. An empty series
// leaves the state unknown. For gas, calorificValue is used to also expose
// the total in kWh.
func (p *PreviousAccumulativeConsumption) Update(data []types.Consumption, calorificValue float64, now time.Time) {
	if len(data) == 0 {
		p.SetState(types.StateUnknown, map[string]any{
			"mpan_mprn":     p.meter.PointID,
			"serial_number": p.meter.SerialNumber,
		}, now)
		return
	}

	total := roundTo(consumption.Total(data), 3)
	charges := make([]map[string]any, 0, len(data))
	for _, c := range data {
		charges = append(charges, map[string]any{
			"from":        c.IntervalStart,
			"to":          c.IntervalEnd,
			"consumption": c.Consumption,
		})
	}
	attrs := map[string]any{
		"mpan_mprn":                 p.meter.PointID,
		"serial_number":             p.meter.SerialNumber,
		"is_export":                 p.meter.IsExport,
		"total":                     total,
		"last_calculated_timestamp": data[len(data)-1].IntervalEnd,
		"charges":                   charges,
	}
	if p.meter.Fuel == types.FuelGas {
		attrs["total_kwh"] = consumption.GasToKWh(total, calorificValue)
	}
	p.SetState(formatFloat(total), attrs, now)
}

func costAttributes(meter types.Meter, tariffCode string, cost consumption.Cost) map[string]any {
	charges := make([]map[string]any, 0, len(cost.Charges))
	for _, c := range cost.Charges {
		charges = append(charges, map[string]any{
			"from":        c.From,
			"to":          c.To,
			"rate":        c.Rate,
			"consumption": c.Consumption,
			"cost":        c.Cost,
		})
	}
	return map[string]any{
		"mpan_mprn":                     meter.PointID,
		"serial_number":                 meter.SerialNumber,
		"tariff_code":                   tariffCode,
		"standing_charge":               cost.StandingCharge,
		"total_without_standing_charge": cost.TotalWithoutStandingCharge,
		"total":                         cost.Total,
		"last_calculated_timestamp":     timeOrNil(cost.LastCalculated),
		"charges":                       charges,
	}
}

// PreviousAccumulativeCost is the cost of a meter's previous day consumption
// on its current tariff.
type PreviousAccumulativeCost struct {
	*entity.Base
	meter types.Meter
}

// NewPreviousAccumulativeCost creates the previous day cost sensor of a meter.
func NewPreviousAccumulativeCost(meter types.Meter) *PreviousAccumulativeCost {
	return &PreviousAccumulativeCost{
		Base: entity.NewBase(
			entity.PlatformSensor,
			meterUniqueID(meter, "previous_accumulative_cost"),
			meterName("Previous Accumulative Cost", meter),
			"mdi:currency-gbp",
			true,
			entity.Metadata{Unit: "GBP", DeviceClass: "monetary", StateClass: "total"},
		),
		meter: meter,
	}
}

// Update sets the state to the total cost.
func (p *PreviousAccumulativeCost) Update(tariffCode string, cost consumption.Cost, now time.Time) {
	p.SetState(formatFloat(cost.Total), costAttributes(p.meter, tariffCode, cost), now)
}

// PreviousAccumulativeCostOverride is the cost of a meter's previous day
// consumption on the override tariff.
type PreviousAccumulativeCostOverride struct {
	*entity.Base
	meter types.Meter
}

// NewPreviousAccumulativeCostOverride creates the override cost sensor of a
// meter.
func NewPreviousAccumulativeCostOverride(meter types.Meter) *PreviousAccumulativeCostOverride {
	return &PreviousAccumulativeCostOverride{
		Base: entity.NewBase(
			entity.PlatformSensor,
			meterUniqueID(meter, "previous_accumulative_cost_override"),
			meterName("Previous Accumulative Cost Override", meter),
			"mdi:currency-gbp",
			false,
			entity.Metadata{Unit: "GBP", DeviceClass: "monetary", StateClass: "total"},
		),
		meter: meter,
	}
}

// Update sets the state to the total cost on the override tariff.
func (p *PreviousAccumulativeCostOverride) Update(tariffCode string, cost consumption.Cost, now time.Time) {
	p.SetState(formatFloat(cost.Total), costAttributes(p.meter, tariffCode, cost), now)
}

// Clear resets the state when no override applies.
func (p *PreviousAccumulativeCostOverride) Clear(now time.Time) {
	p.SetState(types.StateUnknown, map[string]any{}, now)
}
