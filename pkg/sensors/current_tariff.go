package sensors

import (
	"context"
	"fmt"
	"time"

	"github.com/raterudder/octobridge/pkg/entity"
	"github.com/raterudder/octobridge/pkg/types"
)

// RateGetter looks up the unit rates of a tariff.
type RateGetter interface {
	GetRates(ctx context.Context, fuel types.FuelType, tariffCode string, from, to time.Time) ([]types.Rate, error)
}

// CurrentTariff exposes the tariff a meter is currently on and its unit rate.
type CurrentTariff struct {
	*entity.Base
	meter types.Meter
	rates RateGetter
}

// NewCurrentTariff creates the current tariff sensor of a meter.
func NewCurrentTariff(meter types.Meter, rates RateGetter) *CurrentTariff {
	return &CurrentTariff{
		Base: entity.NewBase(
			entity.PlatformSensor,
			meterUniqueID(meter, "current_tariff"),
			meterName("Current Tariff", meter),
			"mdi:file-document-outline",
			true,
			entity.Metadata{},
		),
		meter: meter,
		rates: rates,
	}
}

// Update sets the state to the tariff of meter at now. The meter is passed in
// because its agreements change when the account is refreshed.
func (c *CurrentTariff) Update(ctx context.Context, now time.Time, meter types.Meter) error {
	c.meter = meter
	agreement, ok := meter.ActiveAgreement(now)
	if !ok {
		c.SetState(types.StateUnknown, map[string]any{
			"mpan_mprn":     meter.PointID,
			"serial_number": meter.SerialNumber,
		}, now)
		return nil
	}

	attrs := map[string]any{
		"mpan_mprn":     meter.PointID,
		"serial_number": meter.SerialNumber,
		"is_export":     meter.IsExport,
		"valid_from":    timeOrNil(agreement.ValidFrom),
		"valid_to":      timeOrNil(agreement.ValidTo),
		"current_rate":  nil,
	}

	from := now.Truncate(types.HalfHour)
	rates, err := c.rates.GetRates(ctx, meter.Fuel, agreement.TariffCode, from, from.Add(types.HalfHour))
	if err != nil {
		return fmt.Errorf("failed to get current rate: %w", err)
	}
	for _, r := range rates {
		if r.Covers(now) {
			attrs["current_rate"] = roundTo(r.ValueIncVAT/100, 6)
			break
		}
	}

	c.SetState(agreement.TariffCode, attrs, now)
	return nil
}
