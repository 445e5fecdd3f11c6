// Package consumption reconciles the half-hourly consumption reported by the
// supplier with the last known good series and calculates its cost.
package consumption

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/types"
)

// Store keeps the last known good consumption series per meter.
type Store interface {
	// GetPreviousConsumption returns the stored series. The second return
	// value is false if nothing was ever stored under key.
	GetPreviousConsumption(ctx context.Context, key string) ([]types.Consumption, bool, error)
	SetPreviousConsumption(ctx context.Context, key string, data []types.Consumption) error
}

// Client fetches consumption from the supplier.
type Client interface {
	GetElectricityConsumption(ctx context.Context, mpan, serialNumber string, from, to time.Time) ([]types.Consumption, error)
	GetGasConsumption(ctx context.Context, mprn, serialNumber string, from, to time.Time) ([]types.Consumption, error)
}

// PreviousConsumptionKey returns the store key for a meter's series.
func PreviousConsumptionKey(identifier, serialNumber string) string {
	return fmt.Sprintf("%s_%s_previous_consumption", identifier, serialNumber)
}

// shouldFetch reports whether the live API needs to be queried. New data is
// only published on the half hour so outside of that the previous series is
// reused.
func shouldFetch(now time.Time, previous []types.Consumption, hasPrevious bool, periodTo time.Time) bool {
	if !hasPrevious {
		return true
	}
	if now.Minute()%30 != 0 {
		return false
	}
	return len(previous) == 0 || previous[len(previous)-1].IntervalEnd.Before(periodTo)
}

// GetConsumptionData returns a gapless half-hourly series for the meter between
// periodFrom and periodTo. Live data replaces the stored series when it is
// non-empty, otherwise the stored series is returned unchanged. An empty,
// non-nil slice is returned when neither is available.
func GetConsumptionData(
	ctx context.Context,
	store Store,
	client Client,
	now, periodFrom, periodTo time.Time,
	identifier, serialNumber string,
	isElectricity bool,
) ([]types.Consumption, error) {
	key := PreviousConsumptionKey(identifier, serialNumber)
	ctx = log.WithAttrs(ctx, slog.String("consumptionKey", key))

	previous, hasPrevious, err := store.GetPreviousConsumption(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get previous consumption: %w", err)
	}

	if shouldFetch(now, previous, hasPrevious, periodTo) {
		var data []types.Consumption
		if isElectricity {
			data, err = client.GetElectricityConsumption(ctx, identifier, serialNumber, periodFrom, periodTo)
		} else {
			data, err = client.GetGasConsumption(ctx, identifier, serialNumber, periodFrom, periodTo)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get consumption: %w", err)
		}

		data = Normalize(data, periodFrom, periodTo)
		if len(data) > 0 {
			if err := store.SetPreviousConsumption(ctx, key, data); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to store consumption", slog.Any("error", err))
			}
			log.Ctx(ctx).DebugContext(ctx, "using live consumption", slog.Int("count", len(data)))
			return data, nil
		}
		log.Ctx(ctx).DebugContext(ctx, "no live consumption, falling back to previous")
	}

	if previous == nil {
		return []types.Consumption{}, nil
	}
	return previous, nil
}

// floorHalfHour rounds t down to the nearest half hour on its wall clock, so
// zones with a :15 or :45 offset keep their local boundaries.
func floorHalfHour(t time.Time) time.Time {
	off := time.Duration(t.Minute()%30)*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
	return t.Add(-off)
}

// Normalize sorts the readings, aligns every interval to the half hour,
// removes duplicates (the last reading wins) and intervals outside
// [periodFrom, periodTo) and finally cuts the series at the first gap.
func Normalize(data []types.Consumption, periodFrom, periodTo time.Time) []types.Consumption {
	periodFrom = floorHalfHour(periodFrom)
	periodTo = floorHalfHour(periodTo)

	sorted := make([]types.Consumption, len(data))
	copy(sorted, data)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].IntervalStart.Before(sorted[j].IntervalStart)
	})

	res := make([]types.Consumption, 0, len(sorted))
	for _, c := range sorted {
		start := floorHalfHour(c.IntervalStart)
		if start.Before(periodFrom) || !start.Before(periodTo) {
			continue
		}
		c.IntervalStart = start
		c.IntervalEnd = start.Add(types.HalfHour)

		if n := len(res); n > 0 && res[n-1].IntervalStart.Equal(start) {
			res[n-1] = c
			continue
		}
		if n := len(res); n > 0 && !res[n-1].IntervalEnd.Equal(start) {
			break
		}
		res = append(res, c)
	}
	return res
}

// Total returns the sum of the readings.
func Total(data []types.Consumption) float64 {
	var total float64
	for _, c := range data {
		total += c.Consumption
	}
	return total
}
