package main

import (
	"context"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/octobridge/pkg/consumption"
	"github.com/raterudder/octobridge/pkg/controller"
	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/storage"
	"github.com/raterudder/octobridge/pkg/types"
)

// seeds a previous day consumption series so the entities have data before
// the supplier publishes any
func main() {
	s := storage.Configured()
	pointID := lflag.String("seed-point-id", "1000000000001", "MPAN or MPRN of the meter to seed")
	serialNumber := lflag.String("seed-serial-number", "21L0000001", "Serial number of the meter to seed")
	fuel := lflag.String("seed-fuel", "electricity", "Fuel of the meter to seed (electricity or gas)")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	from, to := controller.PreviousDay(time.Now())

	var data []types.Consumption
	for t := from; t.Before(to); t = t.Add(types.HalfHour) {
		hour := float64(t.Hour()) + float64(t.Minute())/60
		// base load with morning and evening peaks
		kwh := 0.15 +
			0.4*math.Exp(-math.Pow(hour-7.5, 2)/2) +
			0.8*math.Exp(-math.Pow(hour-18.5, 2)/3)
		if types.FuelType(*fuel) == types.FuelGas {
			kwh /= 10
		}
		kwh += rng.Float64() * 0.05
		data = append(data, types.Consumption{
			Consumption:   math.Round(kwh*1000) / 1000,
			IntervalStart: t,
			IntervalEnd:   t.Add(types.HalfHour),
		})
	}

	key := consumption.PreviousConsumptionKey(*pointID, *serialNumber)
	if err := s.SetPreviousConsumption(ctx, key, data); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed consumption", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeded consumption",
		"key", key,
		"from", from,
		"to", to,
		"count", len(data),
		"total", consumption.Total(data),
	)
}
