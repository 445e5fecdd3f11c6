package tariff

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/types"
)

// StandingChargeGetter looks up the standing charges of a tariff.
type StandingChargeGetter interface {
	GetStandingCharges(ctx context.Context, fuel types.FuelType, tariffCode string, from, to time.Time) ([]types.StandingCharge, error)
}

func fuelForEnergy(energy string) types.FuelType {
	if energy == "G" {
		return types.FuelGas
	}
	return types.FuelElectricity
}

// CheckOverrideValid checks that overrideTariff can be used in place of
// originalTariff. It returns an empty string when the override is usable and a
// human readable reason otherwise. The returned error is only set when the
// tariff could not be looked up.
func CheckOverrideValid(ctx context.Context, client StandingChargeGetter, now time.Time, originalTariff, overrideTariff string) (string, error) {
	override, err := Parts(overrideTariff)
	if err != nil {
		return fmt.Sprintf("Tariff '%s' is not in the expected format", overrideTariff), nil
	}
	original, err := Parts(originalTariff)
	if err != nil {
		return fmt.Sprintf("Tariff '%s' is not in the expected format", originalTariff), nil
	}
	if override.Energy != original.Energy {
		return fmt.Sprintf("Energy must match '%s'", original.Energy), nil
	}
	if override.Region != original.Region {
		return fmt.Sprintf("Region must match '%s'", original.Region), nil
	}

	from := now.Truncate(time.Minute)
	charges, err := client.GetStandingCharges(ctx, fuelForEnergy(override.Energy), overrideTariff, from, from.Add(24*time.Hour))
	if err != nil {
		return "", fmt.Errorf("failed to check tariff %s: %w", overrideTariff, err)
	}
	if len(charges) == 0 {
		log.Ctx(ctx).InfoContext(ctx, "override tariff not found", slog.String("tariffCode", overrideTariff))
		return fmt.Sprintf("Failed to find tariff '%s'", overrideTariff), nil
	}
	return "", nil
}
