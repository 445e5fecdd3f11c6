package sensors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raterudder/octobridge/pkg/entity"
	"github.com/raterudder/octobridge/pkg/issues"
	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/tariff"
	"github.com/raterudder/octobridge/pkg/types"
)

const costOverrideLearnMoreURL = "https://bottlecapdave.github.io/HomeAssistant-OctopusEnergy/repairs/cost_override_obsolete"

// CostOverrideTariff is a text entity holding the tariff the previous day's
// consumption should additionally be priced with.
type CostOverrideTariff struct {
	*entity.Base
	accountID string
	meter     types.Meter
	client    tariff.StandingChargeGetter
	overrides *Overrides
	issues    IssueRegistry
	writer    StateWriter
	now       func() time.Time

	mu         sync.Mutex
	tariffCode string
	value      string
}

// NewCostOverrideTariff creates the override text entity for a meter currently
// on tariffCode. The value starts as tariffCode.
func NewCostOverrideTariff(
	accountID string,
	meter types.Meter,
	tariffCode string,
	client tariff.StandingChargeGetter,
	overrides *Overrides,
	issueRegistry IssueRegistry,
	writer StateWriter,
) *CostOverrideTariff {
	c := &CostOverrideTariff{
		Base: entity.NewBase(
			entity.PlatformText,
			meterUniqueID(meter, "previous_accumulative_cost_override_tariff"),
			fmt.Sprintf("Previous Cost Override Tariff %s (%s/%s)", meter.Fuel.Title(), meter.SerialNumber, meter.PointID),
			"mdi:currency-gbp",
			false,
			entity.Metadata{Pattern: tariff.RegexTariffParts},
		),
		accountID:  accountID,
		meter:      meter,
		client:     client,
		overrides:  overrides,
		issues:     issueRegistry,
		writer:     writer,
		now:        time.Now,
		tariffCode: tariffCode,
		value:      tariffCode,
	}
	c.SetState(tariffCode, nil, time.Time{})
	return c
}

func (c *CostOverrideTariff) overrideKey() string {
	return TariffOverrideKey(c.meter.Fuel, c.meter.SerialNumber, c.meter.PointID)
}

// Value returns the current override tariff.
func (c *CostOverrideTariff) Value() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// TariffCode returns the tariff the meter is on.
func (c *CostOverrideTariff) TariffCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tariffCode
}

// SetValue validates and stores a new override tariff. Invalid tariffs are
// rejected with an error wrapping ErrInvalidValue.
func (c *CostOverrideTariff) SetValue(ctx context.Context, value string) error {
	reason, err := tariff.CheckOverrideValid(ctx, c.client, c.now(), c.TariffCode(), value)
	if err != nil {
		return err
	}
	if reason != "" {
		return fmt.Errorf("%w: %s", ErrInvalidValue, reason)
	}

	c.mu.Lock()
	c.value = value
	c.mu.Unlock()
	c.overrides.Set(c.overrideKey(), value)
	c.SetState(value, nil, c.now())

	if err := c.writer.Write(ctx, c); err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "cost override tariff set", slog.String("entityID", c.EntityID()), slog.String("tariffCode", value))
	return c.CheckIsUsed(ctx)
}

// Restore restores the last value and shares it as the account's override.
func (c *CostOverrideTariff) Restore(ctx context.Context, state types.EntityState) error {
	switch state.State {
	case "", types.StateUnknown, "unavailable":
	default:
		c.mu.Lock()
		c.value = state.State
		c.mu.Unlock()
		c.overrides.Set(c.overrideKey(), state.State)
	}
	c.SetState(c.Value(), entity.TypedAttributes(state.Attributes), state.LastUpdated)
	log.Ctx(ctx).DebugContext(ctx, "restored cost override tariff", slog.String("state", state.State))
	return nil
}

// Added checks whether the override is still in use.
func (c *CostOverrideTariff) Added(ctx context.Context) error {
	return c.CheckIsUsed(ctx)
}

// SetTariffCode updates the tariff the meter is on, e.g. after the account
// moved to a new agreement.
func (c *CostOverrideTariff) SetTariffCode(ctx context.Context, tariffCode string) error {
	c.mu.Lock()
	changed := c.tariffCode != tariffCode
	c.tariffCode = tariffCode
	c.mu.Unlock()
	if !changed {
		return nil
	}
	return c.CheckIsUsed(ctx)
}

// CheckIsUsed raises an issue while the override differs from the tariff the
// meter is on and clears it otherwise.
func (c *CostOverrideTariff) CheckIsUsed(ctx context.Context) error {
	key := fmt.Sprintf("cost_override_obsolete_%s_%s", c.meter.SerialNumber, c.meter.PointID)
	c.mu.Lock()
	differs := c.tariffCode != c.value
	c.mu.Unlock()

	if differs {
		return c.issues.Create(ctx, types.Issue{
			Domain:         issues.Domain,
			Key:            key,
			IsFixable:      false,
			Severity:       types.IssueSeverityError,
			LearnMoreURL:   costOverrideLearnMoreURL,
			TranslationKey: "cost_override_obsolete",
			Placeholders: map[string]string{
				"type":          string(c.meter.Fuel),
				"account_id":    c.accountID,
				"mpan_mprn":     c.meter.PointID,
				"serial_number": c.meter.SerialNumber,
			},
		})
	}
	return c.issues.Delete(ctx, issues.Domain, key)
}
