package octopus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/tariff"
	"github.com/raterudder/octobridge/pkg/types"
)

type rateEntry struct {
	ValueExcVAT float64 `json:"value_exc_vat"`
	ValueIncVAT float64 `json:"value_inc_vat"`
	ValidFrom   *string `json:"valid_from"`
	ValidTo     *string `json:"valid_to"`
}

type ratesResponse struct {
	Count   int         `json:"count"`
	Next    *string     `json:"next"`
	Results []rateEntry `json:"results"`
}

// GetElectricityRates returns the unit rates of an electricity tariff between
// from and to. Unknown tariffs return no rates.
func (c *Client) GetElectricityRates(ctx context.Context, tariffCode string, from, to time.Time) ([]types.Rate, error) {
	return c.getTariffRates(ctx, "electricity-tariffs", tariffCode, "standard-unit-rates", from, to)
}

// GetGasRates returns the unit rates of a gas tariff between from and to.
func (c *Client) GetGasRates(ctx context.Context, tariffCode string, from, to time.Time) ([]types.Rate, error) {
	return c.getTariffRates(ctx, "gas-tariffs", tariffCode, "standard-unit-rates", from, to)
}

// GetElectricityStandingCharges returns the standing charges of an
// electricity tariff between from and to.
func (c *Client) GetElectricityStandingCharges(ctx context.Context, tariffCode string, from, to time.Time) ([]types.StandingCharge, error) {
	return c.getTariffRates(ctx, "electricity-tariffs", tariffCode, "standing-charges", from, to)
}

// GetGasStandingCharges returns the standing charges of a gas tariff between
// from and to.
func (c *Client) GetGasStandingCharges(ctx context.Context, tariffCode string, from, to time.Time) ([]types.StandingCharge, error) {
	return c.getTariffRates(ctx, "gas-tariffs", tariffCode, "standing-charges", from, to)
}

// GetRates returns unit rates for the given fuel.
func (c *Client) GetRates(ctx context.Context, fuel types.FuelType, tariffCode string, from, to time.Time) ([]types.Rate, error) {
	if fuel == types.FuelGas {
		return c.GetGasRates(ctx, tariffCode, from, to)
	}
	return c.GetElectricityRates(ctx, tariffCode, from, to)
}

// GetStandingCharges returns standing charges for the given fuel.
func (c *Client) GetStandingCharges(ctx context.Context, fuel types.FuelType, tariffCode string, from, to time.Time) ([]types.StandingCharge, error) {
	if fuel == types.FuelGas {
		return c.GetGasStandingCharges(ctx, tariffCode, from, to)
	}
	return c.GetElectricityStandingCharges(ctx, tariffCode, from, to)
}

func (c *Client) getTariffRates(ctx context.Context, kind, tariffCode, endpoint string, from, to time.Time) ([]types.Rate, error) {
	parts, err := tariff.Parts(tariffCode)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("period_from", formatTime(from))
	q.Set("period_to", formatTime(to))
	q.Set("page_size", "1500")
	next := c.endpoint(fmt.Sprintf("/products/%s/%s/%s/%s/", parts.ProductCode, kind, tariffCode, endpoint), q)

	var rates []types.Rate
	for next != "" {
		var res ratesResponse
		if err := c.getJSON(ctx, next, &res); err != nil {
			if errors.Is(err, ErrNotFound) {
				log.Ctx(ctx).DebugContext(ctx, "tariff not found", slog.String("tariffCode", tariffCode), slog.String("endpoint", endpoint))
				return nil, nil
			}
			return nil, fmt.Errorf("failed to get %s for %s: %w", endpoint, tariffCode, err)
		}
		for _, item := range res.Results {
			r := types.Rate{ValueIncVAT: item.ValueIncVAT}
			if item.ValidFrom != nil {
				if r.ValidFrom, err = parseTime(*item.ValidFrom); err != nil {
					log.Ctx(ctx).WarnContext(ctx, "failed to parse valid_from", slog.String("value", *item.ValidFrom), slog.Any("error", err))
					continue
				}
			}
			if item.ValidTo != nil {
				if r.ValidTo, err = parseTime(*item.ValidTo); err != nil {
					log.Ctx(ctx).WarnContext(ctx, "failed to parse valid_to", slog.String("value", *item.ValidTo), slog.Any("error", err))
					continue
				}
			}
			rates = append(rates, r)
		}
		next = ""
		if res.Next != nil {
			next = *res.Next
		}
	}

	sort.Slice(rates, func(i, j int) bool {
		return rates[i].ValidFrom.Before(rates[j].ValidFrom)
	})
	return rates, nil
}
