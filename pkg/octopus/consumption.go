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
	"github.com/raterudder/octobridge/pkg/types"
)

// consumptionPageSize is the largest page the API accepts.
const consumptionPageSize = "25000"

type consumptionEntry struct {
	Consumption   float64 `json:"consumption"`
	IntervalStart string  `json:"interval_start"`
	IntervalEnd   string  `json:"interval_end"`
}

type consumptionResponse struct {
	Count   int                `json:"count"`
	Next    *string            `json:"next"`
	Results []consumptionEntry `json:"results"`
}

// GetElectricityConsumption returns the half-hourly consumption recorded by an
// electricity meter between from and to.
func (c *Client) GetElectricityConsumption(ctx context.Context, mpan, serialNumber string, from, to time.Time) ([]types.Consumption, error) {
	return c.getConsumption(ctx, fmt.Sprintf("/electricity-meter-points/%s/meters/%s/consumption/", mpan, serialNumber), from, to)
}

// GetGasConsumption returns the half-hourly consumption recorded by a gas
// meter between from and to.
func (c *Client) GetGasConsumption(ctx context.Context, mprn, serialNumber string, from, to time.Time) ([]types.Consumption, error) {
	return c.getConsumption(ctx, fmt.Sprintf("/gas-meter-points/%s/meters/%s/consumption/", mprn, serialNumber), from, to)
}

func (c *Client) getConsumption(ctx context.Context, path string, from, to time.Time) ([]types.Consumption, error) {
	q := url.Values{}
	q.Set("period_from", formatTime(from))
	q.Set("period_to", formatTime(to))
	q.Set("page_size", consumptionPageSize)
	q.Set("order_by", "period")
	next := c.endpoint(path, q)

	var data []types.Consumption
	for next != "" {
		var res consumptionResponse
		if err := c.getJSON(ctx, next, &res); err != nil {
			if errors.Is(err, ErrNotFound) {
				log.Ctx(ctx).WarnContext(ctx, "meter not found when fetching consumption", slog.String("path", path))
				return nil, nil
			}
			return nil, fmt.Errorf("failed to get consumption: %w", err)
		}
		for _, item := range res.Results {
			start, err := parseTime(item.IntervalStart)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to parse interval_start", slog.String("value", item.IntervalStart), slog.Any("error", err))
				continue
			}
			end, err := parseTime(item.IntervalEnd)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to parse interval_end", slog.String("value", item.IntervalEnd), slog.Any("error", err))
				continue
			}
			data = append(data, types.Consumption{
				Consumption:   item.Consumption,
				IntervalStart: start,
				IntervalEnd:   end,
			})
		}
		next = ""
		if res.Next != nil {
			next = *res.Next
		}
	}

	sort.Slice(data, func(i, j int) bool {
		return data[i].IntervalStart.Before(data[j].IntervalStart)
	})

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched consumption",
		slog.String("path", path),
		slog.Int("count", len(data)),
		slog.Time("from", from),
		slog.Time("to", to),
	)
	return data, nil
}
