package octopus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/types"
)

type agreementEntry struct {
	TariffCode string  `json:"tariff_code"`
	ValidFrom  string  `json:"valid_from"`
	ValidTo    *string `json:"valid_to"`
}

type meterEntry struct {
	SerialNumber string `json:"serial_number"`
}

type accountResponse struct {
	Number     string `json:"number"`
	Properties []struct {
		ID                     int `json:"id"`
		ElectricityMeterPoints []struct {
			MPAN       string           `json:"mpan"`
			IsExport   bool             `json:"is_export"`
			Meters     []meterEntry     `json:"meters"`
			Agreements []agreementEntry `json:"agreements"`
		} `json:"electricity_meter_points"`
		GasMeterPoints []struct {
			MPRN       string           `json:"mprn"`
			Meters     []meterEntry     `json:"meters"`
			Agreements []agreementEntry `json:"agreements"`
		} `json:"gas_meter_points"`
	} `json:"properties"`
}

func parseAgreements(entries []agreementEntry) ([]types.Agreement, error) {
	agreements := make([]types.Agreement, 0, len(entries))
	for _, e := range entries {
		from, err := parseTime(e.ValidFrom)
		if err != nil {
			return nil, fmt.Errorf("invalid agreement valid_from (%s): %w", e.ValidFrom, err)
		}
		a := types.Agreement{
			TariffCode: e.TariffCode,
			ValidFrom:  from,
		}
		if e.ValidTo != nil {
			a.ValidTo, err = parseTime(*e.ValidTo)
			if err != nil {
				return nil, fmt.Errorf("invalid agreement valid_to (%s): %w", *e.ValidTo, err)
			}
		}
		agreements = append(agreements, a)
	}
	return agreements, nil
}

// GetAccount returns the configured account with every electricity and gas
// meter and the tariff agreements of its meter point.
func (c *Client) GetAccount(ctx context.Context) (types.Account, error) {
	var res accountResponse
	if err := c.getJSON(ctx, c.endpoint(fmt.Sprintf("/accounts/%s/", c.accountID), nil), &res); err != nil {
		return types.Account{}, fmt.Errorf("failed to get account %s: %w", c.accountID, err)
	}

	account := types.Account{ID: c.accountID}
	for _, p := range res.Properties {
		for _, point := range p.ElectricityMeterPoints {
			agreements, err := parseAgreements(point.Agreements)
			if err != nil {
				return types.Account{}, err
			}
			for _, m := range point.Meters {
				account.Meters = append(account.Meters, types.Meter{
					Fuel:         types.FuelElectricity,
					PointID:      point.MPAN,
					SerialNumber: m.SerialNumber,
					IsExport:     point.IsExport,
					Agreements:   agreements,
				})
			}
		}
		for _, point := range p.GasMeterPoints {
			agreements, err := parseAgreements(point.Agreements)
			if err != nil {
				return types.Account{}, err
			}
			for _, m := range point.Meters {
				account.Meters = append(account.Meters, types.Meter{
					Fuel:         types.FuelGas,
					PointID:      point.MPRN,
					SerialNumber: m.SerialNumber,
					Agreements:   agreements,
				})
			}
		}
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"got octopus account",
		slog.String("accountID", c.accountID),
		slog.Int("meters", len(account.Meters)),
	)
	return account, nil
}
