package consumption

import (
	"testing"
	"time"

	"github.com/raterudder/octobridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateCost(t *testing.T) {
	data := createConsumptionData(periodFrom, periodTo)
	rates := []types.Rate{
		{ValueIncVAT: 10, ValidFrom: periodFrom, ValidTo: periodFrom.Add(12 * time.Hour)},
		{ValueIncVAT: 30, ValidFrom: periodFrom.Add(12 * time.Hour)},
	}
	standing := []types.StandingCharge{{ValueIncVAT: 45, ValidFrom: periodFrom.Add(-30 * 24 * time.Hour)}}

	cost, err := CalculateCost(data, rates, standing, periodFrom, periodTo)
	require.NoError(t, err)
	require.Len(t, cost.Charges, 48)
	assert.Equal(t, 0.1, cost.Charges[0].Rate)
	assert.Equal(t, 0.1, cost.Charges[0].Cost)
	assert.Equal(t, 0.3, cost.Charges[47].Cost)
	assert.Equal(t, 48.0, cost.TotalConsumption)
	// 24 * 10p + 24 * 30p
	assert.Equal(t, 9.6, cost.TotalWithoutStandingCharge)
	assert.Equal(t, 0.45, cost.StandingCharge)
	assert.Equal(t, 10.05, cost.Total)
	assert.True(t, cost.LastCalculated.Equal(periodTo))

	t.Run("MissingRate", func(t *testing.T) {
		_, err := CalculateCost(data, rates[:1], standing, periodFrom, periodTo)
		assert.ErrorContains(t, err, "no rate")
	})

	t.Run("NoConsumptionInPeriod", func(t *testing.T) {
		older := createConsumptionData(periodFrom.Add(-24*time.Hour), periodFrom)
		_, err := CalculateCost(older, rates, standing, periodFrom, periodTo)
		assert.ErrorContains(t, err, "no consumption")
	})

	t.Run("MissingStandingCharge", func(t *testing.T) {
		_, err := CalculateCost(data, rates, nil, periodFrom, periodTo)
		assert.ErrorContains(t, err, "no standing charge")
	})
}

func TestGasToKWh(t *testing.T) {
	assert.Equal(t, 11.363, GasToKWh(1, 40))
	assert.Equal(t, 0.0, GasToKWh(0, 40))
}
