package consumption

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/raterudder/octobridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testMPRN   = "9000000001"
	testSerial = "G4P000001"
)

type memStore struct {
	data map[string][]types.Consumption
	sets int
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]types.Consumption{}}
}

func (s *memStore) GetPreviousConsumption(ctx context.Context, key string) ([]types.Consumption, bool, error) {
	d, ok := s.data[key]
	return d, ok, nil
}

func (s *memStore) SetPreviousConsumption(ctx context.Context, key string, data []types.Consumption) error {
	s.sets++
	s.data[key] = data
	return nil
}

type mockClient struct {
	mock.Mock
}

func (m *mockClient) GetElectricityConsumption(ctx context.Context, mpan, serialNumber string, from, to time.Time) ([]types.Consumption, error) {
	args := m.Called(ctx, mpan, serialNumber, from, to)
	return args.Get(0).([]types.Consumption), args.Error(1)
}

func (m *mockClient) GetGasConsumption(ctx context.Context, mprn, serialNumber string, from, to time.Time) ([]types.Consumption, error) {
	args := m.Called(ctx, mprn, serialNumber, from, to)
	return args.Get(0).([]types.Consumption), args.Error(1)
}

func createConsumptionData(from, to time.Time) []types.Consumption {
	var res []types.Consumption
	for t := from; t.Before(to); t = t.Add(types.HalfHour) {
		res = append(res, types.Consumption{
			Consumption:   1,
			IntervalStart: t,
			IntervalEnd:   t.Add(types.HalfHour),
		})
	}
	return res
}

func assertHalfHourly(t *testing.T, data []types.Consumption, from time.Time) {
	t.Helper()
	expected := from
	for _, c := range data {
		assert.True(t, c.IntervalStart.Equal(expected), "start %s != %s", c.IntervalStart, expected)
		assert.True(t, c.IntervalEnd.Equal(expected.Add(types.HalfHour)), "end %s", c.IntervalEnd)
		expected = expected.Add(types.HalfHour)
	}
}

var (
	periodFrom = time.Date(2022, 2, 10, 0, 0, 0, 0, time.UTC)
	periodTo   = time.Date(2022, 2, 11, 0, 0, 0, 0, time.UTC)
)

func TestGetConsumptionDataNotOnHalfHour(t *testing.T) {
	key := PreviousConsumptionKey(testMPRN, testSerial)
	for minute := 0; minute < 59; minute++ {
		if minute == 0 || minute == 30 {
			continue
		}
		t.Run(fmt.Sprintf("Minute%02d", minute), func(t *testing.T) {
			store := newMemStore()
			store.data[key] = []types.Consumption{}
			client := &mockClient{}
			now := time.Date(2022, 2, 12, 0, minute, 0, 0, time.UTC)

			res, err := GetConsumptionData(context.Background(), store, client, now, periodFrom, periodTo, testMPRN, testSerial, false)
			require.NoError(t, err)
			assert.NotNil(t, res)
			assert.Empty(t, res)
			client.AssertNotCalled(t, "GetGasConsumption", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestGetConsumptionDataPreviousCoversPeriod(t *testing.T) {
	for _, minute := range []int{0, 30} {
		t.Run(fmt.Sprintf("Minute%02d", minute), func(t *testing.T) {
			store := newMemStore()
			previous := createConsumptionData(periodFrom, periodTo)
			store.data[PreviousConsumptionKey(testMPRN, testSerial)] = previous
			client := &mockClient{}
			now := time.Date(2022, 2, 12, 0, minute, 0, 0, time.UTC)

			res, err := GetConsumptionData(context.Background(), store, client, now, periodFrom, periodTo, testMPRN, testSerial, false)
			require.NoError(t, err)
			require.Len(t, res, len(previous))
			assertHalfHourly(t, res, periodFrom)
			for _, c := range res {
				assert.Equal(t, 1.0, c.Consumption)
			}
			client.AssertNotCalled(t, "GetGasConsumption", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestGetConsumptionDataFetches(t *testing.T) {
	for _, isElectricity := range []bool{true, false} {
		for _, minute := range []int{0, 30} {
			for _, previousAvailable := range []bool{true, false} {
				name := fmt.Sprintf("Electricity=%t/Minute%02d/Previous=%t", isElectricity, minute, previousAvailable)
				t.Run(name, func(t *testing.T) {
					store := newMemStore()
					key := PreviousConsumptionKey(testMPRN, testSerial)
					if previousAvailable {
						store.data[key] = createConsumptionData(periodFrom.Add(-24*time.Hour), periodFrom)
					}
					client := &mockClient{}
					method := "GetGasConsumption"
					if isElectricity {
						method = "GetElectricityConsumption"
					}
					client.On(method, mock.Anything, testMPRN, testSerial, periodFrom, periodTo).Return(createConsumptionData(periodFrom, periodTo), nil)
					now := time.Date(2022, 2, 12, 0, minute, 0, 0, time.UTC)

					res, err := GetConsumptionData(context.Background(), store, client, now, periodFrom, periodTo, testMPRN, testSerial, isElectricity)
					require.NoError(t, err)
					require.Len(t, res, 48)
					assertHalfHourly(t, res, periodFrom)
					assert.Equal(t, res, store.data[key])
					client.AssertExpectations(t)
				})
			}
		}
	}
}

func TestGetConsumptionDataEmptyLiveResult(t *testing.T) {
	for _, isElectricity := range []bool{true, false} {
		for _, minute := range []int{0, 30} {
			t.Run(fmt.Sprintf("Electricity=%t/Minute%02d", isElectricity, minute), func(t *testing.T) {
				store := newMemStore()
				previousFrom := periodFrom.Add(-24 * time.Hour)
				store.data[PreviousConsumptionKey(testMPRN, testSerial)] = createConsumptionData(previousFrom, periodFrom)
				client := &mockClient{}
				client.On("GetElectricityConsumption", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]types.Consumption{}, nil)
				client.On("GetGasConsumption", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]types.Consumption(nil), nil)
				now := time.Date(2022, 2, 12, 0, minute, 0, 0, time.UTC)

				res, err := GetConsumptionData(context.Background(), store, client, now, periodFrom, periodTo, testMPRN, testSerial, isElectricity)
				require.NoError(t, err)
				require.Len(t, res, 48)
				assertHalfHourly(t, res, previousFrom)
				for _, c := range res {
					assert.Equal(t, 1.0, c.Consumption)
				}
				assert.Equal(t, 0, store.sets)
			})
		}
	}
}

func TestGetConsumptionDataNoPreviousAndEmptyLive(t *testing.T) {
	store := newMemStore()
	client := &mockClient{}
	client.On("GetGasConsumption", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]types.Consumption(nil), nil)

	res, err := GetConsumptionData(context.Background(), store, client, time.Date(2022, 2, 12, 0, 13, 0, 0, time.UTC), periodFrom, periodTo, testMPRN, testSerial, false)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Empty(t, res)
}

func TestGetConsumptionDataClientError(t *testing.T) {
	store := newMemStore()
	client := &mockClient{}
	client.On("GetGasConsumption", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]types.Consumption(nil), errors.New("boom"))

	_, err := GetConsumptionData(context.Background(), store, client, time.Date(2022, 2, 12, 0, 0, 0, 0, time.UTC), periodFrom, periodTo, testMPRN, testSerial, false)
	assert.ErrorContains(t, err, "boom")
}

func TestNormalize(t *testing.T) {
	at := func(h, m int) time.Time {
		return time.Date(2022, 2, 10, h, m, 0, 0, time.UTC)
	}

	t.Run("SnapsAndSorts", func(t *testing.T) {
		res := Normalize([]types.Consumption{
			{Consumption: 2, IntervalStart: at(0, 31), IntervalEnd: at(0, 59)},
			{Consumption: 1, IntervalStart: at(0, 0), IntervalEnd: at(0, 30)},
		}, periodFrom.Add(10*time.Minute), periodTo)
		require.Len(t, res, 2, "window start is floored so the first reading is in range")
		assert.Equal(t, 1.0, res[0].Consumption)

		res = Normalize([]types.Consumption{
			{Consumption: 2, IntervalStart: at(0, 31), IntervalEnd: at(0, 59)},
			{Consumption: 1, IntervalStart: at(0, 0), IntervalEnd: at(0, 30)},
		}, periodFrom, periodTo)
		require.Len(t, res, 2)
		assertHalfHourly(t, res, periodFrom)
		assert.Equal(t, 2.0, res[1].Consumption)
	})

	t.Run("DuplicatesKeepLast", func(t *testing.T) {
		res := Normalize([]types.Consumption{
			{Consumption: 1, IntervalStart: at(0, 0)},
			{Consumption: 3, IntervalStart: at(0, 0)},
			{Consumption: 4, IntervalStart: at(0, 30)},
		}, periodFrom, periodTo)
		require.Len(t, res, 2)
		assert.Equal(t, 3.0, res[0].Consumption)
		assert.Equal(t, 4.0, res[1].Consumption)
	})

	t.Run("HalfOpenWindow", func(t *testing.T) {
		res := Normalize(createConsumptionData(periodFrom.Add(-time.Hour), periodTo.Add(time.Hour)), periodFrom, periodTo)
		require.Len(t, res, 48)
		assertHalfHourly(t, res, periodFrom)
		assert.True(t, res[47].IntervalEnd.Equal(periodTo))
	})

	t.Run("CutAtGap", func(t *testing.T) {
		data := createConsumptionData(periodFrom, periodTo)
		data = append(data[:10], data[11:]...)
		res := Normalize(data, periodFrom, periodTo)
		require.Len(t, res, 10)
		assertHalfHourly(t, res, periodFrom)
	})

	t.Run("Empty", func(t *testing.T) {
		res := Normalize(nil, periodFrom, periodTo)
		assert.NotNil(t, res)
		assert.Empty(t, res)
	})
}

func TestFloorHalfHour(t *testing.T) {
	kathmandu := time.FixedZone("+0545", 5*3600+45*60)
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"UTC", time.Date(2024, 3, 1, 10, 47, 12, 5, time.UTC), time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		{"OnBoundary", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"QuarterOffset", time.Date(2024, 3, 1, 10, 40, 0, 0, kathmandu), time.Date(2024, 3, 1, 10, 30, 0, 0, kathmandu)},
		{"QuarterOffsetEarly", time.Date(2024, 3, 1, 10, 20, 0, 0, kathmandu), time.Date(2024, 3, 1, 10, 0, 0, 0, kathmandu)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := floorHalfHour(tt.in)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}
