package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/raterudder/octobridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDatabase runs the same assertions against any provider.
func testDatabase(t *testing.T, db Database) {
	ctx := context.Background()

	t.Run("HealthCheck", func(t *testing.T) {
		require.NoError(t, db.HealthCheck(ctx))
	})

	t.Run("EntityState", func(t *testing.T) {
		_, err := db.GetEntityState(ctx, "text.missing")
		assert.ErrorIs(t, err, ErrNotFound)

		now := time.Now().Truncate(time.Second).UTC()
		state := types.EntityState{
			EntityID: "binary_sensor.octopus_energy_a_1234abcd_octoplus_saving_sessions",
			State:    types.StateOn,
			Attributes: map[string]any{
				"current_joined_event_start": now.Format(time.RFC3339),
				"current_joined_event_duration_in_minutes": 60.0,
			},
			LastUpdated: now,
		}
		require.NoError(t, db.SetEntityState(ctx, state))

		got, err := db.GetEntityState(ctx, state.EntityID)
		require.NoError(t, err)
		assert.Equal(t, state.State, got.State)
		assert.Equal(t, state.Attributes, got.Attributes)
		assert.True(t, state.LastUpdated.Equal(got.LastUpdated))

		state.State = types.StateOff
		require.NoError(t, db.SetEntityState(ctx, state))
		got, err = db.GetEntityState(ctx, state.EntityID)
		require.NoError(t, err)
		assert.Equal(t, types.StateOff, got.State)

		require.NoError(t, db.SetEntityState(ctx, types.EntityState{EntityID: "sensor.another", State: "1"}))
		states, err := db.ListEntityStates(ctx)
		require.NoError(t, err)
		var ids []string
		for _, s := range states {
			ids = append(ids, s.EntityID)
		}
		assert.Contains(t, ids, state.EntityID)
		assert.Contains(t, ids, "sensor.another")

		assert.Error(t, db.SetEntityState(ctx, types.EntityState{}))
	})

	t.Run("PreviousConsumption", func(t *testing.T) {
		data, ok, err := db.GetPreviousConsumption(ctx, "missing_previous_consumption")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, data)

		require.NoError(t, db.SetPreviousConsumption(ctx, "empty_previous_consumption", []types.Consumption{}))
		data, ok, err = db.GetPreviousConsumption(ctx, "empty_previous_consumption")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotNil(t, data)
		assert.Empty(t, data)

		start := time.Date(2022, 2, 10, 0, 0, 0, 0, time.UTC)
		series := []types.Consumption{
			{Consumption: 0.5, IntervalStart: start, IntervalEnd: start.Add(types.HalfHour)},
			{Consumption: 0.25, IntervalStart: start.Add(types.HalfHour), IntervalEnd: start.Add(time.Hour)},
		}
		require.NoError(t, db.SetPreviousConsumption(ctx, "mprn_serial_previous_consumption", series))
		data, ok, err = db.GetPreviousConsumption(ctx, "mprn_serial_previous_consumption")
		require.NoError(t, err)
		assert.True(t, ok)
		require.Len(t, data, 2)
		assert.Equal(t, 0.25, data[1].Consumption)
		assert.True(t, data[1].IntervalEnd.Equal(start.Add(time.Hour)))
	})

	t.Run("Issues", func(t *testing.T) {
		issue := types.Issue{
			Domain:         "octopus_energy",
			Key:            "cost_override_obsolete_G4P000001_9000000001",
			Severity:       types.IssueSeverityError,
			TranslationKey: "cost_override_obsolete",
			Placeholders:   map[string]string{"type": "gas"},
			CreatedAt:      time.Now().Truncate(time.Second).UTC(),
		}
		require.NoError(t, db.UpsertIssue(ctx, issue))
		require.NoError(t, db.UpsertIssue(ctx, issue))

		issues, err := db.ListIssues(ctx)
		require.NoError(t, err)
		var found int
		for _, i := range issues {
			if i.Key == issue.Key {
				found++
				assert.Equal(t, issue.Placeholders, i.Placeholders)
				assert.Equal(t, types.IssueSeverityError, i.Severity)
			}
		}
		assert.Equal(t, 1, found)

		require.NoError(t, db.DeleteIssue(ctx, issue.Domain, issue.Key))
		require.NoError(t, db.DeleteIssue(ctx, issue.Domain, issue.Key))
		issues, err = db.ListIssues(ctx)
		require.NoError(t, err)
		for _, i := range issues {
			assert.NotEqual(t, issue.Key, i.Key)
		}
	})
}

func TestSQLiteProvider(t *testing.T) {
	s := NewSQLite(filepath.Join(t.TempDir(), "nested", "octobridge.db"))
	require.NoError(t, s.Validate())
	require.NoError(t, s.Init(context.Background()))
	defer s.Close()

	testDatabase(t, s)

	t.Run("Validate", func(t *testing.T) {
		assert.Error(t, (&SQLiteProvider{}).Validate())
	})
}
