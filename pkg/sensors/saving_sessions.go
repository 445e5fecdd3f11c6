package sensors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raterudder/octobridge/pkg/entity"
	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/octoplus"
	"github.com/raterudder/octobridge/pkg/types"
)

// SavingSessionsSource returns the last retrieved saving sessions. The second
// return value is false before the first successful retrieval.
type SavingSessionsSource interface {
	SavingSessions() (types.SavingSessionsResult, bool)
}

// SavingSessions is on while a joined Octoplus saving session is in progress.
type SavingSessions struct {
	*entity.Base
	accountID string
	source    SavingSessionsSource
}

// NewSavingSessions creates the saving session binary sensor of an account.
func NewSavingSessions(accountID string, source SavingSessionsSource) *SavingSessions {
	return &SavingSessions{
		Base: entity.NewBase(
			entity.PlatformBinarySensor,
			fmt.Sprintf("octopus_energy_%s_octoplus_saving_sessions", accountID),
			fmt.Sprintf("Octopus Energy %s Octoplus Saving Session", accountID),
			"mdi:leaf",
			true,
			entity.Metadata{},
		),
		accountID: accountID,
		source:    source,
	}
}

func emptySavingSessionAttributes() map[string]any {
	return map[string]any{
		"current_joined_event_start":               nil,
		"current_joined_event_end":                 nil,
		"current_joined_event_duration_in_minutes": nil,
		"next_joined_event_start":                  nil,
		"next_joined_event_end":                    nil,
		"next_joined_event_duration_in_minutes":    nil,
	}
}

// IsOn recalculates the state from the source's joined events at now.
func (s *SavingSessions) IsOn(now time.Time) bool {
	var events []types.SavingSession
	if res, ok := s.source.SavingSessions(); ok {
		events = res.JoinedEvents
	}

	attrs := emptySavingSessionAttributes()
	on := false
	if current, ok := octoplus.CurrentEvent(now, events); ok {
		on = true
		attrs["current_joined_event_start"] = current.Start
		attrs["current_joined_event_end"] = current.End
		attrs["current_joined_event_duration_in_minutes"] = current.DurationInMinutes()
	}
	if next, ok := octoplus.NextEvent(now, events); ok {
		attrs["next_joined_event_start"] = next.Start
		attrs["next_joined_event_end"] = next.End
		attrs["next_joined_event_duration_in_minutes"] = next.DurationInMinutes()
	}

	state := types.StateOff
	if on {
		state = types.StateOn
	}
	s.SetState(state, attrs, now)
	return on
}

// Restore restores the last state and attributes.
func (s *SavingSessions) Restore(ctx context.Context, state types.EntityState) error {
	s.SetState(state.State, entity.TypedAttributes(state.Attributes), state.LastUpdated)
	log.Ctx(ctx).DebugContext(ctx, "restored saving sessions state", slog.String("state", state.State))
	return nil
}

// Added defaults the state to off when nothing was restored.
func (s *SavingSessions) Added(ctx context.Context) error {
	switch s.RawState() {
	case types.StateOn, types.StateOff:
	default:
		s.SetState(types.StateOff, emptySavingSessionAttributes(), time.Time{})
	}
	return nil
}
