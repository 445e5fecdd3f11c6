// Package octoplus picks the saving session events relevant at a point in time.
package octoplus

import (
	"time"

	"github.com/raterudder/octobridge/pkg/types"
)

// CurrentEvent returns the event in progress at now. Both ends are inclusive.
func CurrentEvent(now time.Time, events []types.SavingSession) (types.SavingSession, bool) {
	for _, e := range events {
		if !now.Before(e.Start) && !now.After(e.End) {
			return e, true
		}
	}
	return types.SavingSession{}, false
}

// NextEvent returns the event with the earliest start after now.
func NextEvent(now time.Time, events []types.SavingSession) (types.SavingSession, bool) {
	var next types.SavingSession
	var found bool
	for _, e := range events {
		if !e.Start.After(now) {
			continue
		}
		if !found || e.Start.Before(next.Start) {
			next = e
			found = true
		}
	}
	return next, found
}
