package types

import "time"

// SavingSession is an Octoplus saving session event.
type SavingSession struct {
	ID         int       `json:"id"`
	Code       string    `json:"code"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	OctoPoints int       `json:"octoPoints"`
}

// DurationInMinutes returns the length of the session in whole minutes.
func (s SavingSession) DurationInMinutes() int {
	return int(s.End.Sub(s.Start) / time.Minute)
}

// SavingSessionsResult is the last retrieved saving session data for an account.
type SavingSessionsResult struct {
	LastRetrieved   time.Time       `json:"lastRetrieved"`
	HasJoined       bool            `json:"hasJoined"`
	AvailableEvents []SavingSession `json:"availableEvents"`
	JoinedEvents    []SavingSession `json:"joinedEvents"`
}
