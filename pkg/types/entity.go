package types

import "time"

// EntityState is the persisted state of an entity, used to restore entities
// after a restart.
type EntityState struct {
	EntityID    string         `json:"entityID"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

const (
	StateOn  = "on"
	StateOff = "off"
	// StateUnknown is reported for entities without a value yet.
	StateUnknown = "unknown"
)
