// Package sensors implements the entities exposed for an Octopus Energy
// account and its meters.
package sensors

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/raterudder/octobridge/pkg/entity"
	"github.com/raterudder/octobridge/pkg/types"
)

// ErrInvalidValue is wrapped by errors returned when a user supplied value is
// rejected.
var ErrInvalidValue = errors.New("invalid value")

// StateWriter persists and publishes an entity's state.
type StateWriter interface {
	Write(ctx context.Context, e entity.Entity) error
}

// IssueRegistry raises and clears repair issues.
type IssueRegistry interface {
	Create(ctx context.Context, issue types.Issue) error
	Delete(ctx context.Context, domain, key string) error
}

// TariffOverrideKey returns the key an override tariff is shared under.
func TariffOverrideKey(fuel types.FuelType, serialNumber, pointID string) string {
	return fmt.Sprintf("%s_previous_consumption_tariff_%s_%s", fuel, serialNumber, pointID)
}

// Overrides holds the override tariffs of an account, keyed by
// TariffOverrideKey.
type Overrides struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewOverrides returns an empty override map.
func NewOverrides() *Overrides {
	return &Overrides{m: map[string]string{}}
}

// Get returns the override stored under key.
func (o *Overrides) Get(key string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.m[key]
	return v, ok
}

// Set stores an override.
func (o *Overrides) Set(key, value string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.m[key] = value
}

// meterUniqueID builds the unique id of a per meter entity.
func meterUniqueID(m types.Meter, suffix string) string {
	return fmt.Sprintf("octopus_energy_%s_%s_%s_%s", m.Fuel, m.SerialNumber, m.PointID, suffix)
}

// meterName builds the display name of a per meter entity.
func meterName(prefix string, m types.Meter) string {
	return fmt.Sprintf("%s %s (%s/%s)", prefix, m.Fuel.Title(), m.SerialNumber, m.PointID)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// timeOrNil returns nil for the zero time so open ended periods are exposed
// as null.
func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
