// Package entity models the stateful objects exposed to the home-automation
// host and keeps track of their lifecycle.
package entity

import (
	"context"
	"maps"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/raterudder/octobridge/pkg/types"
)

// Platform is the kind of entity as understood by the host.
type Platform string

const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformText         Platform = "text"
)

// Metadata describes how the host should present an entity.
type Metadata struct {
	Unit        string `json:"unit,omitempty"`
	DeviceClass string `json:"deviceClass,omitempty"`
	StateClass  string `json:"stateClass,omitempty"`
	// Pattern restricts the values of text entities.
	Pattern string `json:"pattern,omitempty"`
}

// Entity is a single value exposed to the host.
type Entity interface {
	UniqueID() string
	EntityID() string
	Name() string
	Icon() string
	Platform() Platform
	EnabledByDefault() bool
	Metadata() Metadata
	// State returns a snapshot of the current state and attributes.
	State() types.EntityState
}

// Restorer is implemented by entities that restore their last persisted
// state when added.
type Restorer interface {
	Restore(ctx context.Context, state types.EntityState) error
}

// AddedHook is implemented by entities that need to run once they are live.
type AddedHook interface {
	Added(ctx context.Context) error
}

// Text is an entity whose value can be set by the user.
type Text interface {
	Entity
	SetValue(ctx context.Context, value string) error
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and replaces every run of other characters with an
// underscore.
func Slugify(s string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "_"), "_")
}

// GenerateEntityID returns the entity id for an entity on platform.
func GenerateEntityID(platform Platform, uniqueID string) string {
	return string(platform) + "." + Slugify(uniqueID)
}

// Base implements the bookkeeping shared by all entities. It is meant to be
// embedded.
type Base struct {
	uniqueID         string
	entityID         string
	name             string
	icon             string
	platform         Platform
	enabledByDefault bool
	metadata         Metadata

	mu          sync.RWMutex
	state       string
	attributes  map[string]any
	lastUpdated time.Time
}

// NewBase creates the common part of an entity. The state starts as unknown.
func NewBase(platform Platform, uniqueID, name, icon string, enabledByDefault bool, md Metadata) *Base {
	return &Base{
		uniqueID:         uniqueID,
		entityID:         GenerateEntityID(platform, uniqueID),
		name:             name,
		icon:             icon,
		platform:         platform,
		enabledByDefault: enabledByDefault,
		metadata:         md,
		state:            types.StateUnknown,
		attributes:       map[string]any{},
	}
}

func (b *Base) UniqueID() string       { return b.uniqueID }
func (b *Base) EntityID() string       { return b.entityID }
func (b *Base) Name() string           { return b.name }
func (b *Base) Icon() string           { return b.icon }
func (b *Base) Platform() Platform     { return b.platform }
func (b *Base) EnabledByDefault() bool { return b.enabledByDefault }
func (b *Base) Metadata() Metadata     { return b.metadata }

// State returns a copy of the current state.
func (b *Base) State() types.EntityState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return types.EntityState{
		EntityID:    b.entityID,
		State:       b.state,
		Attributes:  maps.Clone(b.attributes),
		LastUpdated: b.lastUpdated,
	}
}

// SetState replaces the state and attributes. A nil attrs keeps the current
// attributes.
func (b *Base) SetState(state string, attrs map[string]any, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
	if attrs != nil {
		b.attributes = attrs
	}
	b.lastUpdated = now
}

// SetAttribute sets a single attribute.
func (b *Base) SetAttribute(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attributes[key] = value
}

// RawState returns the current state string.
func (b *Base) RawState() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// TypedAttributes converts attributes restored from storage back to their
// typed values. Strings holding RFC3339 timestamps become time.Time.
func TypedAttributes(attrs map[string]any) map[string]any {
	res := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
				res[k] = t
				continue
			}
			res[k] = val
		case map[string]any:
			res[k] = TypedAttributes(val)
		default:
			res[k] = v
		}
	}
	return res
}
