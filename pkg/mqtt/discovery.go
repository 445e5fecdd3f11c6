package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/raterudder/octobridge/pkg/entity"
	"github.com/raterudder/octobridge/pkg/types"
)

// DeviceConfig groups entities under a device in the host.
type DeviceConfig struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Name         string   `json:"name"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryConfig is the payload announcing an entity to the host.
type DiscoveryConfig struct {
	Name                string       `json:"name"`
	UniqueID            string       `json:"unique_id"`
	ObjectID            string       `json:"object_id"`
	Icon                string       `json:"icon,omitempty"`
	EnabledByDefault    bool         `json:"enabled_by_default"`
	StateTopic          string       `json:"state_topic"`
	JSONAttributesTopic string       `json:"json_attributes_topic"`
	AvailabilityTopic   string       `json:"availability_topic"`
	CommandTopic        string       `json:"command_topic,omitempty"`
	Pattern             string       `json:"pattern,omitempty"`
	PayloadOn           string       `json:"payload_on,omitempty"`
	PayloadOff          string       `json:"payload_off,omitempty"`
	UnitOfMeasurement   string       `json:"unit_of_measurement,omitempty"`
	DeviceClass         string       `json:"device_class,omitempty"`
	StateClass          string       `json:"state_class,omitempty"`
	Device              DeviceConfig `json:"device"`
}

// buildDiscovery returns the discovery config of an entity.
func buildDiscovery(e entity.Entity, topics Topics, device DeviceConfig) DiscoveryConfig {
	md := e.Metadata()
	_, objectID, _ := strings.Cut(e.EntityID(), ".")
	cfg := DiscoveryConfig{
		Name:                e.Name(),
		UniqueID:            e.UniqueID(),
		ObjectID:            objectID,
		Icon:                e.Icon(),
		EnabledByDefault:    e.EnabledByDefault(),
		StateTopic:          topics.State(e.EntityID()),
		JSONAttributesTopic: topics.Attributes(e.EntityID()),
		AvailabilityTopic:   topics.Status(),
		UnitOfMeasurement:   md.Unit,
		DeviceClass:         md.DeviceClass,
		StateClass:          md.StateClass,
		Device:              device,
	}
	switch e.Platform() {
	case entity.PlatformText:
		cfg.CommandTopic = topics.Command(e.EntityID())
		cfg.Pattern = md.Pattern
	case entity.PlatformBinarySensor:
		cfg.PayloadOn = types.StateOn
		cfg.PayloadOff = types.StateOff
	}
	return cfg
}

// attributesPayload encodes attributes with timestamps in RFC3339.
func attributesPayload(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return b, nil
}

// statusPayload is published on the status topic.
func statusPayload(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

type issuePayload struct {
	Key          string    `json:"key"`
	Severity     string    `json:"severity"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	LearnMoreURL string    `json:"learn_more_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func issuesPayload(issues []types.Issue) ([]byte, error) {
	payload := make([]issuePayload, 0, len(issues))
	for _, i := range issues {
		payload = append(payload, issuePayload{
			Key:          i.Key,
			Severity:     string(i.Severity),
			Title:        i.Title,
			Description:  i.Description,
			LearnMoreURL: i.LearnMoreURL,
			CreatedAt:    i.CreatedAt,
		})
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal issues: %w", err)
	}
	return b, nil
}
