package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds the topic names used to talk to the host.
type Topics struct {
	// Prefix is the root of the state, attribute and command topics.
	Prefix string
	// DiscoveryPrefix is the host's discovery root, usually "homeassistant".
	DiscoveryPrefix string
}

func entityPath(entityID string) string {
	return strings.ReplaceAll(entityID, ".", "/")
}

// Status is the availability topic of the service.
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// State is the topic an entity's state is published to.
func (t Topics) State(entityID string) string {
	return fmt.Sprintf("%s/%s/state", t.Prefix, entityPath(entityID))
}

// Attributes is the topic an entity's attributes are published to as JSON.
func (t Topics) Attributes(entityID string) string {
	return fmt.Sprintf("%s/%s/attributes", t.Prefix, entityPath(entityID))
}

// Command is the topic the host publishes new values of text entities to.
func (t Topics) Command(entityID string) string {
	return fmt.Sprintf("%s/%s/set", t.Prefix, entityPath(entityID))
}

// Issues is the topic the open issues are published to.
func (t Topics) Issues() string {
	return t.Prefix + "/issues"
}

// Discovery is the config topic announcing an entity.
func (t Topics) Discovery(platform, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/config", t.DiscoveryPrefix, platform, uniqueID)
}

// entityIDFromCommand extracts the entity id from a command topic. The second
// return value is false for other topics.
func (t Topics) entityIDFromCommand(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return "", false
	}
	rest, ok = strings.CutSuffix(rest, "/set")
	if !ok {
		return "", false
	}
	platform, id, ok := strings.Cut(rest, "/")
	if !ok || platform == "" || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return platform + "." + id, true
}
