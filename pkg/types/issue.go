package types

import "time"

// IssueSeverity matches the repair severities of the home-automation host.
type IssueSeverity string

const (
	IssueSeverityCritical IssueSeverity = "critical"
	IssueSeverityError    IssueSeverity = "error"
	IssueSeverityWarning  IssueSeverity = "warning"
)

// Issue is a user-facing repair notification.
type Issue struct {
	Domain         string            `json:"domain"`
	Key            string            `json:"key"`
	IsFixable      bool              `json:"isFixable"`
	Severity       IssueSeverity     `json:"severity"`
	LearnMoreURL   string            `json:"learnMoreURL,omitempty"`
	TranslationKey string            `json:"translationKey"`
	Placeholders   map[string]string `json:"placeholders,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`

	// Title and Description are rendered from translations when listed.
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}
