// Package issues keeps track of user facing repair notifications.
package issues

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/types"
	"gopkg.in/yaml.v3"
)

// Domain is the domain every issue raised by this service belongs to.
const Domain = "octopus_energy"

//go:embed translations.yaml
var translationsYAML []byte

// Translation is the title and description template of an issue.
type Translation struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

type translationsFile struct {
	Issues map[string]Translation `yaml:"issues"`
}

// Translations maps a translation key to its templates.
type Translations map[string]Translation

// LoadTranslations parses a translations document.
func LoadTranslations(data []byte) (Translations, error) {
	var f translationsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse translations: %w", err)
	}
	return Translations(f.Issues), nil
}

// Render fills in the title and description of the issue from its
// translation key and placeholders. Unknown keys fall back to the key.
func (t Translations) Render(issue types.Issue) types.Issue {
	tr, ok := t[issue.TranslationKey]
	if !ok {
		issue.Title = issue.TranslationKey
		issue.Description = ""
		return issue
	}
	pairs := make([]string, 0, len(issue.Placeholders)*2)
	for k, v := range issue.Placeholders {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	issue.Title = r.Replace(tr.Title)
	issue.Description = r.Replace(tr.Description)
	return issue
}

// Store persists issues.
type Store interface {
	UpsertIssue(ctx context.Context, issue types.Issue) error
	DeleteIssue(ctx context.Context, domain, key string) error
	ListIssues(ctx context.Context) ([]types.Issue, error)
}

// Publisher is notified with every open issue whenever the set changes.
type Publisher interface {
	PublishIssues(ctx context.Context, issues []types.Issue) error
}

// Registry creates and deletes issues.
type Registry struct {
	store        Store
	publishers   []Publisher
	translations Translations
	now          func() time.Time
}

// NewRegistry creates a registry using the embedded translations.
func NewRegistry(store Store, publishers ...Publisher) (*Registry, error) {
	translations, err := LoadTranslations(translationsYAML)
	if err != nil {
		return nil, err
	}
	return &Registry{
		store:        store,
		publishers:   publishers,
		translations: translations,
		now:          time.Now,
	}, nil
}

// AddPublisher registers an additional publisher.
func (r *Registry) AddPublisher(p Publisher) {
	r.publishers = append(r.publishers, p)
}

// Create raises or updates an issue. Existing issues keep their creation
// time.
func (r *Registry) Create(ctx context.Context, issue types.Issue) error {
	if issue.Domain == "" {
		issue.Domain = Domain
	}
	if issue.Key == "" {
		return fmt.Errorf("issue key cannot be empty")
	}
	ctx = log.WithAttrs(ctx, slog.String("issueKey", issue.Key))

	existing, err := r.store.ListIssues(ctx)
	if err != nil {
		return fmt.Errorf("failed to list issues: %w", err)
	}
	for _, e := range existing {
		if e.Domain == issue.Domain && e.Key == issue.Key {
			issue.CreatedAt = e.CreatedAt
		}
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = r.now()
	}
	issue = r.translations.Render(issue)

	if err := r.store.UpsertIssue(ctx, issue); err != nil {
		return fmt.Errorf("failed to save issue: %w", err)
	}
	log.Ctx(ctx).WarnContext(ctx, "issue raised", slog.String("title", issue.Title), slog.String("severity", string(issue.Severity)))
	r.publish(ctx)
	return nil
}

// Delete removes an issue. Deleting an issue that does not exist is a no-op.
func (r *Registry) Delete(ctx context.Context, domain, key string) error {
	if err := r.store.DeleteIssue(ctx, domain, key); err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "issue cleared", slog.String("issueKey", key))
	r.publish(ctx)
	return nil
}

// List returns the open issues with rendered titles, oldest first.
func (r *Registry) List(ctx context.Context) ([]types.Issue, error) {
	issues, err := r.store.ListIssues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	for i := range issues {
		issues[i] = r.translations.Render(issues[i])
	}
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].CreatedAt.Before(issues[j].CreatedAt)
	})
	return issues, nil
}

func (r *Registry) publish(ctx context.Context) {
	if len(r.publishers) == 0 {
		return
	}
	issues, err := r.List(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to list issues for publishing", slog.Any("error", err))
		return
	}
	for _, p := range r.publishers {
		if err := p.PublishIssues(ctx, issues); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish issues", slog.Any("error", err))
		}
	}
}
