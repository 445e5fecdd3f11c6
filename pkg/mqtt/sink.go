package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raterudder/octobridge/pkg/entity"
	"github.com/raterudder/octobridge/pkg/types"
)

// Announce publishes the retained discovery config of an entity. Text
// entities are also subscribed to their command topic.
func (p *Publisher) Announce(ctx context.Context, e entity.Entity) error {
	cfg := buildDiscovery(e, p.topics, p.device)
	b, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal discovery config: %w", err)
	}
	if err := p.publish(ctx, p.topics.Discovery(string(e.Platform()), e.UniqueID()), b); err != nil {
		return err
	}
	if e.Platform() == entity.PlatformText {
		if err := p.subscribeCommand(cfg.CommandTopic, e.EntityID()); err != nil {
			return err
		}
	}
	return nil
}

// PublishState publishes the state and attributes of an entity.
func (p *Publisher) PublishState(ctx context.Context, e entity.Entity, state types.EntityState) error {
	attrs, err := attributesPayload(state.Attributes)
	if err != nil {
		return err
	}
	if err := p.publish(ctx, p.topics.Attributes(e.EntityID()), attrs); err != nil {
		return err
	}
	return p.publish(ctx, p.topics.State(e.EntityID()), []byte(state.State))
}

// PublishIssues publishes the open issues as a JSON array.
func (p *Publisher) PublishIssues(ctx context.Context, issues []types.Issue) error {
	b, err := issuesPayload(issues)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.topics.Issues(), b)
}

var (
	_ entity.Sink = (*Publisher)(nil)
)
