package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/octobridge/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Database defines the interface for persisting entity state, the last known
// good consumption series and open issues.
type Database interface {
	// Entity state
	GetEntityState(ctx context.Context, entityID string) (types.EntityState, error)
	SetEntityState(ctx context.Context, state types.EntityState) error
	ListEntityStates(ctx context.Context) ([]types.EntityState, error)

	// Consumption
	GetPreviousConsumption(ctx context.Context, key string) ([]types.Consumption, bool, error)
	SetPreviousConsumption(ctx context.Context, key string, data []types.Consumption) error

	// Issues
	UpsertIssue(ctx context.Context, issue types.Issue) error
	DeleteIssue(ctx context.Context, domain, key string) error
	ListIssues(ctx context.Context) ([]types.Issue, error)

	// Lifecycle
	HealthCheck(ctx context.Context) error
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: firestore, sqlite)")

	var p struct{ Database }

	fs := configuredFirestore()
	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "sqlite":
			if err := sq.Validate(); err != nil {
				panic(fmt.Sprintf("sqlite validation failed: %v", err))
			}
			p.Database = sq
			if err := sq.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

// issueID is the document/row id of an issue.
func issueID(domain, key string) string {
	return domain + "." + key
}
