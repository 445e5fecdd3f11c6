package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Every record is stored as a JSON blob below instances/{namespace}.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	namespace string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	namespace := lflag.String("firestore-namespace", "default", "Document below the instances collection that holds all data")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.namespace = *namespace

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.namespace == "" {
		return fmt.Errorf("firestore-namespace cannot be empty")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// HealthCheck reads the namespace document to verify connectivity.
func (f *FirestoreProvider) HealthCheck(ctx context.Context) error {
	_, err := f.client.Collection("instances").Doc(f.namespace).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore health check failed: %w", err)
	}
	return nil
}

func (f *FirestoreProvider) getCollection(name string) *firestore.CollectionRef {
	return f.client.Collection("instances").Doc(f.namespace).Collection(name)
}

// getJSON loads the "json" field of a document into v.
func getJSON(ctx context.Context, doc *firestore.DocumentSnapshot, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("'json' field is not a string")
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		return fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return nil
}

// GetEntityState returns the last persisted state of an entity.
func (f *FirestoreProvider) GetEntityState(ctx context.Context, entityID string) (types.EntityState, error) {
	doc, err := f.getCollection("entity_states").Doc(entityID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.EntityState{}, ErrNotFound
		}
		return types.EntityState{}, fmt.Errorf("failed to fetch entity state doc: %w", err)
	}
	var state types.EntityState
	if err := getJSON(ctx, doc, &state); err != nil {
		return types.EntityState{}, err
	}
	return state, nil
}

// SetEntityState persists the state of an entity, keyed by its entity id.
func (f *FirestoreProvider) SetEntityState(ctx context.Context, state types.EntityState) error {
	if state.EntityID == "" {
		return fmt.Errorf("entityID cannot be empty")
	}
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal entity state: %w", err)
	}
	_, err = f.getCollection("entity_states").Doc(state.EntityID).Set(ctx, map[string]interface{}{
		"json":        string(jsonBytes),
		"lastUpdated": state.LastUpdated,
	})
	if err != nil {
		return fmt.Errorf("failed to save entity state: %w", err)
	}
	return nil
}

// ListEntityStates returns every persisted entity state ordered by entity id.
func (f *FirestoreProvider) ListEntityStates(ctx context.Context) ([]types.EntityState, error) {
	iter := f.getCollection("entity_states").OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var states []types.EntityState
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate entity states: %w", err)
		}
		var state types.EntityState
		if err := getJSON(ctx, doc, &state); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping invalid entity state", slog.String("docID", doc.Ref.ID), slog.Any("error", err))
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

// GetPreviousConsumption returns the stored consumption series for key. The
// second return value is false when nothing was stored.
func (f *FirestoreProvider) GetPreviousConsumption(ctx context.Context, key string) ([]types.Consumption, bool, error) {
	doc, err := f.getCollection("previous_consumption").Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to fetch consumption doc: %w", err)
	}
	var data []types.Consumption
	if err := getJSON(ctx, doc, &data); err != nil {
		return nil, false, err
	}
	if data == nil {
		data = []types.Consumption{}
	}
	return data, true, nil
}

// SetPreviousConsumption replaces the stored consumption series for key.
func (f *FirestoreProvider) SetPreviousConsumption(ctx context.Context, key string, data []types.Consumption) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal consumption: %w", err)
	}
	_, err = f.getCollection("previous_consumption").Doc(key).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save consumption: %w", err)
	}
	return nil
}

// UpsertIssue creates or replaces an issue.
func (f *FirestoreProvider) UpsertIssue(ctx context.Context, issue types.Issue) error {
	jsonBytes, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("failed to marshal issue: %w", err)
	}
	_, err = f.getCollection("issues").Doc(issueID(issue.Domain, issue.Key)).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"createdAt": issue.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save issue: %w", err)
	}
	return nil
}

// DeleteIssue removes an issue. Deleting a missing issue is not an error.
func (f *FirestoreProvider) DeleteIssue(ctx context.Context, domain, key string) error {
	_, err := f.getCollection("issues").Doc(issueID(domain, key)).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete issue: %w", err)
	}
	return nil
}

// ListIssues returns every open issue.
func (f *FirestoreProvider) ListIssues(ctx context.Context) ([]types.Issue, error) {
	iter := f.getCollection("issues").OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var issues []types.Issue
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate issues: %w", err)
		}
		var issue types.Issue
		if err := getJSON(ctx, doc, &issue); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping invalid issue", slog.String("docID", doc.Ref.ID), slog.Any("error", err))
			continue
		}
		issues = append(issues, issue)
	}
	return issues, nil
}
