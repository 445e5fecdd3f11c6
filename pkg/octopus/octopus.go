package octopus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/octobridge/pkg/common"
	"github.com/raterudder/octobridge/pkg/log"
)

// ErrNotFound is returned when the API responds with 404.
var ErrNotFound = errors.New("octopus: not found")

var londonLocation = func() *time.Location {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		panic(fmt.Errorf("failed to load london location: %w", err))
	}
	return loc
}()

// London returns the Europe/London location all tariffs are priced in.
func London() *time.Location {
	return londonLocation
}

// Client talks to the Octopus Energy REST and GraphQL APIs for a single
// account.
type Client struct {
	apiURL     string
	graphqlURL string
	apiKey     string
	accountID  string
	client     *http.Client

	// now is overridden in tests
	now func() time.Time

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Configured sets up flags for the Octopus Energy API and returns the client.
// It uses lflag to register command-line flags for configuration.
func Configured() *Client {
	c := &Client{
		now: time.Now,
	}
	apiURL := lflag.String("octopus-api-url", "https://api.octopus.energy/v1", "Base URL for the Octopus Energy REST API")
	graphqlURL := lflag.String("octopus-graphql-url", "https://api.octopus.energy/v1/graphql/", "URL for the Octopus Energy GraphQL API")
	apiKey := lflag.RequiredString("octopus-api-key", "API key for the Octopus Energy account")
	accountID := lflag.RequiredString("octopus-account-id", "Octopus Energy account number (e.g. A-1234ABCD)")
	timeout := lflag.Duration("octopus-timeout", 20*time.Second, "Timeout for requests to the Octopus Energy API")

	lflag.Do(func() {
		c.apiURL = strings.TrimSuffix(*apiURL, "/")
		c.graphqlURL = *graphqlURL
		c.apiKey = *apiKey
		c.accountID = *accountID
		c.client = common.HTTPClient(*timeout, common.WithBasicAuthKey(c.apiKey))
		if err := c.Validate(); err != nil {
			panic(fmt.Sprintf("octopus validation failed: %v", err))
		}
	})

	return c
}

// NewClient creates a client without going through flags.
func NewClient(apiURL, graphqlURL, apiKey, accountID string, client *http.Client) *Client {
	if client == nil {
		client = common.HTTPClient(20*time.Second, common.WithBasicAuthKey(apiKey))
	}
	return &Client{
		apiURL:     strings.TrimSuffix(apiURL, "/"),
		graphqlURL: graphqlURL,
		apiKey:     apiKey,
		accountID:  accountID,
		client:     client,
		now:        time.Now,
	}
}

// Validate ensures the configuration is valid.
func (c *Client) Validate() error {
	if c.apiURL == "" {
		return fmt.Errorf("octopus-api-url is required")
	}
	if _, err := url.Parse(c.apiURL); err != nil {
		return fmt.Errorf("failed to parse octopus api url (%s): %w", c.apiURL, err)
	}
	if _, err := url.Parse(c.graphqlURL); err != nil {
		return fmt.Errorf("failed to parse octopus graphql url (%s): %w", c.graphqlURL, err)
	}
	if c.apiKey == "" {
		return fmt.Errorf("octopus-api-key is required")
	}
	if c.accountID == "" {
		return fmt.Errorf("octopus-account-id is required")
	}
	return nil
}

// AccountID returns the account number the client was configured with.
func (c *Client) AccountID() string {
	return c.accountID
}

// getJSON performs a GET against the REST API and decodes the response into res.
// A 404 returns ErrNotFound.
func (c *Client) getJSON(ctx context.Context, rawURL string, res any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.apiKey, "")
	log.Ctx(ctx).DebugContext(ctx, "fetching from octopus", slog.String("url", rawURL))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("octopus api returned status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode octopus response", slog.String("url", rawURL), slog.Any("error", err))
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// endpoint builds a REST URL below the API base with the given query.
func (c *Client) endpoint(path string, query url.Values) string {
	u := c.apiURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// parseTime parses the timestamps returned by the API. Empty strings are
// returned as the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// formatTime formats a time the way the API expects in query strings.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
