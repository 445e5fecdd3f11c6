package octopus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/types"
)

// tokenRefreshBuffer refreshes the kraken token this long before it expires.
const tokenRefreshBuffer = 5 * time.Minute

// tokenFallbackTTL is used when the token payload carries no expiry.
const tokenFallbackTTL = 55 * time.Minute

const krakenTokenMutation = `mutation krakenTokenAuthentication($apiKey: String!) {
	obtainKrakenToken(input: {APIKey: $apiKey}) {
		token
		payload
	}
}`

const savingSessionsQuery = `query savingSessions($accountNumber: String!) {
	savingSessions {
		events {
			id
			code
			rewardPerKwhInOctoPoints
			startAt
			endAt
		}
		account(accountNumber: $accountNumber) {
			hasJoinedCampaign
			joinedEvents {
				eventId
				startAt
				endAt
				rewardGivenInOctoPoints
			}
		}
	}
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		ErrorCode string `json:"errorCode"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// authError reports whether the GraphQL errors indicate an expired or invalid token.
func authError(errs []graphQLError) bool {
	for _, e := range errs {
		switch e.Extensions.ErrorCode {
		case "KT-CT-1124", "KT-CT-1139", "KT-CT-1111":
			return true
		}
		if strings.Contains(e.Message, "JWT") {
			return true
		}
	}
	return false
}

// doGraphQL posts a query. When authenticated is true the kraken token is sent
// and, on an auth error, refreshed once.
func (c *Client) doGraphQL(ctx context.Context, query string, variables map[string]any, authenticated bool, res any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal graphql request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "POST", c.graphqlURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if authenticated {
			token, err := c.krakenToken(ctx)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to execute graphql request: %w", err)
		}
		var gr graphQLResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&gr)
		resp.Body.Close()

		unauthorized := resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
		if authenticated && attempt == 0 && (unauthorized || (decodeErr == nil && authError(gr.Errors))) {
			log.Ctx(ctx).InfoContext(ctx, "kraken token rejected, refreshing", slog.Int("status", resp.StatusCode))
			c.invalidateToken()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("octopus graphql returned status: %d", resp.StatusCode)
		}
		if decodeErr != nil {
			return fmt.Errorf("failed to decode graphql response: %w", decodeErr)
		}
		if len(gr.Errors) > 0 {
			return fmt.Errorf("octopus graphql error: %s", gr.Errors[0].Message)
		}
		if err := json.Unmarshal(gr.Data, res); err != nil {
			return fmt.Errorf("failed to decode graphql data: %w", err)
		}
		return nil
	}
}

// krakenToken returns a cached token or obtains a new one.
func (c *Client) krakenToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && c.now().Add(tokenRefreshBuffer).Before(c.tokenExpiry) {
		return c.token, nil
	}

	var res struct {
		ObtainKrakenToken struct {
			Token   string `json:"token"`
			Payload struct {
				Exp int64 `json:"exp"`
			} `json:"payload"`
		} `json:"obtainKrakenToken"`
	}
	if err := c.doGraphQL(ctx, krakenTokenMutation, map[string]any{"apiKey": c.apiKey}, false, &res); err != nil {
		return "", fmt.Errorf("failed to obtain kraken token: %w", err)
	}
	if res.ObtainKrakenToken.Token == "" {
		return "", fmt.Errorf("failed to obtain kraken token: empty token")
	}

	c.token = res.ObtainKrakenToken.Token
	if exp := res.ObtainKrakenToken.Payload.Exp; exp > 0 {
		c.tokenExpiry = time.Unix(exp, 0)
	} else {
		c.tokenExpiry = c.now().Add(tokenFallbackTTL)
	}
	log.Ctx(ctx).DebugContext(ctx, "obtained kraken token", slog.Time("expiry", c.tokenExpiry))
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.tokenMu.Unlock()
}

type savingSessionsResponse struct {
	SavingSessions struct {
		Events []struct {
			ID                       int    `json:"id"`
			Code                     string `json:"code"`
			RewardPerKwhInOctoPoints int    `json:"rewardPerKwhInOctoPoints"`
			StartAt                  string `json:"startAt"`
			EndAt                    string `json:"endAt"`
		} `json:"events"`
		Account struct {
			HasJoinedCampaign bool `json:"hasJoinedCampaign"`
			JoinedEvents      []struct {
				EventID                 int    `json:"eventId"`
				StartAt                 string `json:"startAt"`
				EndAt                   string `json:"endAt"`
				RewardGivenInOctoPoints int    `json:"rewardGivenInOctoPoints"`
			} `json:"joinedEvents"`
		} `json:"account"`
	} `json:"savingSessions"`
}

// GetSavingSessions returns the available saving sessions and the ones the
// account has joined.
func (c *Client) GetSavingSessions(ctx context.Context) (types.SavingSessionsResult, error) {
	var res savingSessionsResponse
	if err := c.doGraphQL(ctx, savingSessionsQuery, map[string]any{"accountNumber": c.accountID}, true, &res); err != nil {
		return types.SavingSessionsResult{}, fmt.Errorf("failed to get saving sessions: %w", err)
	}

	result := types.SavingSessionsResult{
		LastRetrieved: c.now(),
		HasJoined:     res.SavingSessions.Account.HasJoinedCampaign,
	}
	for _, e := range res.SavingSessions.Events {
		start, err := parseTime(e.StartAt)
		if err != nil {
			return types.SavingSessionsResult{}, fmt.Errorf("invalid saving session start (%s): %w", e.StartAt, err)
		}
		end, err := parseTime(e.EndAt)
		if err != nil {
			return types.SavingSessionsResult{}, fmt.Errorf("invalid saving session end (%s): %w", e.EndAt, err)
		}
		result.AvailableEvents = append(result.AvailableEvents, types.SavingSession{
			ID:         e.ID,
			Code:       e.Code,
			Start:      start,
			End:        end,
			OctoPoints: e.RewardPerKwhInOctoPoints,
		})
	}
	for _, e := range res.SavingSessions.Account.JoinedEvents {
		start, err := parseTime(e.StartAt)
		if err != nil {
			return types.SavingSessionsResult{}, fmt.Errorf("invalid joined session start (%s): %w", e.StartAt, err)
		}
		end, err := parseTime(e.EndAt)
		if err != nil {
			return types.SavingSessionsResult{}, fmt.Errorf("invalid joined session end (%s): %w", e.EndAt, err)
		}
		result.JoinedEvents = append(result.JoinedEvents, types.SavingSession{
			ID:         e.EventID,
			Start:      start,
			End:        end,
			OctoPoints: e.RewardGivenInOctoPoints,
		})
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"got saving sessions",
		slog.Int("available", len(result.AvailableEvents)),
		slog.Int("joined", len(result.JoinedEvents)),
	)
	return result, nil
}
