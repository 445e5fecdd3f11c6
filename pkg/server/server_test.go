package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/octobridge/pkg/entity"
	"github.com/raterudder/octobridge/pkg/sensors"
	"github.com/raterudder/octobridge/pkg/types"
)

const overrideID = "text.octopus_energy_override"

func newTestServer(t *testing.T) (*Server, *mockEntities, *mockIssues, *mockRefresher) {
	now := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	cost := entity.NewBase(entity.PlatformSensor, "octopus_energy_cost", "Cost", "mdi:currency-gbp", true, entity.Metadata{Unit: "GBP", DeviceClass: "monetary"})
	cost.SetState("5.3", map[string]any{"tariff_code": "E-1R-VAR-22-11-01-A"}, now)
	override := entity.NewBase(entity.PlatformText, "octopus_energy_override", "Override", "", false, entity.Metadata{Pattern: "^E-.*$"})

	entities := &mockEntities{list: []entity.Entity{cost, override}}
	issueList := &mockIssues{}
	refresher := &mockRefresher{}
	srv := &Server{
		entities:   entities,
		issues:     issueList,
		refresher:  refresher,
		bypassAuth: true,
		serverName: "octobridge",
	}
	return srv, entities, issueList, refresher
}

func TestEntities(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.setupHandler()

	t.Run("List", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/api/entities", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "octobridge", w.Header().Get("Server"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

		var res []entityResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.Len(t, res, 2)
		assert.Equal(t, "sensor.octopus_energy_cost", res[0].EntityID)
		assert.Equal(t, "5.3", res[0].State)
		assert.Equal(t, "GBP", res[0].Unit)
		assert.Equal(t, "E-1R-VAR-22-11-01-A", res[0].Attributes["tariff_code"])
		assert.NotNil(t, res[0].LastUpdated)
		assert.Equal(t, types.StateUnknown, res[1].State)
		assert.Nil(t, res[1].LastUpdated)
	})

	t.Run("Get", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/api/entities/"+overrideID, nil))
		require.Equal(t, http.StatusOK, w.Code)

		var res entityResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, "text", res.Platform)
		assert.Equal(t, "^E-.*$", res.Pattern)
		assert.False(t, res.EnabledByDefault)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/api/entities/sensor.missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"entity not found"}`, w.Body.String())
	})
}

func TestSetValue(t *testing.T) {
	post := func(h http.Handler, entityID, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("POST", "/api/entities/"+entityID+"/value", strings.NewReader(body)))
		return w
	}

	t.Run("Valid", func(t *testing.T) {
		srv, entities, _, _ := newTestServer(t)
		entities.On("SetValue", mock.Anything, overrideID, "E-1R-AGILE-24-10-01-A").Return(nil)

		w := post(srv.setupHandler(), overrideID, `{"value":"E-1R-AGILE-24-10-01-A"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		entities.AssertExpectations(t)
	})

	t.Run("Invalid", func(t *testing.T) {
		srv, entities, _, _ := newTestServer(t)
		entities.On("SetValue", mock.Anything, overrideID, "E-1R-NOPE-A").
			Return(fmt.Errorf("%w: Failed to find tariff 'E-1R-NOPE-A'", sensors.ErrInvalidValue))

		w := post(srv.setupHandler(), overrideID, `{"value":"E-1R-NOPE-A"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Failed to find tariff 'E-1R-NOPE-A'")
	})

	t.Run("NotText", func(t *testing.T) {
		srv, entities, _, _ := newTestServer(t)
		entities.On("SetValue", mock.Anything, "sensor.octopus_energy_cost", "1").Return(entity.ErrNotText)

		w := post(srv.setupHandler(), "sensor.octopus_energy_cost", `{"value":"1"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("NotFound", func(t *testing.T) {
		srv, entities, _, _ := newTestServer(t)
		entities.On("SetValue", mock.Anything, "text.missing", "x").Return(entity.ErrNotFound)

		w := post(srv.setupHandler(), "text.missing", `{"value":"x"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("MissingValue", func(t *testing.T) {
		srv, entities, _, _ := newTestServer(t)
		w := post(srv.setupHandler(), overrideID, `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		entities.AssertNotCalled(t, "SetValue", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Failure", func(t *testing.T) {
		srv, entities, _, _ := newTestServer(t)
		entities.On("SetValue", mock.Anything, overrideID, "E-1R-AGILE-24-10-01-A").Return(errors.New("octopus down"))

		w := post(srv.setupHandler(), overrideID, `{"value":"E-1R-AGILE-24-10-01-A"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "octopus down")
	})
}

func TestAuthMiddleware(t *testing.T) {
	srv, _, _, refresher := newTestServer(t)
	srv.bypassAuth = false
	srv.adminEmails = []string{"admin@example.com"}
	srv.verifyToken = func(ctx context.Context, rawIDToken string) (string, error) {
		switch rawIDToken {
		case "admin-token":
			return "admin@example.com", nil
		case "user-token":
			return "user@example.com", nil
		}
		return "", assert.AnError
	}
	refresher.On("Refresh", mock.Anything).Return(nil)
	h := srv.setupHandler()

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"Missing", "", http.StatusUnauthorized},
		{"NotBearer", "Basic abc", http.StatusUnauthorized},
		{"InvalidToken", "Bearer bad", http.StatusUnauthorized},
		{"NotAdmin", "Bearer user-token", http.StatusForbidden},
		{"Admin", "Bearer admin-token", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/refresh", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
		})
	}
	refresher.AssertNumberOfCalls(t, "Refresh", 1)

	t.Run("ReadsDoNotNeedAuth", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/api/entities", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestVerifiedEmail(t *testing.T) {
	email, err := idTokenClaims{Email: "admin@example.com", EmailVerified: true}.verifiedEmail()
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", email)

	_, err = idTokenClaims{Email: "admin@example.com"}.verifiedEmail()
	assert.ErrorContains(t, err, "not verified")

	_, err = idTokenClaims{EmailVerified: true}.verifiedEmail()
	assert.ErrorContains(t, err, "no email")
}

func TestSecurityHeaders(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.setupHandler()

	t.Run("PlainHTTP", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/api/entities", nil))
		assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	})

	t.Run("TLS", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "https://octobridge.local/api/entities", nil))
		assert.Equal(t, "max-age=63072000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
	})

	t.Run("ForwardedHTTPS", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/entities", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
	})
}

func TestIssues(t *testing.T) {
	srv, _, issueList, _ := newTestServer(t)
	issueList.On("List", mock.Anything).Return([]types.Issue{{
		Domain:   "octopus_energy",
		Key:      "cost_override_obsolete_21L0000001_1000000000001",
		Severity: types.IssueSeverityError,
		Title:    "Cost override obsolete",
	}}, nil).Once()
	issueList.On("List", mock.Anything).Return(nil, nil).Once()
	h := srv.setupHandler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/issues", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var res []types.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res, 1)
	assert.Equal(t, types.IssueSeverityError, res[0].Severity)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/issues", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestRefresh(t *testing.T) {
	srv, _, _, refresher := newTestServer(t)
	refresher.On("Refresh", mock.Anything).Return(errors.New("status: 503"))

	w := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, httptest.NewRequest("POST", "/api/refresh", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	db := &mockHealthChecker{}
	srv.checks = map[string]HealthChecker{"storage": db}

	db.On("HealthCheck", mock.Anything).Return(nil).Once()
	w := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	db.On("HealthCheck", mock.Anything).Return(errors.New("database is locked")).Once()
	w = httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "storage: database is locked")
}
