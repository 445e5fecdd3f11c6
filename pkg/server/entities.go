package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/octobridge/pkg/entity"
	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/sensors"
	"github.com/raterudder/octobridge/pkg/types"
)

type entityResponse struct {
	EntityID         string         `json:"entityID"`
	UniqueID         string         `json:"uniqueID"`
	Name             string         `json:"name"`
	Platform         string         `json:"platform"`
	Icon             string         `json:"icon,omitempty"`
	EnabledByDefault bool           `json:"enabledByDefault"`
	Unit             string         `json:"unit,omitempty"`
	DeviceClass      string         `json:"deviceClass,omitempty"`
	StateClass       string         `json:"stateClass,omitempty"`
	Pattern          string         `json:"pattern,omitempty"`
	State            string         `json:"state"`
	Attributes       map[string]any `json:"attributes"`
	LastUpdated      *time.Time     `json:"lastUpdated,omitempty"`
}

func newEntityResponse(e entity.Entity) entityResponse {
	state := e.State()
	md := e.Metadata()
	res := entityResponse{
		EntityID:         e.EntityID(),
		UniqueID:         e.UniqueID(),
		Name:             e.Name(),
		Platform:         string(e.Platform()),
		Icon:             e.Icon(),
		EnabledByDefault: e.EnabledByDefault(),
		Unit:             md.Unit,
		DeviceClass:      md.DeviceClass,
		StateClass:       md.StateClass,
		Pattern:          md.Pattern,
		State:            state.State,
		Attributes:       state.Attributes,
	}
	if res.Attributes == nil {
		res.Attributes = map[string]any{}
	}
	if !state.LastUpdated.IsZero() {
		res.LastUpdated = &state.LastUpdated
	}
	return res
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	list := s.entities.List()
	res := make([]entityResponse, 0, len(list))
	for _, e := range list {
		res = append(res, newEntityResponse(e))
	}
	writeJSON(w, res)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entities.Get(r.PathValue("entityID"))
	if !ok {
		writeJSONError(w, "entity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, newEntityResponse(e))
}

func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityID := r.PathValue("entityID")
	ctx = log.WithAttrs(ctx, slog.String("entityID", entityID))

	var req struct {
		Value *string `json:"value"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Value == nil {
		writeJSONError(w, "value is required", http.StatusBadRequest)
		return
	}

	err = s.entities.SetValue(ctx, entityID, *req.Value)
	switch {
	case err == nil:
	case errors.Is(err, entity.ErrNotFound):
		writeJSONError(w, "entity not found", http.StatusNotFound)
		return
	case errors.Is(err, entity.ErrNotText):
		writeJSONError(w, "entity does not accept values", http.StatusBadRequest)
		return
	case errors.Is(err, sensors.ErrInvalidValue):
		log.Ctx(ctx).InfoContext(ctx, "rejected value", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	default:
		log.Ctx(ctx).ErrorContext(ctx, "failed to set value", slog.Any("error", err))
		writeJSONError(w, "failed to set value", http.StatusInternalServerError)
		return
	}

	e, ok := s.entities.Get(entityID)
	if !ok {
		writeJSONError(w, "entity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, newEntityResponse(e))
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := s.issues.List(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list issues", slog.Any("error", err))
		writeJSONError(w, "failed to list issues", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []types.Issue{}
	}
	writeJSON(w, list)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.refresher.Refresh(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to refresh", slog.Any("error", err))
		writeJSONError(w, "failed to refresh", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
