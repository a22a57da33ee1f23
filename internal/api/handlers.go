package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/webtally/webtally/internal/report"
	"github.com/webtally/webtally/internal/storage"
	"github.com/webtally/webtally/internal/track"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// eventEnvelope is the wire form of a host event: a kind tag plus the
// union of all event fields.
type eventEnvelope struct {
	Kind    string `json:"kind"`
	TabID   int    `json:"tab_id"`
	URL     string `json:"url"`
	Favicon string `json:"favicon"`
	Focused bool   `json:"focused"`
	State   string `json:"state"`
}

func (env eventEnvelope) event() (track.Event, error) {
	switch env.Kind {
	case "activated":
		return track.Activated{TabID: env.TabID, URL: env.URL, Favicon: env.Favicon}, nil
	case "updated":
		return track.Updated{TabID: env.TabID, URL: env.URL, Favicon: env.Favicon}, nil
	case "history_changed":
		return track.HistoryChanged{TabID: env.TabID, URL: env.URL}, nil
	case "focus_changed":
		return track.FocusChanged{Focused: env.Focused, TabID: env.TabID, URL: env.URL, Favicon: env.Favicon}, nil
	case "idle_changed":
		switch track.IdleState(env.State) {
		case track.IdleActive, track.IdleIdle, track.IdleLocked:
			return track.IdleChanged{State: track.IdleState(env.State)}, nil
		default:
			return nil, fmt.Errorf("invalid idle state: %q", env.State)
		}
	case "alarm_fired":
		return track.AlarmFired{}, nil
	case "startup", "installed":
		return track.Startup{}, nil
	default:
		return nil, fmt.Errorf("unknown event kind: %q", env.Kind)
	}
}

// handlePostEvent routes one host event through the tracker and hands the
// resulting actions back to the host for execution.
func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var env eventEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event payload")
		return
	}

	ev, err := env.event()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actions, err := s.tracker.Handle(r.Context(), ev)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", env.Kind).Msg("Failed to handle event")
		writeError(w, http.StatusInternalServerError, "Failed to handle event")
		return
	}

	if actions == nil {
		actions = []track.Action{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"actions": actions,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	rng, err := report.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := s.engine.Aggregate(r.Context(), rng)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to aggregate")
		writeError(w, http.StatusInternalServerError, "Failed to aggregate usage")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	rng, err := report.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	insights, err := s.engine.Insights(r.Context(), rng)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to compute insights")
		writeError(w, http.StatusInternalServerError, "Failed to compute insights")
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func (s *Server) handleSiteAnalysis(w http.ResponseWriter, r *http.Request) {
	d := mux.Vars(r)["domain"]

	analysis, err := s.engine.SiteAnalysis(r.Context(), d)
	if err != nil {
		s.logger.Error().Err(err).Str("domain", d).Msg("Failed to analyze site")
		writeError(w, http.StatusInternalServerError, "Failed to analyze site")
		return
	}
	if analysis == nil {
		writeError(w, http.StatusNotFound, "Domain has never been recorded")
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleTrendMetrics(w http.ResponseWriter, r *http.Request) {
	d := mux.Vars(r)["domain"]
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")
	if start == "" || end == "" {
		writeError(w, http.StatusBadRequest, "start and end query parameters are required (YYYY-MM-DD)")
		return
	}

	trend, err := s.engine.TrendMetrics(r.Context(), d, start, end)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.accessor.Store().Config().GetSettings(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, storage.DefaultSettings())
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get settings")
		writeError(w, http.StatusInternalServerError, "Failed to get settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings storage.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings payload")
		return
	}

	clamped, err := s.accessor.SaveSettings(r.Context(), settings)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to save settings")
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, clamped)
}

func (s *Server) handleGetWhitelist(w http.ResponseWriter, r *http.Request) {
	domains, err := s.accessor.Store().Config().GetWhitelist(r.Context())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error().Err(err).Msg("Failed to get whitelist")
		writeError(w, http.StatusInternalServerError, "Failed to get whitelist")
		return
	}
	if domains == nil {
		domains = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"domains": domains,
		"count":   len(domains),
	})
}

func (s *Server) handleAddWhitelist(w http.ResponseWriter, r *http.Request) {
	d := mux.Vars(r)["domain"]
	if err := s.accessor.AddToWhitelist(r.Context(), d); err != nil {
		s.logger.Error().Err(err).Str("domain", d).Msg("Failed to add to whitelist")
		writeError(w, http.StatusInternalServerError, "Failed to add to whitelist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Domain whitelisted",
	})
}

func (s *Server) handleRemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	d := mux.Vars(r)["domain"]
	if err := s.accessor.RemoveFromWhitelist(r.Context(), d); err != nil {
		s.logger.Error().Err(err).Str("domain", d).Msg("Failed to remove from whitelist")
		writeError(w, http.StatusInternalServerError, "Failed to remove from whitelist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Domain removed from whitelist",
	})
}

func (s *Server) handleGetLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := s.accessor.Store().Config().GetLimits(r.Context())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error().Err(err).Msg("Failed to get limits")
		writeError(w, http.StatusInternalServerError, "Failed to get limits")
		return
	}
	if limits == nil {
		limits = map[string]storage.Limit{}
	}
	writeJSON(w, http.StatusOK, limits)
}

func (s *Server) handlePutLimit(w http.ResponseWriter, r *http.Request) {
	d := mux.Vars(r)["domain"]

	var limit storage.Limit
	if err := json.NewDecoder(r.Body).Decode(&limit); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit payload")
		return
	}
	if limit.TimeLimitMS <= 0 {
		writeError(w, http.StatusBadRequest, "time_limit_ms must be positive")
		return
	}

	if err := s.accessor.SaveLimit(r.Context(), d, &limit); err != nil {
		s.logger.Error().Err(err).Str("domain", d).Msg("Failed to save limit")
		writeError(w, http.StatusInternalServerError, "Failed to save limit")
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (s *Server) handleDeleteLimit(w http.ResponseWriter, r *http.Request) {
	d := mux.Vars(r)["domain"]
	if err := s.accessor.SaveLimit(r.Context(), d, nil); err != nil {
		s.logger.Error().Err(err).Str("domain", d).Msg("Failed to delete limit")
		writeError(w, http.StatusInternalServerError, "Failed to delete limit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Limit removed",
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tracking": state.Tracking(),
		"state":    state,
	})
}
