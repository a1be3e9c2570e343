package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pilot-net/alert-relay/internal/config"
)

// handleReload backs GET|POST /reload: re-read the config file and
// return the entry count, or a structured failure without touching the
// cache.
func (s *Server) handleReload(cfgSvc ConfigService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := cfgSvc.Reload(r.Context())
		if err != nil {
			s.logger.Warn("reload failed", "error", err)
			writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entries": entries})
	}
}

// handleGetConfig backs GET /get-config.
func (s *Server) handleGetConfig(cfgSvc ConfigService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"config": cfgSvc.Snapshot()})
	}
}

// handlePushConfig backs POST /push-config: validate, persist, cache.
// 200 on success, 400 on a validation failure, 500 on a persistence
// failure.
func (s *Server) handlePushConfig(cfgSvc ConfigService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json body"})
			return
		}

		err := cfgSvc.Push(r.Context(), raw)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		case errors.Is(err, config.ErrInvalidConfig):
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		default:
			s.logger.Error("push-config persist failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		}
	}
}
