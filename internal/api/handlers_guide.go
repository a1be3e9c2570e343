package api

import (
	"encoding/json"
	"net/http"

	"github.com/pilot-net/alert-relay/internal/types"
)

// handleGetGuide backs GET /troubleshooting-guide?alertType=X: one
// guide by rule name, or every guide when the query is omitted.
func (s *Server) handleGetGuide(guides GuideStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if guides == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no database configured"})
			return
		}

		ruleName := r.URL.Query().Get("alertType")
		if ruleName == "" {
			all, err := guides.ListGuides(r.Context())
			if err != nil {
				s.logger.Error("list guides failed", "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"guides": all})
			return
		}

		guide, err := guides.GetGuide(r.Context(), ruleName)
		if err != nil {
			s.logger.Error("get guide failed", "rule_name", ruleName, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if guide == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no guide configured for " + ruleName})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"guide": guide})
	}
}

type putGuideRequest struct {
	AlertType string `json:"alertType"`
	Content   string `json:"content"`
}

// handlePutGuide backs POST /troubleshooting-guide: upsert by rule
// name. 503 if no database is configured.
func (s *Server) handlePutGuide(guides GuideStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if guides == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no database configured"})
			return
		}

		var req putGuideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
			return
		}
		if req.AlertType == "" || req.Content == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "alertType and content are required"})
			return
		}

		g := types.TroubleshootingGuide{RuleName: req.AlertType, Content: req.Content}
		if err := guides.PutGuide(r.Context(), g); err != nil {
			s.logger.Error("put guide failed", "rule_name", req.AlertType, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
