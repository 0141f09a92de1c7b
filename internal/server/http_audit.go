package server

import (
	"net/http"
)

// handleFindAudit handles GET /v1/audit.
func (s *Server) handleFindAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	recs, err := s.svc.FindAudit(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": recs})
}
