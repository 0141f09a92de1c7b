package server

import (
	"net/http"

	"github.com/alfredjeanlab/onix/internal/model"
)

// putItemRequest is the JSON body for PUT /v1/items/{key}.
type putItemRequest struct {
	model.ItemInput
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// handlePutItem handles PUT /v1/items/{key}.
func (s *Server) handlePutItem(w http.ResponseWriter, r *http.Request) {
	var req putItemRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ev, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.svc.PutItem(r.Context(), r.PathValue("key"), req.ItemInput, ev, changedBy(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleGetItem handles GET /v1/items/{key}. The item carries its incident
// links.
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.svc.GetItem(r.Context(), r.PathValue("key"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleDeleteItem handles DELETE /v1/items/{key}. Incident links are
// deleted with the item.
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DeleteItem(r.Context(), r.PathValue("key"), changedBy(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleFindItems handles GET /v1/items.
func (s *Server) handleFindItems(w http.ResponseWriter, r *http.Request) {
	filter, err := parseItemFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.svc.FindItems(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleIncidentLinks handles GET /v1/items/{key}/links.
func (s *Server) handleIncidentLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.svc.IncidentLinks(r.Context(), r.PathValue("key"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}
