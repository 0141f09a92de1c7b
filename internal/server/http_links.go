package server

import (
	"net/http"

	"github.com/alfredjeanlab/onix/internal/model"
)

// putLinkRequest is the JSON body for PUT /v1/links/{key}.
type putLinkRequest struct {
	model.LinkInput
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// handlePutLink handles PUT /v1/links/{key}.
func (s *Server) handlePutLink(w http.ResponseWriter, r *http.Request) {
	var req putLinkRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ev, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.svc.PutLink(r.Context(), r.PathValue("key"), req.LinkInput, ev, changedBy(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleGetLink handles GET /v1/links/{key}.
func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.svc.GetLink(r.Context(), r.PathValue("key"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// handleDeleteLink handles DELETE /v1/links/{key}.
func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DeleteLink(r.Context(), r.PathValue("key"), changedBy(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleFindLinks handles GET /v1/links.
func (s *Server) handleFindLinks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLinkFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.svc.FindLinks(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
