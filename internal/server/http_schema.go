package server

import (
	"net/http"

	"github.com/alfredjeanlab/onix/internal/model"
)

type defineItemTypeRequest struct {
	model.ItemTypeInput
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type defineLinkTypeRequest struct {
	model.LinkTypeInput
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type defineLinkRuleRequest struct {
	model.LinkRuleInput
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// validateRequest is the JSON body for POST /v1/itemtypes/{key}/validate.
type validateRequest struct {
	Attributes map[string]string `json:"attributes"`
}

// handleDefineItemType handles PUT /v1/itemtypes/{key}.
func (s *Server) handleDefineItemType(w http.ResponseWriter, r *http.Request) {
	var req defineItemTypeRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ev, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.DefineItemType(r.Context(), r.PathValue("key"), req.ItemTypeInput, ev, changedBy(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleGetItemType handles GET /v1/itemtypes/{key}.
func (s *Server) handleGetItemType(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.GetItemType(r.Context(), r.PathValue("key"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteItemType handles DELETE /v1/itemtypes/{key}.
func (s *Server) handleDeleteItemType(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DeleteItemType(r.Context(), r.PathValue("key"), changedBy(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleListItemTypes handles GET /v1/itemtypes.
func (s *Server) handleListItemTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.svc.ListItemTypes(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if types == nil {
		types = []*model.ItemType{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_types": types})
}

// handleDeleteItemTypes handles DELETE /v1/itemtypes.
func (s *Server) handleDeleteItemTypes(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DeleteItemTypes(r.Context(), changedBy(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleValidateAttributes handles POST /v1/itemtypes/{key}/validate.
func (s *Server) handleValidateAttributes(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	errs, err := s.svc.ValidateAttributes(r.Context(), r.PathValue("key"), req.Attributes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if errs == nil {
		errs = []model.FieldError{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": len(errs) == 0, "errors": errs})
}

// handleDefineLinkType handles PUT /v1/linktypes/{key}.
func (s *Server) handleDefineLinkType(w http.ResponseWriter, r *http.Request) {
	var req defineLinkTypeRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ev, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.DefineLinkType(r.Context(), r.PathValue("key"), req.LinkTypeInput, ev, changedBy(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleGetLinkType handles GET /v1/linktypes/{key}.
func (s *Server) handleGetLinkType(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.GetLinkType(r.Context(), r.PathValue("key"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteLinkType handles DELETE /v1/linktypes/{key}.
func (s *Server) handleDeleteLinkType(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DeleteLinkType(r.Context(), r.PathValue("key"), changedBy(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleListLinkTypes handles GET /v1/linktypes.
func (s *Server) handleListLinkTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.svc.ListLinkTypes(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if types == nil {
		types = []*model.LinkType{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"link_types": types})
}

// handleDeleteLinkTypes handles DELETE /v1/linktypes.
func (s *Server) handleDeleteLinkTypes(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DeleteLinkTypes(r.Context(), changedBy(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleDefineLinkRule handles PUT /v1/linkrules/{key}.
func (s *Server) handleDefineLinkRule(w http.ResponseWriter, r *http.Request) {
	var req defineLinkRuleRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ev, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.DefineLinkRule(r.Context(), r.PathValue("key"), req.LinkRuleInput, ev, changedBy(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleGetLinkRule handles GET /v1/linkrules/{key}.
func (s *Server) handleGetLinkRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.svc.GetLinkRule(r.Context(), r.PathValue("key"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleDeleteLinkRule handles DELETE /v1/linkrules/{key}.
func (s *Server) handleDeleteLinkRule(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DeleteLinkRule(r.Context(), r.PathValue("key"), changedBy(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleListLinkRules handles GET /v1/linkrules?link_type=...
func (s *Server) handleListLinkRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.svc.ListLinkRules(r.Context(), r.URL.Query().Get("link_type"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rules == nil {
		rules = []*model.LinkRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"link_rules": rules})
}

// handleDeleteLinkRules handles DELETE /v1/linkrules.
func (s *Server) handleDeleteLinkRules(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DeleteLinkRules(r.Context(), changedBy(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

// handleIsLinkAllowed handles GET /v1/linkrules/allowed?start=&type=&end=.
func (s *Server) handleIsLinkAllowed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, linkType, end := q.Get("start"), q.Get("type"), q.Get("end")
	if start == "" || linkType == "" || end == "" {
		writeError(w, http.StatusBadRequest, "start, type and end are required")
		return
	}
	ok, err := s.svc.IsLinkAllowed(r.Context(), start, linkType, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": ok})
}
