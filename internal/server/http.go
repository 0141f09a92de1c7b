package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/alfredjeanlab/onix/internal/model"
	graphsync "github.com/alfredjeanlab/onix/internal/sync"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /v1/items/{key}", s.handlePutItem)
	mux.HandleFunc("GET /v1/items/{key}", s.handleGetItem)
	mux.HandleFunc("DELETE /v1/items/{key}", s.handleDeleteItem)
	mux.HandleFunc("GET /v1/items", s.handleFindItems)
	mux.HandleFunc("GET /v1/items/{key}/links", s.handleIncidentLinks)
	mux.HandleFunc("PUT /v1/links/{key}", s.handlePutLink)
	mux.HandleFunc("GET /v1/links/{key}", s.handleGetLink)
	mux.HandleFunc("DELETE /v1/links/{key}", s.handleDeleteLink)
	mux.HandleFunc("GET /v1/links", s.handleFindLinks)
	mux.HandleFunc("PUT /v1/itemtypes/{key}", s.handleDefineItemType)
	mux.HandleFunc("GET /v1/itemtypes/{key}", s.handleGetItemType)
	mux.HandleFunc("DELETE /v1/itemtypes/{key}", s.handleDeleteItemType)
	mux.HandleFunc("GET /v1/itemtypes", s.handleListItemTypes)
	mux.HandleFunc("DELETE /v1/itemtypes", s.handleDeleteItemTypes)
	mux.HandleFunc("POST /v1/itemtypes/{key}/validate", s.handleValidateAttributes)
	mux.HandleFunc("PUT /v1/linktypes/{key}", s.handleDefineLinkType)
	mux.HandleFunc("GET /v1/linktypes/{key}", s.handleGetLinkType)
	mux.HandleFunc("DELETE /v1/linktypes/{key}", s.handleDeleteLinkType)
	mux.HandleFunc("GET /v1/linktypes", s.handleListLinkTypes)
	mux.HandleFunc("DELETE /v1/linktypes", s.handleDeleteLinkTypes)
	mux.HandleFunc("PUT /v1/linkrules/{key}", s.handleDefineLinkRule)
	mux.HandleFunc("GET /v1/linkrules/{key}", s.handleGetLinkRule)
	mux.HandleFunc("DELETE /v1/linkrules/{key}", s.handleDeleteLinkRule)
	mux.HandleFunc("GET /v1/linkrules", s.handleListLinkRules)
	mux.HandleFunc("DELETE /v1/linkrules", s.handleDeleteLinkRules)
	mux.HandleFunc("GET /v1/linkrules/allowed", s.handleIsLinkAllowed)
	mux.HandleFunc("GET /v1/audit", s.handleFindAudit)
	mux.HandleFunc("POST /v1/admin/clear", s.handleClear)
	mux.HandleFunc("GET /v1/admin/snapshot", s.handleExportSnapshot)
	mux.HandleFunc("PUT /v1/admin/snapshot", s.handleRestoreSnapshot)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return RequestIDMiddleware(AccessLogMiddleware(s.logger, AuthMiddleware(authToken, mux)))
}

// handleHealth handles GET /v1/health. It answers 503 when the store cannot
// be read.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := ProbeStore(r.Context(), s.svc.Store()); err != nil {
		s.logger.Warn("health probe failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleClear handles POST /v1/admin/clear.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearAll(r.Context(), changedBy(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Result{Outcome: model.OutcomeDeleted})
}

// handleExportSnapshot handles GET /v1/admin/snapshot and streams the graph
// as JSONL.
func (s *Server) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := graphsync.ExportJSONL(r.Context(), s.svc.Store(), &buf); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleRestoreSnapshot handles PUT /v1/admin/snapshot. The body replaces the
// whole graph. It is read in full before the store is touched.
func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxSnapshotBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: fmt.Sprintf("snapshot exceeds %d bytes", tooLarge.Limit),
				Code:  model.CodeInvalidArgument,
			})
			return
		}
		writeError(w, http.StatusBadRequest, "read snapshot: "+err.Error())
		return
	}
	counts, err := graphsync.ImportJSONL(r.Context(), s.svc.Store(), bytes.NewReader(data))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("snapshot restored",
		"changed_by", changedBy(r),
		"items", counts.Items,
		"links", counts.Links)
	writeJSON(w, http.StatusOK, counts)
}
