// Package server exposes the configuration graph over HTTP/JSON, streams
// change events over SSE, and runs a gRPC listener for health checks.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/onix/internal/cmdb"
	"github.com/alfredjeanlab/onix/internal/model"
)

// DefaultChangedBy is recorded when a request carries no X-Changed-By header.
const DefaultChangedBy = "api"

// Server serves a cmdb.Service over HTTP.
type Server struct {
	svc    *cmdb.Service
	hub    *EventHub
	logger *slog.Logger

	maxSnapshotBytes int64
}

// DefaultMaxSnapshotBytes bounds a snapshot restore body.
const DefaultMaxSnapshotBytes = 256 << 20

// New returns a Server. hub may be nil, which disables the event stream.
func New(svc *cmdb.Service, hub *EventHub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, hub: hub, logger: logger, maxSnapshotBytes: DefaultMaxSnapshotBytes}
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// changedBy returns the caller identity recorded on writes.
func changedBy(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Changed-By")); v != "" {
		return v
	}
	return DefaultChangedBy
}

// expectedVersion resolves the optimistic-concurrency token. The If-Match
// header wins over a version in the body.
func expectedVersion(r *http.Request, fromBody *int64) (*int64, error) {
	h := r.Header.Get("If-Match")
	if h == "" {
		return fromBody, nil
	}
	v, err := strconv.ParseInt(strings.Trim(strings.TrimPrefix(h, "W/"), `"`), 10, 64)
	if err != nil || v < 1 {
		return nil, inputError(fmt.Sprintf("invalid If-Match version %q", h))
	}
	return &v, nil
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return inputError("invalid JSON body: " + err.Error())
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error  string             `json:"error"`
	Code   model.Code         `json:"code"`
	Fields []model.FieldError `json:"fields,omitempty"`
}

// codeUnauthenticated is reported by the auth middleware.
const codeUnauthenticated model.Code = "Unauthenticated"

// statusOf maps an error to its HTTP status and outcome code.
func statusOf(err error) (int, model.Code) {
	var ie inputError
	if errors.As(err, &ie) {
		return http.StatusBadRequest, model.CodeInvalidArgument
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, model.CodeStorageFailure
	}
	code := model.CodeOf(err)
	switch code {
	case model.CodeNotFound:
		return http.StatusNotFound, code
	case model.CodeConflict:
		return http.StatusConflict, code
	case model.CodeRuleViolation:
		return http.StatusUnprocessableEntity, code
	case model.CodeInvalidArgument:
		return http.StatusBadRequest, code
	}
	return http.StatusInternalServerError, model.CodeStorageFailure
}

// fail writes err as an error response. Storage failures are logged and
// their detail is withheld from the caller.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	resp := errorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFrom(r.Context()),
			"error", err)
		resp.Error = "internal error"
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = ve.Errors
	}
	writeJSON(w, status, resp)
}

// writeResult writes a mutation outcome. Inserts answer 201 and successful
// writes carry the new version as an ETag.
func writeResult(w http.ResponseWriter, res model.Result) {
	if res.Version > 0 {
		w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(res.Version, 10)))
	}
	status := http.StatusOK
	if res.Outcome == model.OutcomeInserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the code implied by status.
func writeError(w http.ResponseWriter, status int, message string) {
	code := model.CodeStorageFailure
	switch status {
	case http.StatusBadRequest:
		code = model.CodeInvalidArgument
	case http.StatusUnauthorized:
		code = codeUnauthenticated
	case http.StatusNotFound:
		code = model.CodeNotFound
	case http.StatusConflict:
		code = model.CodeConflict
	}
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
