package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/onix/internal/cmdb"
	"github.com/alfredjeanlab/onix/internal/events"
	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/schema"
	"github.com/alfredjeanlab/onix/internal/server"
	"github.com/alfredjeanlab/onix/internal/store/memory"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method    string
	path      string
	rawPath   string
	query     url.Values
	body      string
	ifMatch   string
	changedBy string
	auth      string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.EscapedPath()
	h.query = r.URL.Query()
	h.ifMatch = r.Header.Get("If-Match")
	h.changedBy = r.Header.Get("X-Changed-By")
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(t *testing.T, h http.Handler, token string) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", token)
}

// newLiveClient creates an HTTPClient backed by a real server over an
// in-memory store.
func newLiveClient(t *testing.T) *HTTPClient {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := cmdb.New(memory.New(), cmdb.WithLogger(logger))
	h := server.New(svc, nil, logger).NewHTTPHandler("secret")
	return newTestClient(t, h, "secret")
}

func TestHTTPClient_PutItemRequest(t *testing.T) {
	h := &testHandler{statusCode: http.StatusCreated, responseBody: `{"result":"I","version":1}`}
	c := newTestClient(t, h, "tok")

	typ := "host"
	ev := int64(3)
	res, err := c.PutItem(context.Background(), "web 01", model.ItemInput{ItemTypeKey: &typ}, &ev, "alice")
	if err != nil {
		t.Fatalf("PutItem: %v", err)
	}
	if res.Outcome != model.OutcomeInserted || res.Version != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if h.method != http.MethodPut || h.path != "/v1/items/web 01" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.rawPath != "/v1/items/web%2001" {
		t.Errorf("key not path-escaped: %q", h.rawPath)
	}
	if h.ifMatch != `"3"` {
		t.Errorf("If-Match = %q, want %q", h.ifMatch, `"3"`)
	}
	if h.changedBy != "alice" {
		t.Errorf("X-Changed-By = %q", h.changedBy)
	}
	if h.auth != "Bearer tok" {
		t.Errorf("Authorization = %q", h.auth)
	}
	if !strings.Contains(h.body, `"item_type_key":"host"`) {
		t.Errorf("body = %s", h.body)
	}
}

func TestHTTPClient_FindItemsQuery(t *testing.T) {
	h := &testHandler{responseBody: `{"results":[{"key":"a"}],"total":7,"top":1}`}
	c := newTestClient(t, h, "")

	status := int16(2)
	day := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	page, err := c.FindItems(context.Background(), model.ItemFilter{
		ItemTypeKey: "host",
		Status:      &status,
		Tags:        []string{"prod", "eu"},
		Attributes:  map[string]string{"os": "linux"},
		UpdatedFrom: &day,
		Top:         1,
	})
	if err != nil {
		t.Fatalf("FindItems: %v", err)
	}
	if page.Total != 7 || len(page.Results) != 1 || page.Results[0].Key != "a" {
		t.Fatalf("unexpected page %+v", page)
	}

	for name, want := range map[string]string{
		"type":         "host",
		"status":       "2",
		"attr":         "os=linux",
		"updated_from": "2024-05-01",
		"top":          "1",
	} {
		if got := h.query.Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if tags := h.query["tag"]; len(tags) != 2 {
		t.Errorf("tag = %v", tags)
	}
	if h.query.Has("created_from") {
		t.Error("unset filters should not be sent")
	}
}

func TestHTTPClient_APIError(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusBadRequest,
		responseBody: `{"error":"validation failed","code":"InvalidArgument","fields":[{"field":"item_type_key","message":"is required"}]}`,
	}
	c := newTestClient(t, h, "")

	_, err := c.PutItem(context.Background(), "x", model.ItemInput{}, nil, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != 400 || len(apiErr.Fields) != 1 {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatal("expected error to match ErrInvalidArgument")
	}
	if h.changedBy != "" || h.ifMatch != "" {
		t.Errorf("unexpected headers: changed_by=%q if_match=%q", h.changedBy, h.ifMatch)
	}
}

func TestHTTPClient_NonJSONError(t *testing.T) {
	h := &testHandler{statusCode: http.StatusBadGateway, responseBody: "upstream down"}
	c := newTestClient(t, h, "")

	_, err := c.Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "upstream down" {
		t.Fatalf("expected raw body message, got %v", err)
	}
	if apiErr.Unwrap() != nil {
		t.Fatal("uncoded error should not unwrap")
	}
}

func TestHTTPClient_AgainstServer(t *testing.T) {
	c := newLiveClient(t)
	ctx := context.Background()

	if status, err := c.Health(ctx); err != nil || status != "ok" {
		t.Fatalf("Health = %q, %v", status, err)
	}

	m, err := schema.Parse([]byte(`
version: "1"
item_types:
  host:
    attribute_validation:
      os: {allowed_values: [linux, windows]}
  app: {}
link_types:
  runs-on: {}
link_rules:
  app-runs-on-host:
    link_type: runs-on
    start: app
    end: host
    cardinality: many-to-one
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := schema.Apply(ctx, c, m, "ci"); err != nil {
		t.Fatalf("Apply over HTTP: %v", err)
	}

	host, app := "host", "app"
	if _, err := c.PutItem(ctx, "web-01", model.ItemInput{ItemTypeKey: &host}, nil, "ci"); err != nil {
		t.Fatalf("PutItem: %v", err)
	}
	if _, err := c.PutItem(ctx, "billing", model.ItemInput{ItemTypeKey: &app}, nil, "ci"); err != nil {
		t.Fatalf("PutItem: %v", err)
	}
	res, err := c.PutItem(ctx, "web-01", model.ItemInput{ItemTypeKey: &host}, nil, "ci")
	if err != nil || res.Outcome != model.OutcomeNoAction {
		t.Fatalf("repeat PutItem = %+v, %v", res, err)
	}

	stale := int64(7)
	name := "Web"
	if _, err := c.PutItem(ctx, "web-01", model.ItemInput{Name: &name}, &stale, "ci"); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("stale write: expected ErrConflict, got %v", err)
	}

	if _, err := c.PutLink(ctx, "l1", model.LinkInput{LinkTypeKey: "runs-on", StartItemKey: "web-01", EndItemKey: "billing"}, nil, "ci"); !errors.Is(err, model.ErrRuleViolation) {
		t.Fatalf("backwards link: expected ErrRuleViolation, got %v", err)
	}
	if _, err := c.PutLink(ctx, "l1", model.LinkInput{LinkTypeKey: "runs-on", StartItemKey: "billing", EndItemKey: "web-01"}, nil, "ci"); err != nil {
		t.Fatalf("PutLink: %v", err)
	}

	links, err := c.IncidentLinks(ctx, "web-01")
	if err != nil || len(links) != 1 {
		t.Fatalf("IncidentLinks = %v, %v", links, err)
	}

	allowed, err := c.IsLinkAllowed(ctx, "app", "runs-on", "host")
	if err != nil || !allowed {
		t.Fatalf("IsLinkAllowed = %v, %v", allowed, err)
	}

	errs, err := c.ValidateAttributes(ctx, "host", map[string]string{"os": "plan9"})
	if err != nil || len(errs) != 1 {
		t.Fatalf("ValidateAttributes = %v, %v", errs, err)
	}

	recs, err := c.FindAudit(ctx, model.AuditFilter{EntityKind: model.EntityLink})
	if err != nil || len(recs) != 1 || recs[0].ChangedBy != "ci" {
		t.Fatalf("FindAudit = %v, %v", recs, err)
	}

	var snap bytes.Buffer
	if err := c.ExportSnapshot(ctx, &snap); err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if err := c.Clear(ctx, "ci"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := c.GetItem(ctx, "web-01"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("after clear: expected ErrNotFound, got %v", err)
	}
	counts, err := c.RestoreSnapshot(ctx, &snap, "ci")
	if err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}
	if counts.Items != 2 || counts.Links != 1 || counts.LinkRules != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}

	it, err := c.GetItem(ctx, "web-01")
	if err != nil || len(it.Links) != 1 {
		t.Fatalf("GetItem after restore = %+v, %v", it, err)
	}

	exported, err := schema.Export(ctx, c)
	if err != nil {
		t.Fatalf("Export over HTTP: %v", err)
	}
	if len(exported.ItemTypes) != 2 || len(exported.LinkRules) != 1 {
		t.Fatalf("unexpected manifest %+v", exported)
	}
}

func TestHTTPClient_BadToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := cmdb.New(memory.New(), cmdb.WithLogger(logger))
	c := newTestClient(t, server.New(svc, nil, logger).NewHTTPHandler("secret"), "wrong")

	_, err := c.ListItemTypes(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHTTPClient_StreamEvents(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("topics"); got != "onix.item.*" {
			t.Errorf("topics = %q", got)
		}
		if got := r.Header.Get("Last-Event-ID"); got != "4" {
			t.Errorf("Last-Event-ID = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": keepalive\n\n")
		_, _ = io.WriteString(w, "id:5\nevent:onix.item.created\ndata:{\"key\":\"a\"}\n\n")
		_, _ = io.WriteString(w, "id:6\nevent:onix.item.deleted\ndata:{\"key\":\"b\"}\n\n")
	})
	c := newTestClient(t, h, "")

	var got []string
	var last string
	err := c.StreamEvents(context.Background(), []string{"onix.item.*"}, "4", func(m events.Message) error {
		got = append(got, m.Topic+" "+string(m.Data))
		last = m.ID
		return nil
	})
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}
	want := []string{`onix.item.created {"key":"a"}`, `onix.item.deleted {"key":"b"}`}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %q, want %q", got, want)
	}
	if last != "6" {
		t.Errorf("last ID = %q, want 6", last)
	}
}
