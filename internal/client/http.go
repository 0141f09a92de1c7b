package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/onix/internal/cmdb"
	"github.com/alfredjeanlab/onix/internal/model"
	graphsync "github.com/alfredjeanlab/onix/internal/sync"
)

// HTTPClient implements Client using the onix HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Items ---

func (c *HTTPClient) PutItem(ctx context.Context, key string, in model.ItemInput, expectedVersion *int64, changedBy string) (model.Result, error) {
	return c.put(ctx, "/v1/items/"+url.PathEscape(key), in, expectedVersion, changedBy)
}

func (c *HTTPClient) GetItem(ctx context.Context, key string) (*model.Item, error) {
	var it model.Item
	if err := c.doJSON(ctx, http.MethodGet, "/v1/items/"+url.PathEscape(key), nil, nil, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (c *HTTPClient) DeleteItem(ctx context.Context, key, changedBy string) (model.Result, error) {
	return c.delete(ctx, "/v1/items/"+url.PathEscape(key), changedBy)
}

func (c *HTTPClient) FindItems(ctx context.Context, filter model.ItemFilter) (*cmdb.Page[*model.Item], error) {
	q := url.Values{}
	setString(q, "type", filter.ItemTypeKey)
	if filter.Status != nil {
		q.Set("status", strconv.Itoa(int(*filter.Status)))
	}
	setCommon(q, filter.Tags, filter.Attributes, filter.Top)
	setDate(q, "created_from", filter.CreatedFrom)
	setDate(q, "created_to", filter.CreatedTo)
	setDate(q, "updated_from", filter.UpdatedFrom)
	setDate(q, "updated_to", filter.UpdatedTo)

	var page cmdb.Page[*model.Item]
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/items", q), nil, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) IncidentLinks(ctx context.Context, itemKey string) ([]*model.Link, error) {
	var resp struct {
		Links []*model.Link `json:"links"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/items/"+url.PathEscape(itemKey)+"/links", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Links, nil
}

// --- Links ---

func (c *HTTPClient) PutLink(ctx context.Context, key string, in model.LinkInput, expectedVersion *int64, changedBy string) (model.Result, error) {
	return c.put(ctx, "/v1/links/"+url.PathEscape(key), in, expectedVersion, changedBy)
}

func (c *HTTPClient) GetLink(ctx context.Context, key string) (*model.Link, error) {
	var l model.Link
	if err := c.doJSON(ctx, http.MethodGet, "/v1/links/"+url.PathEscape(key), nil, nil, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *HTTPClient) DeleteLink(ctx context.Context, key, changedBy string) (model.Result, error) {
	return c.delete(ctx, "/v1/links/"+url.PathEscape(key), changedBy)
}

func (c *HTTPClient) FindLinks(ctx context.Context, filter model.LinkFilter) (*cmdb.Page[*model.Link], error) {
	q := url.Values{}
	setString(q, "type", filter.LinkTypeKey)
	setString(q, "start", filter.StartItemKey)
	setString(q, "end", filter.EndItemKey)
	setCommon(q, filter.Tags, filter.Attributes, filter.Top)
	setDate(q, "created_from", filter.CreatedFrom)
	setDate(q, "created_to", filter.CreatedTo)
	setDate(q, "updated_from", filter.UpdatedFrom)
	setDate(q, "updated_to", filter.UpdatedTo)

	var page cmdb.Page[*model.Link]
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/links", q), nil, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// --- Item types ---

func (c *HTTPClient) DefineItemType(ctx context.Context, key string, in model.ItemTypeInput, expectedVersion *int64, changedBy string) (model.Result, error) {
	return c.put(ctx, "/v1/itemtypes/"+url.PathEscape(key), in, expectedVersion, changedBy)
}

func (c *HTTPClient) GetItemType(ctx context.Context, key string) (*model.ItemType, error) {
	var t model.ItemType
	if err := c.doJSON(ctx, http.MethodGet, "/v1/itemtypes/"+url.PathEscape(key), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) ListItemTypes(ctx context.Context) ([]*model.ItemType, error) {
	var resp struct {
		ItemTypes []*model.ItemType `json:"item_types"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/itemtypes", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.ItemTypes, nil
}

func (c *HTTPClient) DeleteItemType(ctx context.Context, key, changedBy string) (model.Result, error) {
	return c.delete(ctx, "/v1/itemtypes/"+url.PathEscape(key), changedBy)
}

func (c *HTTPClient) DeleteItemTypes(ctx context.Context, changedBy string) (model.Result, error) {
	return c.delete(ctx, "/v1/itemtypes", changedBy)
}

func (c *HTTPClient) ValidateAttributes(ctx context.Context, itemTypeKey string, attrs map[string]string) ([]model.FieldError, error) {
	body := map[string]any{"attributes": attrs}
	var resp struct {
		Valid  bool               `json:"valid"`
		Errors []model.FieldError `json:"errors"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/itemtypes/"+url.PathEscape(itemTypeKey)+"/validate", nil, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) == 0 {
		return nil, nil
	}
	return resp.Errors, nil
}

// --- Link types ---

func (c *HTTPClient) DefineLinkType(ctx context.Context, key string, in model.LinkTypeInput, expectedVersion *int64, changedBy string) (model.Result, error) {
	return c.put(ctx, "/v1/linktypes/"+url.PathEscape(key), in, expectedVersion, changedBy)
}

func (c *HTTPClient) GetLinkType(ctx context.Context, key string) (*model.LinkType, error) {
	var t model.LinkType
	if err := c.doJSON(ctx, http.MethodGet, "/v1/linktypes/"+url.PathEscape(key), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) ListLinkTypes(ctx context.Context) ([]*model.LinkType, error) {
	var resp struct {
		LinkTypes []*model.LinkType `json:"link_types"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/linktypes", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.LinkTypes, nil
}

func (c *HTTPClient) DeleteLinkType(ctx context.Context, key, changedBy string) (model.Result, error) {
	return c.delete(ctx, "/v1/linktypes/"+url.PathEscape(key), changedBy)
}

func (c *HTTPClient) DeleteLinkTypes(ctx context.Context, changedBy string) (model.Result, error) {
	return c.delete(ctx, "/v1/linktypes", changedBy)
}

// --- Link rules ---

func (c *HTTPClient) DefineLinkRule(ctx context.Context, key string, in model.LinkRuleInput, expectedVersion *int64, changedBy string) (model.Result, error) {
	return c.put(ctx, "/v1/linkrules/"+url.PathEscape(key), in, expectedVersion, changedBy)
}

func (c *HTTPClient) GetLinkRule(ctx context.Context, key string) (*model.LinkRule, error) {
	var r model.LinkRule
	if err := c.doJSON(ctx, http.MethodGet, "/v1/linkrules/"+url.PathEscape(key), nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) ListLinkRules(ctx context.Context, linkTypeKey string) ([]*model.LinkRule, error) {
	q := url.Values{}
	setString(q, "link_type", linkTypeKey)
	var resp struct {
		LinkRules []*model.LinkRule `json:"link_rules"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/linkrules", q), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.LinkRules, nil
}

func (c *HTTPClient) DeleteLinkRule(ctx context.Context, key, changedBy string) (model.Result, error) {
	return c.delete(ctx, "/v1/linkrules/"+url.PathEscape(key), changedBy)
}

func (c *HTTPClient) DeleteLinkRules(ctx context.Context, changedBy string) (model.Result, error) {
	return c.delete(ctx, "/v1/linkrules", changedBy)
}

func (c *HTTPClient) IsLinkAllowed(ctx context.Context, startItemTypeKey, linkTypeKey, endItemTypeKey string) (bool, error) {
	q := url.Values{}
	q.Set("start", startItemTypeKey)
	q.Set("type", linkTypeKey)
	q.Set("end", endItemTypeKey)
	var resp struct {
		Allowed bool `json:"allowed"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/linkrules/allowed", q), nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

// --- Audit ---

func (c *HTTPClient) FindAudit(ctx context.Context, filter model.AuditFilter) ([]*model.AuditRecord, error) {
	q := url.Values{}
	setString(q, "kind", string(filter.EntityKind))
	setString(q, "key", filter.EntityKey)
	setString(q, "change", string(filter.ChangeType))
	setDate(q, "from", filter.From)
	setDate(q, "to", filter.To)
	if filter.Top > 0 {
		q.Set("top", strconv.Itoa(filter.Top))
	}
	var resp struct {
		Results []*model.AuditRecord `json:"results"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/audit", q), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// --- Admin ---

func (c *HTTPClient) Clear(ctx context.Context, changedBy string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/admin/clear", writeHeaders(nil, changedBy), nil, nil)
}

// ExportSnapshot copies the server's JSONL snapshot to w.
func (c *HTTPClient) ExportSnapshot(ctx context.Context, w io.Writer) error {
	resp, err := c.do(ctx, http.MethodGet, "/v1/admin/snapshot", nil, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	return nil
}

// RestoreSnapshot replaces the server's graph with the JSONL snapshot in r.
func (c *HTTPClient) RestoreSnapshot(ctx context.Context, r io.Reader, changedBy string) (graphsync.Counts, error) {
	resp, err := c.do(ctx, http.MethodPut, "/v1/admin/snapshot", writeHeaders(nil, changedBy), r, "application/x-ndjson")
	if err != nil {
		return graphsync.Counts{}, err
	}
	defer resp.Body.Close()
	var counts graphsync.Counts
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		return graphsync.Counts{}, fmt.Errorf("decoding response: %w", err)
	}
	return counts, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

func (c *HTTPClient) put(ctx context.Context, path string, body any, expectedVersion *int64, changedBy string) (model.Result, error) {
	h := writeHeaders(nil, changedBy)
	if expectedVersion != nil {
		h.Set("If-Match", strconv.Quote(strconv.FormatInt(*expectedVersion, 10)))
	}
	var res model.Result
	if err := c.doJSON(ctx, http.MethodPut, path, h, body, &res); err != nil {
		return model.Result{}, err
	}
	return res, nil
}

func (c *HTTPClient) delete(ctx context.Context, path, changedBy string) (model.Result, error) {
	var res model.Result
	if err := c.doJSON(ctx, http.MethodDelete, path, writeHeaders(nil, changedBy), nil, &res); err != nil {
		return model.Result{}, err
	}
	return res, nil
}

func writeHeaders(h http.Header, changedBy string) http.Header {
	if h == nil {
		h = http.Header{}
	}
	if changedBy != "" {
		h.Set("X-Changed-By", changedBy)
	}
	return h
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func setString(q url.Values, name, v string) {
	if v != "" {
		q.Set(name, v)
	}
}

// setDate sends the calendar day of t in its own location.
func setDate(q url.Values, name string, t *time.Time) {
	if t != nil {
		q.Set(name, t.Format("2006-01-02"))
	}
}

func setCommon(q url.Values, tags []string, attrs map[string]string, top int) {
	for _, tag := range tags {
		q.Add("tag", tag)
	}
	for name, value := range attrs {
		q.Add("attr", name+"="+value)
	}
	if top > 0 {
		q.Set("top", strconv.Itoa(top))
	}
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, header http.Header, body any, result any) error {
	var bodyReader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, header, bodyReader, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// do sends a request and returns the response when its status is below 400.
// Failed responses are closed and returned as *APIError.
func (c *HTTPClient) do(ctx context.Context, method, path string, header http.Header, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for name, vals := range header {
		for _, v := range vals {
			req.Header.Add(name, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}
