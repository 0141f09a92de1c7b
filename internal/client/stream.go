package client

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alfredjeanlab/onix/internal/events"
)

// StreamEvents follows the server's SSE change stream and calls fn for each
// event until ctx is canceled, the server closes the stream, or fn returns
// an error. topics are NATS-style patterns; none means every topic.
// lastEventID resumes after a previously seen event when non-empty.
func (c *HTTPClient) StreamEvents(ctx context.Context, topics []string, lastEventID string, fn func(events.Message) error) error {
	q := url.Values{}
	if len(topics) > 0 {
		q.Set("topics", strings.Join(topics, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+withQuery("/v1/events/stream", q), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	// The stream outlives the request timeout of c.httpClient.
	hc := &http.Client{Transport: c.httpClient.Transport}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var msg events.Message
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if msg.Topic != "" || data.Len() > 0 {
				msg.Data = []byte(data.String())
				if err := fn(msg); err != nil {
					return err
				}
			}
			msg = events.Message{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment or keepalive
		case strings.HasPrefix(line, "id:"):
			msg.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			msg.Topic = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}
