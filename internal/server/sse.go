package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// replayBufferSize is the number of recent events kept in memory for
	// Last-Event-ID reconnection support.
	replayBufferSize = 1000

	// keepaliveInterval is how often keepalive comments are sent to
	// prevent connection timeouts.
	keepaliveInterval = 15 * time.Second
)

// streamEvent is a single event stored in the ring buffer and sent to SSE clients.
type streamEvent struct {
	ID    uint64 // monotonically increasing sequence number
	Topic string
	Data  []byte // JSON-encoded payload
}

// replayRing keeps the most recent events for Last-Event-ID resumption.
type replayRing struct {
	mu     sync.RWMutex
	events []streamEvent
	next   int // index of the oldest entry once the ring is full
}

func (r *replayRing) push(evt streamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) < replayBufferSize {
		r.events = append(r.events, evt)
		return
	}
	r.events[r.next] = evt
	r.next = (r.next + 1) % replayBufferSize
}

// since returns buffered events with ID > lastID, oldest first.
func (r *replayRing) since(lastID uint64) []streamEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []streamEvent
	for i := range r.events {
		evt := r.events[(r.next+i)%len(r.events)]
		if evt.ID > lastID {
			out = append(out, evt)
		}
	}
	return out
}

// EventHub fans change events out to connected SSE clients and keeps a
// replay ring for reconnecting clients. It implements events.Publisher, so
// the engine can publish to it directly.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	nextID  atomic.Uint64
	replay  replayRing
}

// streamClient is one connected SSE consumer.
type streamClient struct {
	topics []string // patterns; empty matches everything
	ch     chan *streamEvent
}

// NewEventHub returns an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*streamClient]struct{})}
}

// Publish encodes event and broadcasts it.
func (h *EventHub) Publish(_ context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", topic, err)
	}
	h.broadcast(topic, payload)
	return nil
}

// Close is a no-op; clients disconnect when their requests end.
func (h *EventHub) Close() error { return nil }

func (h *EventHub) broadcast(topic string, payload []byte) {
	evt := &streamEvent{ID: h.nextID.Add(1), Topic: topic, Data: payload}
	h.replay.push(*evt)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matchesTopic(topic) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
			// Slow client: drop. It can resume with Last-Event-ID.
		}
	}
}

// subscribe registers a new SSE client and returns it. Call unsubscribe when done.
func (h *EventHub) subscribe(topics []string) *streamClient {
	c := &streamClient{
		topics: topics,
		ch:     make(chan *streamEvent, 64),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *EventHub) unsubscribe(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// matchesTopic reports whether any of the client's patterns match. No
// patterns means every topic.
func (c *streamClient) matchesTopic(topic string) bool {
	return len(c.topics) == 0 || slices.ContainsFunc(c.topics, func(p string) bool {
		return matchTopicPattern(p, topic)
	})
}

// matchTopicPattern applies NATS subject rules: "*" matches one token and
// a trailing ">" matches one or more.
func matchTopicPattern(pattern, topic string) bool {
	for {
		p, pRest, pMore := strings.Cut(pattern, ".")
		if p == ">" {
			return topic != ""
		}
		t, tRest, tMore := strings.Cut(topic, ".")
		if p != "*" && p != t {
			return false
		}
		if !pMore || !tMore {
			return pMore == tMore
		}
		pattern, topic = pRest, tRest
	}
}

// handleEventStream handles GET /v1/events/stream?topics=onix.item.*,...
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	q := queryParser{q: r.URL.Query()}
	client := s.hub.subscribe(q.list("topics"))
	defer s.hub.unsubscribe(client)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// sent is the highest replayed ID. Live events it covers were queued
	// between subscribe and replay and are skipped. A Last-Event-ID from a
	// previous server run replays nothing and suppresses nothing.
	var sent uint64
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if lastID, err := strconv.ParseUint(lastIDStr, 10, 64); err == nil {
			for _, evt := range s.hub.replay.since(lastID) {
				if client.matchesTopic(evt.Topic) {
					writeStreamEvent(w, &evt)
				}
				sent = evt.ID
			}
			flusher.Flush()
		}
	}

	ctx := r.Context()
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-client.ch:
			if evt.ID <= sent {
				continue
			}
			sent = evt.ID
			writeStreamEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeStreamEvent(w http.ResponseWriter, evt *streamEvent) {
	fmt.Fprintf(w, "id:%d\n", evt.ID)
	fmt.Fprintf(w, "event:%s\n", evt.Topic)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}
