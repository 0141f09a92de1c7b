package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes JSON-encoded events to NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	defaults := []nats.Option{nats.Name("onix-publisher")}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return p.conn.Publish(topic, data)
}

// Close flushes buffered messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil && !p.conn.IsClosed() {
		p.conn.Close()
		return fmt.Errorf("flushing NATS: %w", err)
	}
	p.conn.Close()
	return nil
}

// NATSSubscriber subscribes to events from NATS subjects.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to NATS with automatic reconnection support.
// Extra nats.Option values (e.g. disconnect/reconnect handlers) can be appended.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.Name("onix-subscriber"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

// subscription bridges one NATS subscription onto a buffered channel.
// Messages are dropped, never blocked on, when the reader falls behind.
type subscription struct {
	sub  *nats.Subscription
	ch   chan Message
	mu   sync.Mutex
	done bool
	once sync.Once
}

func (s *subscription) deliver(msg *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.ch <- Message{Topic: msg.Subject, Data: msg.Data}:
	default:
	}
}

func (s *subscription) cancel() {
	s.once.Do(func() {
		if s.sub != nil {
			_ = s.sub.Unsubscribe()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.done = true
		for len(s.ch) > 0 {
			<-s.ch
		}
		close(s.ch)
	})
}

// Subscribe returns a channel of messages for topic, which may use NATS
// wildcards such as TopicAll. The returned cancel func unsubscribes and
// closes the channel; it is safe to call more than once.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan Message, func(), error) {
	sub := &subscription{ch: make(chan Message, 64)}
	ns, err := s.conn.Subscribe(topic, sub.deliver)
	if err != nil {
		sub.cancel()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	sub.sub = ns
	// The server must know about the subscription before events are published.
	if err := s.conn.Flush(); err != nil {
		sub.cancel()
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}
	return sub.ch, sub.cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
