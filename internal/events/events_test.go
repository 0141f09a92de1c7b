package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/onix/internal/model"
)

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = NoopPublisher{}
	if err := pub.Publish(context.Background(), TopicItemCreated, Change{}); err != nil {
		t.Fatalf("Publish returned unexpected error: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close returned unexpected error: %v", err)
	}
}

var _ Publisher = (*NATSPublisher)(nil)

func TestAuditTopicsMatchConstants(t *testing.T) {
	for _, tc := range []struct {
		kind   model.EntityKind
		change model.ChangeType
		want   string
	}{
		{model.EntityItem, model.ChangeCreated, TopicItemCreated},
		{model.EntityItem, model.ChangeUpdated, TopicItemUpdated},
		{model.EntityItem, model.ChangeDeleted, TopicItemDeleted},
		{model.EntityLink, model.ChangeCreated, TopicLinkCreated},
		{model.EntityLink, model.ChangeUpdated, TopicLinkUpdated},
		{model.EntityLink, model.ChangeDeleted, TopicLinkDeleted},
	} {
		rec := &model.AuditRecord{EntityKind: tc.kind, ChangeType: tc.change}
		if got := rec.Topic(); got != tc.want {
			t.Errorf("Topic(%s, %s) = %q, want %q", tc.kind, tc.change, got, tc.want)
		}
	}
}

// tap subscribes a plain NATS connection to subject and returns the
// channel messages arrive on.
func tap(t *testing.T, url, subject string) <-chan *nats.Msg {
	t.Helper()
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting tap: %v", err)
	}
	t.Cleanup(nc.Close)
	ch := make(chan *nats.Msg, 8)
	if _, err := nc.ChanSubscribe(subject, ch); err != nil {
		t.Fatalf("subscribing tap: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flushing tap: %v", err)
	}
	return ch
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()
	msgs := tap(t, url, TopicAll)

	events := []struct {
		topic string
		event any
	}{
		{TopicItemCreated, Change{Record: &model.AuditRecord{
			ID: 7, EntityKind: model.EntityItem, EntityKey: "host-1", ChangeType: model.ChangeCreated,
			Snapshot: json.RawMessage(`{"key":"host-1"}`),
		}}},
		{TopicLinkDeleted, Change{Record: &model.AuditRecord{EntityKey: "l"}}},
		{TopicItemTypeDefined, SchemaChanged{Kind: "itemtype", Key: "host", Outcome: model.OutcomeInserted, Version: 1}},
		{TopicCleared, Cleared{ChangedBy: "admin", At: time.Now()}},
	}
	for _, e := range events {
		if err := pub.Publish(context.Background(), e.topic, e.event); err != nil {
			t.Fatalf("Publish(%s): %v", e.topic, err)
		}
	}

	for i, e := range events {
		var msg *nats.Msg
		select {
		case msg = <-msgs:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
		if msg.Subject != e.topic {
			t.Errorf("message %d subject = %q, want %q", i, msg.Subject, e.topic)
		}
		if i == 0 {
			var got Change
			if err := json.Unmarshal(msg.Data, &got); err != nil {
				t.Fatalf("decoding change: %v", err)
			}
			if got.Record == nil || got.Record.EntityKey != "host-1" || got.Record.ID != 7 {
				t.Errorf("got record %+v", got.Record)
			}
		}
	}
}

func TestNATSPublisher_Refuses(t *testing.T) {
	url := startTestNATS(t)

	t.Run("canceled context", func(t *testing.T) {
		pub, err := NewNATSPublisher(url)
		if err != nil {
			t.Fatal(err)
		}
		defer pub.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := pub.Publish(ctx, TopicItemCreated, Change{}); !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	})

	t.Run("after close", func(t *testing.T) {
		pub, err := NewNATSPublisher(url)
		if err != nil {
			t.Fatal(err)
		}
		if err := pub.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := pub.Publish(context.Background(), TopicItemCreated, Change{}); err == nil {
			t.Fatal("expected error publishing after close")
		}
	})

	t.Run("unencodable event", func(t *testing.T) {
		pub, err := NewNATSPublisher(url)
		if err != nil {
			t.Fatal(err)
		}
		defer pub.Close()
		if err := pub.Publish(context.Background(), TopicItemCreated, make(chan int)); err == nil {
			t.Fatal("expected marshal error")
		}
	})
}

type countingPublisher struct {
	n      int
	err    error
	closed bool
}

func (p *countingPublisher) Publish(context.Context, string, any) error {
	p.n++
	return p.err
}

func (p *countingPublisher) Close() error {
	p.closed = true
	return nil
}

func TestMultiPublisher(t *testing.T) {
	boom := errors.New("boom")
	a := &countingPublisher{err: boom}
	b := &countingPublisher{}
	m := MultiPublisher{a, b}

	if err := m.Publish(context.Background(), TopicItemCreated, nil); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if a.n != 1 || b.n != 1 {
		t.Fatalf("expected both publishers called once, got %d and %d", a.n, b.n)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatal("expected both publishers closed")
	}
}
