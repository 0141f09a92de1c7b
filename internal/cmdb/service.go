// Package cmdb implements the configuration graph engine: the type registry,
// item and link lifecycles with optimistic concurrency, link-rule
// enforcement, queries and the audit log. Persistence is delegated to a
// store.Store; change events go to an events.Publisher after commit.
package cmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/onix/internal/events"
	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/store"
)

// Service is safe for concurrent use.
type Service struct {
	store     store.Store
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
	locks     *keyLocks
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets where change events go. Defaults to events.NoopPublisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service backed by st.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		publisher: events.NoopPublisher{},
		logger:    slog.Default(),
		now:       time.Now,
		locks:     newKeyLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() store.Store { return s.store }

// pending is an event held back until its transaction commits.
type pending struct {
	topic string
	event any
}

// mutation collects the audit records and events produced inside one store
// transaction.
type mutation struct {
	svc       *Service
	tx        store.Store
	at        time.Time
	changedBy string
	events    []pending
}

func (s *Service) begin(tx store.Store, changedBy string) *mutation {
	return &mutation{svc: s, tx: tx, at: s.now().UTC(), changedBy: changedBy}
}

// audit appends a record for entity to the log within the transaction.
func (m *mutation) audit(ctx context.Context, kind model.EntityKind, key string, change model.ChangeType, entity any) error {
	snapshot, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("snapshot %s %q: %w", kind, key, err)
	}
	rec := &model.AuditRecord{
		EntityKind: kind,
		EntityKey:  key,
		ChangeType: change,
		Snapshot:   snapshot,
		ChangedBy:  m.changedBy,
		Timestamp:  m.at,
	}
	if err := m.tx.AppendAudit(ctx, rec); err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	m.emit(rec.Topic(), events.Change{Record: rec})
	return nil
}

func (m *mutation) emit(topic string, event any) {
	m.events = append(m.events, pending{topic: topic, event: event})
}

// run executes fn in a store transaction and publishes the collected events
// once it commits.
func (s *Service) run(ctx context.Context, changedBy string, fn func(m *mutation) error) error {
	var m *mutation
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		m = s.begin(tx, changedBy)
		return fn(m)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, m.events)
	return nil
}

// publish is best-effort: the mutation has already committed.
func (s *Service) publish(ctx context.Context, evs []pending) {
	for _, ev := range evs {
		if err := s.publisher.Publish(ctx, ev.topic, ev.event); err != nil {
			s.logger.Warn("failed to publish event", "topic", ev.topic, "error", err)
		}
	}
}

// checkVersion returns ErrConflict when expected is set and differs from
// current.
func checkVersion(kind, key string, current int64, expected *int64) error {
	if expected != nil && *expected != current {
		return fmt.Errorf("%s %q is at version %d, not %d: %w", kind, key, current, *expected, model.ErrConflict)
	}
	return nil
}

// ClearAll wipes every type, rule, item, link and audit record.
func (s *Service) ClearAll(ctx context.Context, changedBy string) error {
	err := s.run(ctx, changedBy, func(m *mutation) error {
		if err := m.tx.Clear(ctx); err != nil {
			return err
		}
		m.emit(events.TopicCleared, events.Cleared{ChangedBy: changedBy, At: m.at})
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("cleared all data", "changed_by", changedBy)
	return nil
}
