package events

import (
	"context"
	"errors"
)

// NoopPublisher discards events. It stands in when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (NoopPublisher) Close() error                               { return nil }

// MultiPublisher fans each event out to several publishers. Every publisher
// is tried and the errors are joined.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, topic string, event any) error {
	return m.each(func(p Publisher) error { return p.Publish(ctx, topic, event) })
}

func (m MultiPublisher) Close() error {
	return m.each(Publisher.Close)
}

func (m MultiPublisher) each(fn func(Publisher) error) error {
	var errs []error
	for _, p := range m {
		if err := fn(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
