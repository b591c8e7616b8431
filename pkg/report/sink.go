package report

import (
	"context"
	"errors"
)

// CapturedSubject is the bus subject captured events are published on.
const CapturedSubject = "releasekit.errors.captured"

// Publisher is satisfied by *bus.Bus.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// BusSink forwards captured events to a message bus.
type BusSink struct {
	Publisher Publisher
	Subject   string
}

// Send implements Sink.
func (s BusSink) Send(ctx context.Context, evt Event) error {
	if s.Publisher == nil {
		return errors.New("nil publisher")
	}
	subject := s.Subject
	if subject == "" {
		subject = CapturedSubject
	}
	return s.Publisher.Publish(ctx, subject, evt)
}
