package trackerd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"releasekit/services/release"
)

const stepsDurable = "trackerd-steps"

// Subscriber is satisfied by *bus.Bus.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// ConsumeStepEvents counts the pipeline step events that release runs publish.
func (s *Server) ConsumeStepEvents(ctx context.Context, sub Subscriber) (io.Closer, error) {
	if sub == nil {
		return nil, errors.New("nil subscriber")
	}
	return sub.Subscribe(ctx, release.StepsSubject, stepsDurable, s.handleStepEvent)
}

func (s *Server) handleStepEvent(_ context.Context, data []byte) error {
	var evt release.StepEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return fmt.Errorf("decode step event: %w", err)
	}
	if evt.Step == "" || evt.Outcome == "" {
		return errors.New("step event missing step or outcome")
	}

	s.metrics.steps.WithLabelValues(evt.Step, evt.Outcome).Inc()
	if evt.Error != "" {
		s.logger.Printf("WARN release %s step %s failed: %s", evt.Release, evt.Step, evt.Error)
	} else {
		s.logger.Printf("DEBUG release %s step %s %s", evt.Release, evt.Step, evt.Outcome)
	}
	return nil
}
