package inject

import (
	"context"
	"fmt"
)

// UploadFunc receives the artifacts produced by a build.
type UploadFunc func(ctx context.Context, artifacts []string) error

// Collector hands the build's output paths to Upload once the build ends.
type Collector struct {
	Upload UploadFunc
}

// Register installs the collector on h.
func (c *Collector) Register(h Host) {
	h.OnEnd(c.handleEnd)
}

func (c *Collector) handleEnd(ctx context.Context, outcome Outcome) error {
	if c.Upload == nil {
		return nil
	}
	artifacts := make([]string, len(outcome.Outputs))
	copy(artifacts, outcome.Outputs)
	if err := c.Upload(ctx, artifacts); err != nil {
		return fmt.Errorf("upload build artifacts: %w", err)
	}
	return nil
}

// Options selects what Setup installs.
type Options struct {
	// DebugIDs enables per-entry debug id injection.
	DebugIDs bool
	// Release is injected as a shared module when non-empty.
	Release string
	// Upload receives the produced artifacts; nil disables collection.
	Upload UploadFunc
}

// Setup installs the configured hooks on h. The release module is registered before the
// entry-point proxy so its reserved path is never mistaken for an entry.
func Setup(h Host, opts Options) {
	(&ReleaseInjector{Release: opts.Release}).Register(h)
	if opts.DebugIDs {
		(&DebugIDInjector{}).Register(h)
	}
	if opts.Upload != nil {
		(&Collector{Upload: opts.Upload}).Register(h)
	}
}
