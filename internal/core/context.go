// Package core holds the run context shared by every export component.
package core

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chtzvt/docslurp/internal/job"
	"github.com/chtzvt/docslurp/internal/metrics"
)

// Context is built once at startup and handed to every component instead of
// package-level clients or counters.
type Context struct {
	Spec    *job.Spec
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// RunID distinguishes the files of one process run from another.
	RunID string
}

func NewContext(spec *job.Spec, logger *zap.Logger, m *metrics.Metrics) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Context{
		Spec:    spec,
		Logger:  logger,
		Metrics: m,
		RunID:   uuid.NewString(),
	}
}

// Named returns a child logger tagged with the component name and run id.
func (c *Context) Named(component string) *zap.Logger {
	return c.Logger.Named(component).With(zap.String("run", c.ShortRunID()))
}

func (c *Context) ShortRunID() string {
	if len(c.RunID) > 8 {
		return c.RunID[:8]
	}
	return c.RunID
}
