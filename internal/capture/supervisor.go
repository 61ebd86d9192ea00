package capture

import (
	"context"
	"log/slog"
	"time"
)

// SupervisedSource runs a LineSource built by a factory and starts a fresh
// one whenever the previous run fails. A run that ends with a nil Err is a
// clean exit and ends supervision.
type SupervisedSource struct {
	factory     func() LineSource
	restartWait time.Duration
	maxRestarts int
	err         error
}

// NewSupervisedSource creates a supervisor. restartWait is the pause before
// each restart; maxRestarts of 0 means unlimited restarts.
func NewSupervisedSource(factory func() LineSource, restartWait time.Duration, maxRestarts int) *SupervisedSource {
	return &SupervisedSource{
		factory:     factory,
		restartWait: restartWait,
		maxRestarts: maxRestarts,
	}
}

// Lines returns one channel carrying the lines of every run. It closes after
// a clean exit, when the restart budget is spent, or when ctx is cancelled.
func (s *SupervisedSource) Lines(ctx context.Context) (<-chan Line, error) {
	out := make(chan Line, 64)
	go s.supervise(ctx, out)
	return out, nil
}

// Err returns the error of the last failed run once Lines has closed, or
// nil after a clean exit or cancellation.
func (s *SupervisedSource) Err() error {
	return s.err
}

// Stop is a no-op; cancel the context passed to Lines instead.
func (s *SupervisedSource) Stop() {}

func (s *SupervisedSource) supervise(ctx context.Context, out chan<- Line) {
	defer close(out)

	for restarts := 0; ; restarts++ {
		err := s.runOnce(ctx, out)
		switch {
		case ctx.Err() != nil:
			return
		case err == nil:
			slog.Info("child process exited cleanly", "restart_count", restarts)
			return
		case s.maxRestarts > 0 && restarts >= s.maxRestarts:
			slog.Error("child process failed, restart budget spent", "error", err, "max", s.maxRestarts)
			s.err = err
			return
		}

		slog.Warn("child process failed, restarting",
			"error", err,
			"restart_count", restarts+1,
			"wait", s.restartWait,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.restartWait):
		}
	}
}

// runOnce forwards one source's lines and returns how it ended.
func (s *SupervisedSource) runOnce(ctx context.Context, out chan<- Line) error {
	src := s.factory()
	defer src.Stop()

	lines, err := src.Lines(ctx)
	if err != nil {
		return err
	}
	for line := range lines {
		select {
		case out <- line:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return src.Err()
}
