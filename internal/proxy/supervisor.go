package proxy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// taskKind tells the supervisor what a task's termination means for the game.
type taskKind int

const (
	// local tasks may fail without affecting anything but themselves.
	local taskKind = iota
	// fatal tasks end the game when they return, with or without error.
	fatal
)

func (k taskKind) String() string {
	if k == fatal {
		return "fatal"
	}
	return "local"
}

// errFatalTaskExited is the cause when a fatal task returns without error.
var errFatalTaskExited = errors.New("fatal task exited")

// supervisor tracks every goroutine of one game.
// The first fatal task to return cancels the game context
// and runs the teardown exactly once.
type supervisor struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	once     sync.Once
	done     chan struct{}
	err      error
	teardown func(cause error)

	logger *slog.Logger
}

func newSupervisor(parent context.Context, logger *slog.Logger, teardown func(cause error)) *supervisor {
	ctx, cancel := context.WithCancelCause(parent)

	return &supervisor{
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		teardown: teardown,
		logger:   logger,
	}
}

// Go runs fn in a new goroutine, tracked by the supervisor.
// It must be called before [supervisor.Wait] or from a supervised task.
func (s *supervisor) Go(kind taskKind, name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := fn(s.ctx)

		switch kind {
		case fatal:
			if err == nil {
				err = errFatalTaskExited
			}
			s.logger.Debug("fatal task finished", slog.String("task", name), slog.Any("error", err))
			s.fail(err)
		case local:
			if err == nil {
				return
			}
			if isProtocolViolation(err) {
				s.logger.Warn("task failed", slog.String("task", name), slog.Any("error", err))
				return
			}
			s.logger.Debug("task failed", slog.String("task", name), slog.Any("error", err))
		}
	}()
}

// fail cancels all tasks and tears the game down.
// Only the first cause is kept.
func (s *supervisor) fail(cause error) {
	s.once.Do(func() {
		s.err = cause
		s.cancel(cause)
		s.teardown(cause)
		close(s.done)
	})
}

// Done is closed after the teardown has finished.
func (s *supervisor) Done() <-chan struct{} {
	return s.done
}

// Err returns the cause of the teardown, or nil while the game is running.
func (s *supervisor) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait waits for all tasks to return.
func (s *supervisor) Wait() {
	s.wg.Wait()
}
