package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes fn in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement (none when timeout <= 0)
// - Error logging
//
// The returned channel is closed once fn has returned (or panicked).
// Use this instead of bare `go func()` for fire-and-forget work.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, log *logrus.Entry, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("task", taskName)

	go func() {
		defer close(done)

		var (
			ctx    context.Context
			cancel context.CancelFunc
		)
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
		} else {
			ctx, cancel = context.WithCancel(parentCtx)
		}
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.WithField("stack", string(debug.Stack())).
					Errorf("panic in background task: %v", r)
			}
		}()

		if err := fn(ctx); err != nil {
			log.WithError(err).Warn("background task failed")
		}
	}()

	return done
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, log *logrus.Entry, fn func(context.Context)) <-chan struct{} {
	return SafeGo(parentCtx, timeout, taskName, log, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Wait blocks until done is closed or ctx ends
func Wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background task: %w", ctx.Err())
	}
}
