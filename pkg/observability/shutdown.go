package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultShutdownTimeout bounds a graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// ShutdownFunc releases one resource
type ShutdownFunc func(context.Context) error

type shutdownStage struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager runs the registered stages one at a time, last registered
// first, so resources can be registered in the order they were opened.
// Every stage shares one deadline.
type ShutdownManager struct {
	log     *logrus.Entry
	timeout time.Duration

	mu     sync.Mutex
	stages []shutdownStage
	once   sync.Once
	err    error
}

// NewShutdownManager creates a shutdown manager
func NewShutdownManager(log *logrus.Entry, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	if log == nil {
		log = NewNopLogger()
	}
	return &ShutdownManager{
		log:     log,
		timeout: timeout,
	}
}

// OnShutdown registers a named stage
func (sm *ShutdownManager) OnShutdown(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stages = append(sm.stages, shutdownStage{name: name, fn: fn})
}

// WaitForShutdown blocks until ctx is done, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	<-ctx.Done()
	sm.log.Info("Starting graceful shutdown")
	return sm.Shutdown()
}

// Shutdown runs once; later calls return the first result. A stage still
// running at the deadline is abandoned and the stages after it are skipped.
func (sm *ShutdownManager) Shutdown() error {
	sm.once.Do(func() {
		sm.err = sm.shutdown()
	})
	return sm.err
}

func (sm *ShutdownManager) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	stages := append([]shutdownStage(nil), sm.stages...)
	sm.mu.Unlock()

	var errs []error
	for i := len(stages) - 1; i >= 0; i-- {
		stage := stages[i]
		log := sm.log.WithField("stage", stage.name)
		if err := runStage(ctx, stage.fn); err != nil {
			log.WithError(err).Error("Shutdown stage failed")
			errs = append(errs, fmt.Errorf("%s: %w", stage.name, err))
			if ctx.Err() != nil {
				log.Warn("Shutdown deadline reached, skipping remaining stages")
				break
			}
			continue
		}
		log.Debug("Shutdown stage complete")
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	sm.log.Info("Graceful shutdown complete")
	return nil
}

func runStage(ctx context.Context, fn ShutdownFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
