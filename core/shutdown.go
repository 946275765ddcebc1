package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownManager coordinates graceful teardown of the daemon's components.
type ShutdownManager struct {
	timeout        time.Duration
	hooks          []ShutdownHook
	mu             sync.Mutex
	shutdownChan   chan struct{}
	completed      chan struct{}
	isShuttingDown bool
	logger         Logger
}

// ShutdownHook is a function to be called during shutdown
type ShutdownHook struct {
	Name     string
	Priority int // Lower values execute first
	Hook     func(context.Context) error
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger Logger, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ShutdownManager{
		timeout:      timeout,
		hooks:        make([]ShutdownHook, 0),
		shutdownChan: make(chan struct{}),
		completed:    make(chan struct{}),
		logger:       logger,
	}
}

// RegisterHook registers a shutdown hook
func (sm *ShutdownManager) RegisterHook(hook ShutdownHook) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.hooks = append(sm.hooks, hook)

	// Sort hooks by priority
	for i := len(sm.hooks) - 1; i > 0; i-- {
		if sm.hooks[i].Priority >= sm.hooks[i-1].Priority {
			break
		}
		sm.hooks[i], sm.hooks[i-1] = sm.hooks[i-1], sm.hooks[i]
	}
}

// ListenForShutdown starts listening for shutdown signals
func (sm *ShutdownManager) ListenForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	go func() {
		sig := <-sigChan
		sm.logger.Warningf("Received shutdown signal: %v", sig)
		_ = sm.Shutdown()
	}()
}

// Shutdown runs the registered hooks in priority order. Ordering matters:
// the scheduler engine must stop (releasing the leader lock) before the
// listeners drain and the store closes, so hooks run one at a time.
func (sm *ShutdownManager) Shutdown() error {
	sm.mu.Lock()
	if sm.isShuttingDown {
		sm.mu.Unlock()
		return ErrShutdownInProgress
	}
	sm.isShuttingDown = true
	hooks := make([]ShutdownHook, len(sm.hooks))
	copy(hooks, sm.hooks)
	sm.mu.Unlock()

	sm.logger.Noticef("Starting graceful shutdown (timeout: %v)", sm.timeout)
	defer close(sm.completed)

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	// Signal that shutdown has started
	close(sm.shutdownChan)

	var hookErrs []error
	for _, hook := range hooks {
		sm.logger.Debugf("Executing shutdown hook: %s (priority: %d)", hook.Name, hook.Priority)

		errChan := make(chan error, 1)
		go func(h ShutdownHook) {
			errChan <- h.Hook(ctx)
		}(hook)

		select {
		case err := <-errChan:
			if err != nil {
				sm.logger.Errorf("Shutdown hook '%s' failed: %v", hook.Name, err)
				hookErrs = append(hookErrs, fmt.Errorf("hook %s: %w", hook.Name, err))
			} else {
				sm.logger.Debugf("Shutdown hook '%s' completed successfully", hook.Name)
			}
		case <-ctx.Done():
			// The hung hook is abandoned; later hooks never run.
			sm.logger.Errorf("Graceful shutdown timed out after %v in hook '%s'", sm.timeout, hook.Name)
			return ErrShutdownTimeout
		}
	}

	if len(hookErrs) > 0 {
		return errors.Join(hookErrs...)
	}

	sm.logger.Noticef("Graceful shutdown completed successfully")
	return nil
}

// ShutdownChan returns a channel that's closed when shutdown starts
func (sm *ShutdownManager) ShutdownChan() <-chan struct{} {
	return sm.shutdownChan
}

// Done returns a channel that's closed once all hooks have run (or timed out).
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.completed
}

// IsShuttingDown returns true if shutdown is in progress
func (sm *ShutdownManager) IsShuttingDown() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.isShuttingDown
}
