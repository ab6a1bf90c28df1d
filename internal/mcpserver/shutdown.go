package mcpserver

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultDrainTimeout bounds how long shutdown waits for in-flight operations.
const DefaultDrainTimeout = 10 * time.Second

// CoordinatorState is the shutdown coordinator's lifecycle state.
type CoordinatorState int

const (
	StateRunning CoordinatorState = iota
	StateDraining
	StateClosed
)

// String implements fmt.Stringer.
func (s CoordinatorState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ShutdownCoordinator runs the drain-then-close sequence exactly once.
// In-flight operations get a bounded chance to finish; the pool is closed
// regardless of whether draining completed, and Closed is terminal. Repeated
// signals or calls after the first are no-ops.
type ShutdownCoordinator struct {
	mu           sync.Mutex
	state        CoordinatorState
	service      *Service
	drainTimeout time.Duration
	logger       *log.Logger
}

// NewShutdownCoordinator returns a coordinator in the Running state for
// the given service.
func NewShutdownCoordinator(service *Service, drainTimeout time.Duration, logger *log.Logger) *ShutdownCoordinator {
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	return &ShutdownCoordinator{
		service:      service,
		drainTimeout: drainTimeout,
		logger:       logger,
	}
}

// State returns the coordinator's current state.
func (c *ShutdownCoordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Notify installs handlers for SIGINT and SIGTERM that run Shutdown, and
// returns a function that uninstalls them. Platforms without signal delivery
// simply never fire the handler; the caller's normal-exit Shutdown covers
// that path.
func (c *ShutdownCoordinator) Notify() (stop func()) {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go c.Watch(signals)
	return func() { signal.Stop(signals) }
}

// Watch consumes termination signals from ch and runs Shutdown on the first
// one. Later signals hit the idempotence guard. Exported so tests can drive
// shutdown with a synthetic signal channel instead of real OS signals.
func (c *ShutdownCoordinator) Watch(ch <-chan os.Signal) {
	for sig := range ch {
		c.logger.Printf("Received signal %v", sig)
		c.Shutdown()
	}
}

// Shutdown moves Running -> Draining -> Closed: waits, bounded, for pending
// operations to finish, then closes the connection pool. Safe to call any
// number of times; only the first call does work. Operations still running
// when the pool closes fail with a connectivity error on their next query.
func (c *ShutdownCoordinator) Shutdown() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateDraining
	c.mu.Unlock()

	if n := c.service.PendingOperations(); n > 0 {
		c.logger.Printf("Draining %d in-flight operation(s), up to %s", n, c.drainTimeout)
		if !c.service.pending.wait(c.drainTimeout) {
			c.logger.Printf("Drain timed out after %s with %d operation(s) still running; closing the pool anyway",
				c.drainTimeout, c.service.PendingOperations())
		}
	}

	c.logger.Printf("Closing database connection pool")
	c.service.pool.Close()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	c.logger.Printf("Shutdown complete")
}
