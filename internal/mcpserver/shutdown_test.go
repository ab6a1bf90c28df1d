package mcpserver

import (
	"os"
	"sync"
	"syscall"
	"testing"
	"time"
)

func newTestCoordinator(t *testing.T, drainTimeout time.Duration) (*ShutdownCoordinator, *Service) {
	t.Helper()
	svc := newTestService(t)
	return NewShutdownCoordinator(svc, drainTimeout, testLogger()), svc
}

// ---------------------------------------------------------------------------
// State machine
// ---------------------------------------------------------------------------

func Test_CoordinatorState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state CoordinatorState
		want  string
	}{
		{StateRunning, "running"},
		{StateDraining, "draining"},
		{StateClosed, "closed"},
		{CoordinatorState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func Test_Shutdown_StartsRunning(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, time.Second)
	if got := c.State(); got != StateRunning {
		t.Errorf("State() = %v, want running", got)
	}
}

func Test_Shutdown_ReachesClosed(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, time.Second)
	c.Shutdown()
	if got := c.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
}

func Test_Shutdown_Idempotent(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, time.Second)
	c.Shutdown()
	c.Shutdown()
	c.Shutdown()
	if got := c.State(); got != StateClosed {
		t.Errorf("State() = %v after repeated Shutdown, want closed", got)
	}
}

func Test_Shutdown_ConcurrentCallsRunOnce(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Shutdown()
		}()
	}
	wg.Wait()

	if got := c.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
}

// ---------------------------------------------------------------------------
// Draining
// ---------------------------------------------------------------------------

func Test_Shutdown_WaitsForPendingOperations(t *testing.T) {
	t.Parallel()

	c, svc := newTestCoordinator(t, time.Second)

	svc.pending.add()
	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(released)
		svc.pending.done()
	}()

	c.Shutdown()

	select {
	case <-released:
	default:
		t.Error("Shutdown returned before the pending operation finished")
	}
	if got := c.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
}

func Test_Shutdown_DrainTimeoutStillCloses(t *testing.T) {
	t.Parallel()

	c, svc := newTestCoordinator(t, 10*time.Millisecond)

	// Never completes; shutdown must give up and close anyway.
	svc.pending.add()
	defer svc.pending.done()

	start := time.Now()
	c.Shutdown()

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Shutdown took %s, want it bounded by the drain timeout", elapsed)
	}
	if got := c.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
}

func Test_Shutdown_DispatchStillShapesResponsesAfterClose(t *testing.T) {
	t.Parallel()

	c, svc := newTestCoordinator(t, time.Second)
	c.Shutdown()

	// The pool is closed; the operation fails but stays a structured response.
	result := dispatch(t, svc, "query", map[string]any{"sql": "SELECT 1"})
	if !result.IsError {
		t.Error("IsError = false, want true after the pool closed")
	}
}

func Test_NewShutdownCoordinator_DefaultTimeout(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, 0)
	if c.drainTimeout != DefaultDrainTimeout {
		t.Errorf("drainTimeout = %s, want %s", c.drainTimeout, DefaultDrainTimeout)
	}
}

// ---------------------------------------------------------------------------
// Signal handling
// ---------------------------------------------------------------------------

func Test_Watch_ShutsDownOnSignal(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, time.Second)

	signals := make(chan os.Signal, 1)
	go c.Watch(signals)
	signals <- syscall.SIGTERM

	deadline := time.After(time.Second)
	for c.State() != StateClosed {
		select {
		case <-deadline:
			t.Fatalf("State() = %v after signal, want closed", c.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(signals)
}

func Test_Watch_SecondSignalIsNoOp(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, time.Second)

	signals := make(chan os.Signal, 2)
	signals <- syscall.SIGINT
	signals <- syscall.SIGTERM
	close(signals)

	// Watch drains the whole channel before returning; both signals hit
	// Shutdown and only the first does work.
	c.Watch(signals)

	if got := c.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
}

func Test_Notify_StopUninstallsHandler(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, time.Second)
	stop := c.Notify()
	stop()

	if got := c.State(); got != StateRunning {
		t.Errorf("State() = %v, want running with no signal delivered", got)
	}
}
