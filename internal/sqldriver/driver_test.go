package sqldriver

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Driver factory
// ---------------------------------------------------------------------------

func Test_New_UnrestrictedReturnsPlainDriver(t *testing.T) {
	t.Parallel()

	exec := New(NewConnPool(), AccessUnrestricted)
	if _, ok := exec.(*Driver); !ok {
		t.Errorf("New(unrestricted) returned %T, want *Driver", exec)
	}
}

func Test_New_RestrictedReturnsSafeDriver(t *testing.T) {
	t.Parallel()

	exec := New(NewConnPool(), AccessRestricted)
	safe, ok := exec.(*SafeDriver)
	if !ok {
		t.Fatalf("New(restricted) returned %T, want *SafeDriver", exec)
	}
	if safe.timeout != StatementTimeout {
		t.Errorf("SafeDriver timeout = %v, want %v", safe.timeout, StatementTimeout)
	}
}

func Test_New_FreshHandlePerCall(t *testing.T) {
	t.Parallel()

	pool := NewConnPool()
	first := New(pool, AccessUnrestricted)
	second := New(pool, AccessUnrestricted)
	if first == second {
		t.Error("New() returned the same handle for two calls, want a fresh handle per operation")
	}
}

func Test_StatementTimeout_PolicyConstant(t *testing.T) {
	t.Parallel()

	if StatementTimeout != 30*time.Second {
		t.Errorf("StatementTimeout = %v, want 30s", StatementTimeout)
	}
}

// ---------------------------------------------------------------------------
// Execution against a disconnected pool
// ---------------------------------------------------------------------------

func Test_Driver_DisconnectedPool(t *testing.T) {
	t.Parallel()

	exec := New(NewConnPool(), AccessUnrestricted)
	_, err := exec.ExecuteQuery(context.Background(), "SELECT 1")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("ExecuteQuery on disconnected pool: err = %v, want ErrNotConnected", err)
	}
}

// Validation must run before the pool is touched: a rejected statement on a
// disconnected pool reports the validation failure, not connectivity.
func Test_SafeDriver_ValidatesBeforePoolAccess(t *testing.T) {
	t.Parallel()

	exec := New(NewConnPool(), AccessRestricted)
	_, err := exec.ExecuteQuery(context.Background(), "DELETE FROM users")
	if err == nil {
		t.Fatal("SafeDriver accepted a mutating statement")
	}
	if errors.Is(err, ErrNotConnected) {
		t.Errorf("SafeDriver touched the pool before validating: err = %v", err)
	}
}

func Test_SafeDriver_ReadReachesPool(t *testing.T) {
	t.Parallel()

	exec := New(NewConnPool(), AccessRestricted)
	_, err := exec.ExecuteQuery(context.Background(), "SELECT 1")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("SafeDriver read on disconnected pool: err = %v, want ErrNotConnected", err)
	}
}
