package sqldriver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConnected is returned when a driver needs the database but the pool
// was never established (or has already been closed).
var ErrNotConnected = errors.New("database connection pool is not connected")

// ErrPoolClosed is returned by Connect after Close. The pool lifecycle is
// monotonic: Disconnected -> Connected -> Closed, with no reconnect.
var ErrPoolClosed = errors.New("database connection pool is closed")

// ConnPool owns the single pgx connection pool for the process.
// Logical handles borrow from it; none owns it exclusively. All methods are
// safe for concurrent use.
type ConnPool struct {
	mu     sync.Mutex
	pool   *pgxpool.Pool
	closed bool
}

// NewConnPool returns a pool in the Disconnected state.
func NewConnPool() *ConnPool {
	return &ConnPool{}
}

// Connect establishes the pool from a PostgreSQL connection string and
// verifies connectivity with a ping. Calling Connect a second time before
// Close is an error; calling it after Close returns ErrPoolClosed.
func (p *ConnPool) Connect(ctx context.Context, connStr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if p.pool != nil {
		return fmt.Errorf("connection pool already established")
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to reach database: %w", err)
	}

	p.pool = pool
	return nil
}

// Acquire returns the underlying pool for query execution.
// Returns ErrNotConnected when disconnected or closed.
func (p *ConnPool) Acquire() (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool == nil {
		return nil, ErrNotConnected
	}
	return p.pool, nil
}

// Connected reports whether the pool currently holds a live handle.
func (p *ConnPool) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool != nil
}

// Close releases the pool. It is a no-op when never connected and a no-op on
// every call after the first, which is what makes the shutdown coordinator's
// close-exactly-once guarantee hold under repeated termination signals.
func (p *ConnPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
}

var (
	urlPasswordRegex = regexp.MustCompile(`(://[^:/?#@\s]+:)[^@\s]+(@)`)
	kvPasswordRegex  = regexp.MustCompile(`(?i)(password\s*=\s*)\S+`)
)

// ObfuscatePassword redacts the password portion of a connection string or of
// an error message that embeds one, for both URL-style and keyword/value DSNs.
func ObfuscatePassword(s string) string {
	s = urlPasswordRegex.ReplaceAllString(s, "${1}*****${2}")
	s = kvPasswordRegex.ReplaceAllString(s, "${1}*****")
	return s
}
