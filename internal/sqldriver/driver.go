package sqldriver

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StatementTimeout bounds every statement issued by a restricted driver.
const StatementTimeout = 30 * time.Second

// Row is a single result row keyed by column name.
type Row struct {
	Cells map[string]any
}

// Executor is the capability through which operations issue SQL statements.
// Implementations are tagged with the access mode they were built under.
type Executor interface {
	ExecuteQuery(ctx context.Context, query string, args ...any) ([]Row, error)
}

// New is the driver factory: it builds a fresh Executor over the shared pool
// for the given access mode. Drivers are cheap view objects and are never
// cached across operations.
func New(pool *ConnPool, mode AccessMode) Executor {
	base := &Driver{pool: pool}
	if mode == AccessRestricted {
		return &SafeDriver{inner: base, timeout: StatementTimeout}
	}
	return base
}

// Driver executes statements with no restriction. Mutating statements reach
// the database as written.
type Driver struct {
	pool *ConnPool
}

// ExecuteQuery implements Executor.
func (d *Driver) ExecuteQuery(ctx context.Context, query string, args ...any) ([]Row, error) {
	pool, err := d.pool.Acquire()
	if err != nil {
		return nil, err
	}
	return queryRows(ctx, pool, query, args...)
}

// SafeDriver wraps Driver with read-only validation and a fixed statement
// timeout. Every statement passes through ValidateReadOnly before execution;
// there is no bypass path.
type SafeDriver struct {
	inner   *Driver
	timeout time.Duration
}

// ExecuteQuery implements Executor.
func (d *SafeDriver) ExecuteQuery(ctx context.Context, query string, args ...any) ([]Row, error) {
	if err := ValidateReadOnly(query); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return d.inner.ExecuteQuery(ctx, query, args...)
}

// queryRows runs a query against the pool and materializes the result set as
// column-name -> value maps, mirroring pgx field descriptions.
func queryRows(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]Row, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()

	var result []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}

		cells := make(map[string]any, len(fields))
		for i, field := range fields {
			name := string(field.Name)
			if name == "" {
				name = fmt.Sprintf("column_%d", i+1)
			}
			cells[name] = values[i]
		}
		result = append(result, Row{Cells: cells})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}
