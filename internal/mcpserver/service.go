// Package mcpserver provides the MCP server for PostgreSQL analysis tools.
//
// It owns the dispatch contract: a static registry of tools built once at
// startup, per-operation driver construction according to the process-wide
// access mode, uniform success/error response shaping, and the pending
// operation bookkeeping the shutdown coordinator drains against.
package mcpserver

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"postgres-mcp/internal/sqldriver"
)

// toolEntry pairs a tool definition with its handler. The registry of entries
// is built once by NewService and read-only thereafter.
type toolEntry struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

// Service carries the process-wide state every dispatched operation needs:
// the access mode, the shared connection pool, the session metadata cache and
// the pending operation set. It replaces what would otherwise be mutable
// globals, so the mode and pool are testable in isolation.
type Service struct {
	mode    sqldriver.AccessMode
	pool    *sqldriver.ConnPool
	cache   *sqldriver.MetadataCache
	pending *operationSet
	logger  *log.Logger

	entries []toolEntry
	byName  map[string]toolEntry
}

// NewService builds a Service around an already-constructed pool. The pool
// may be unconnected; operations that need the database will then fail
// individually while the service keeps serving.
func NewService(pool *sqldriver.ConnPool, mode sqldriver.AccessMode, logger *log.Logger) *Service {
	s := &Service{
		mode:    mode,
		pool:    pool,
		pending: newOperationSet(),
		logger:  logger,
	}
	s.cache = sqldriver.NewMetadataCache(s.Driver, logger)

	s.entries = []toolEntry{
		{getAnalysisPlanTool(), s.handleGetAnalysisPlan},
		{explainQueryTool(), s.handleExplainQuery},
		{queryTool(), s.handleQuery},
		{analyzeWorkloadTool(), s.handleAnalyzeWorkload},
		{analyzeQueriesTool(), s.handleAnalyzeQueries},
		{databaseHealthTool(), s.handleDatabaseHealth},
	}
	s.byName = make(map[string]toolEntry, len(s.entries))
	for _, e := range s.entries {
		s.byName[e.tool.Name] = e
	}
	return s
}

// Driver is the driver factory: a fresh handle over the shared pool, built
// under the process-wide access mode. Called once per dispatched operation.
func (s *Service) Driver() sqldriver.Executor {
	return sqldriver.New(s.pool, s.mode)
}

// Mode returns the access mode the service was started with.
func (s *Service) Mode() sqldriver.AccessMode {
	return s.mode
}

// Metadata returns the session metadata cache.
func (s *Service) Metadata() *sqldriver.MetadataCache {
	return s.cache
}

// PendingOperations returns the number of currently dispatched operations.
func (s *Service) PendingOperations() int {
	return s.pending.size()
}

// Dispatch routes one inbound tool call. Unknown names produce a structured
// error response echoing the offending name. The operation is registered in
// the pending set for its whole duration, and any failure a handler returns
// as a Go error is converted into an error response here; nothing propagates
// to the transport unhandled.
func (s *Service) Dispatch(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	entry, ok := s.byName[name]
	if !ok {
		return formatErrorResponse(fmt.Sprintf("unsupported tool: %q", name)), nil
	}

	s.pending.add()
	defer s.pending.done()

	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}

	result, err := entry.handler(ctx, request)
	if err != nil {
		s.logger.Printf("Tool %s failed: %v", name, err)
		return formatErrorResponse(err.Error()), nil
	}
	return result, nil
}

// formatTextResponse wraps a successful result as a textual response.
func formatTextResponse(text string) *mcp.CallToolResult {
	return mcp.NewToolResultText(text)
}

// formatErrorResponse wraps a failure as a textual error response. The
// "Error:" marker distinguishes failures from success payloads for callers
// that only look at the text.
func formatErrorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("Error: %s", message))
}

// operationSet tracks operations that are dispatched and not yet completed.
// wait observes the set reaching empty within a bound; the counter may rise
// again afterwards, which waiters started before the rise do not see.
type operationSet struct {
	mu    sync.Mutex
	count int
	zero  chan struct{}
}

func newOperationSet() *operationSet {
	zero := make(chan struct{})
	close(zero)
	return &operationSet{zero: zero}
}

func (s *operationSet) add() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		s.zero = make(chan struct{})
	}
	s.count++
}

func (s *operationSet) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count--
	if s.count == 0 {
		close(s.zero)
	}
}

func (s *operationSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// wait blocks until the set is empty or the timeout elapses. Reports whether
// the set drained in time.
func (s *operationSet) wait(timeout time.Duration) bool {
	s.mu.Lock()
	zero := s.zero
	s.mu.Unlock()

	select {
	case <-zero:
		return true
	case <-time.After(timeout):
		return false
	}
}
