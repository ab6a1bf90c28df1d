package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"postgres-mcp/internal/analysis"
	"postgres-mcp/internal/sqldriver"
)

// PgStatStatements is the extension that records workload statistics.
const PgStatStatements = "pg_stat_statements"

// handleGetAnalysisPlan builds a step-by-step plan for a named analysis task.
// The only supported task today is "slow queries"; the plan consults the
// cached extension metadata to decide whether pg_stat_statements must be
// installed first.
func (s *Service) handleGetAnalysisPlan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := request.RequireString("task")
	if err != nil {
		return formatErrorResponse("Missing required parameter: task"), nil
	}

	var plan []string
	if task == "slow queries" {
		extensions, err := s.cache.Get(ctx, "extensions")
		if err != nil {
			return formatErrorResponse(err.Error()), nil
		}
		if !hasExtension(extensions, PgStatStatements) {
			plan = append(plan, fmt.Sprintf("Install the %s extension. It is not installed.", PgStatStatements))
		}
		plan = append(plan,
			"Get the slowest queries by mean time and include query id, full query text, calls, total time, mean time, and rows.",
			"Include analysis of shared and local block hit ratios and outliers in terms of stddev if relevant.",
		)
	}

	if len(plan) == 0 {
		return formatErrorResponse(fmt.Sprintf("'%s' is not supported by this tool", task)), nil
	}

	var b strings.Builder
	b.WriteString("Follow this plan step by step:\n")
	for i, step := range plan {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, step))
	}
	return formatTextResponse(b.String()), nil
}

// handleExplainQuery explains a query's execution plan, optionally with real
// execution statistics (analyze) or simulated hypothetical indexes. The two
// options are mutually exclusive: analyze executes against real state while
// hypothetical indexes simulate against hypothetical state.
func (s *Service) handleExplainQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sql, err := request.RequireString("sql")
	if err != nil {
		return formatErrorResponse("Missing required parameter: sql"), nil
	}
	analyze := request.GetBool("analyze", false)
	hypotheticalRaw, _ := request.GetArguments()["hypothetical_indexes"].([]any)

	driver := s.Driver()
	explainTool := analysis.NewExplainTool(driver)

	var plan string
	switch {
	case len(hypotheticalRaw) > 0:
		if analyze {
			return formatErrorResponse("Cannot use analyze and hypothetical indexes together"), nil
		}

		indexes, err := analysis.ParseHypotheticalIndexes(hypotheticalRaw)
		if err != nil {
			return formatErrorResponse(err.Error()), nil
		}

		installed, message, err := analysis.CheckHypopg(ctx, driver)
		if err != nil {
			return formatErrorResponse(err.Error()), nil
		}
		if !installed {
			return formatTextResponse(message), nil
		}

		plan, err = explainTool.ExplainWithHypotheticalIndexes(ctx, sql, indexes)
		if err != nil {
			return formatErrorResponse(err.Error()), nil
		}

	case analyze:
		plan, err = explainTool.ExplainAnalyze(ctx, sql)
		if err != nil {
			return formatErrorResponse(err.Error()), nil
		}

	default:
		plan, err = explainTool.Explain(ctx, sql)
		if err != nil {
			return formatErrorResponse(err.Error()), nil
		}
	}

	return formatTextResponse(plan), nil
}

// handleQuery runs a SQL statement through the mode-selected driver.
// In restricted mode the driver rejects mutating statements before execution.
func (s *Service) handleQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sql, err := request.RequireString("sql")
	if err != nil {
		return formatErrorResponse("Missing required parameter: sql"), nil
	}
	if strings.TrimSpace(sql) == "" {
		return formatErrorResponse("Query cannot be empty"), nil
	}

	rows, err := s.Driver().ExecuteQuery(ctx, sql)
	if err != nil {
		return formatErrorResponse(err.Error()), nil
	}
	if len(rows) == 0 {
		return formatTextResponse("No results"), nil
	}
	return formatTextResponse(formatRows(rows)), nil
}

// handleAnalyzeWorkload recommends indexes for the recorded workload.
func (s *Service) handleAnalyzeWorkload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	maxIndexSizeMB := request.GetInt("max_index_size_mb", 10000)

	advisor := analysis.NewAdvisorTool(s.Driver())
	result, err := advisor.AnalyzeWorkload(ctx, maxIndexSizeMB)
	if err != nil {
		return formatErrorResponse(err.Error()), nil
	}
	return formatTextResponse(result), nil
}

// handleAnalyzeQueries recommends indexes for an explicit list of queries.
// The list must be non-empty and hold at most analysis.MaxAdvisorQueries
// entries; violations are rejected before any database work.
func (s *Service) handleAnalyzeQueries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	queriesRaw, _ := request.GetArguments()["queries"].([]any)
	if len(queriesRaw) == 0 {
		return formatErrorResponse("Please provide a non-empty list of queries to analyze."), nil
	}
	if len(queriesRaw) > analysis.MaxAdvisorQueries {
		return formatErrorResponse(fmt.Sprintf("Please provide a list of up to %d queries to analyze.", analysis.MaxAdvisorQueries)), nil
	}

	queries := make([]string, len(queriesRaw))
	for i, q := range queriesRaw {
		query, ok := q.(string)
		if !ok || strings.TrimSpace(query) == "" {
			return formatErrorResponse(fmt.Sprintf("Query at position %d is not a non-empty string", i)), nil
		}
		queries[i] = query
	}

	maxIndexSizeMB := request.GetInt("max_index_size_mb", 10000)

	advisor := analysis.NewAdvisorTool(s.Driver())
	result, err := advisor.AnalyzeQueries(ctx, queries, maxIndexSizeMB)
	if err != nil {
		return formatErrorResponse(err.Error()), nil
	}
	return formatTextResponse(result), nil
}

// handleDatabaseHealth runs the requested health diagnostics.
func (s *Service) handleDatabaseHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	healthType := request.GetString("health_type", string(analysis.HealthAll))

	healthTool := analysis.NewHealthTool(s.Driver())
	result, err := healthTool.Health(ctx, healthType)
	if err != nil {
		return formatErrorResponse(err.Error()), nil
	}
	return formatTextResponse(result), nil
}

// hasExtension reports whether the extension metadata rows include name.
func hasExtension(rows []sqldriver.Row, name string) bool {
	for _, row := range rows {
		if row.Cells["name"] == name {
			return true
		}
	}
	return false
}

// formatRows renders rows as a text table with a header, separator and row
// count. Columns are ordered alphabetically since result cells are keyed by
// name.
func formatRows(rows []sqldriver.Row) string {
	columns := make([]string, 0, len(rows[0].Cells))
	for name := range rows[0].Cells {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	var result strings.Builder
	result.WriteString(strings.Join(columns, " | "))
	result.WriteString("\n")

	separators := make([]string, len(columns))
	for i := range separators {
		separators[i] = strings.Repeat("-", len(columns[i]))
	}
	result.WriteString(strings.Join(separators, "-|-"))
	result.WriteString("\n")

	for _, row := range rows {
		values := make([]string, len(columns))
		for i, col := range columns {
			if row.Cells[col] == nil {
				values[i] = "NULL"
			} else {
				values[i] = fmt.Sprintf("%v", row.Cells[col])
			}
		}
		result.WriteString(strings.Join(values, " | "))
		result.WriteString("\n")
	}

	result.WriteString(fmt.Sprintf("\n(%d row(s))", len(rows)))
	return result.String()
}
