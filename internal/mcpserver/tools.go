package mcpserver

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"postgres-mcp/internal/analysis"
)

// getAnalysisPlanTool returns a tool definition for building a step-by-step analysis plan.
func getAnalysisPlanTool() mcp.Tool {
	return mcp.NewTool("get_analysis_plan",
		mcp.WithDescription("Get a plan to perform a database analysis or task. Follow the plan step by step."),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("The type of analysis/task. Valid values are:\n- 'slow queries' to investigate slow queries")),
	)
}

// explainQueryTool returns a tool definition for explaining a query's execution plan.
func explainQueryTool() mcp.Tool {
	return mcp.NewTool("explain_query",
		mcp.WithDescription("Explain the execution plan for a SQL query, showing how the database will execute it with detailed cost estimates."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("SQL query to explain")),
		mcp.WithBoolean("analyze",
			mcp.Description("When true, actually runs the query to show real execution statistics instead of estimates. Takes longer but is more accurate.")),
		mcp.WithArray("hypothetical_indexes",
			mcp.Description(`Optional list of hypothetical indexes to simulate. Each index is an object with:
- 'table': table to add the index to (e.g. 'users')
- 'columns': column names to include (e.g. ['email'] or ['last_name', 'first_name'])
- 'using': optional index method (default 'btree'; 'hash', 'gist', ...)

Example: [{"table": "users", "columns": ["email"]}, {"table": "orders", "columns": ["user_id", "created_at"]}]`)),
	)
}

// queryTool returns a tool definition for running an arbitrary SQL query.
func queryTool() mcp.Tool {
	return mcp.NewTool("query",
		mcp.WithDescription("Run a SQL query. If the query can make changes, first confirm the action with the user."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("SQL to run")),
	)
}

// analyzeWorkloadTool returns a tool definition for workload-driven index recommendation.
func analyzeWorkloadTool() mcp.Tool {
	return mcp.NewTool("analyze_workload",
		mcp.WithDescription("Analyze frequently executed queries in the database and recommend optimal indexes."),
		mcp.WithNumber("max_index_size_mb",
			mcp.Description("Max index size in MB (default 10000)")),
	)
}

// analyzeQueriesTool returns a tool definition for analyzing an explicit query list.
func analyzeQueriesTool() mcp.Tool {
	return mcp.NewTool("analyze_queries",
		mcp.WithDescription(fmt.Sprintf("Analyze a list of (up to %d) SQL queries and recommend optimal indexes.", analysis.MaxAdvisorQueries)),
		mcp.WithArray("queries",
			mcp.Required(),
			mcp.Description("List of query strings to analyze")),
		mcp.WithNumber("max_index_size_mb",
			mcp.Description("Max index size in MB (default 10000)")),
	)
}

// databaseHealthTool returns a tool definition for running health diagnostics.
func databaseHealthTool() mcp.Tool {
	return mcp.NewTool("database_health",
		mcp.WithDescription("Analyze database health for specified components: buffer cache hit rate, duplicate/unused/invalid indexes, sequence health, constraint health, vacuum health, replication and connection health."),
		mcp.WithString("health_type",
			mcp.Description(fmt.Sprintf("Comma-separated list of health check types. Valid values are: %s. Defaults to 'all'.",
				strings.Join(analysis.HealthTypeValues(), ", ")))),
	)
}
