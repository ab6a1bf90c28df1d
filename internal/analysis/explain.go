// Package analysis implements the database analysis tools exposed by the MCP
// server: execution-plan explanation, workload-driven index recommendation,
// and health diagnostics. Every tool executes through an injected
// sqldriver.Executor and never touches the pool directly.
package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"postgres-mcp/internal/sqldriver"
)

// identifierRegex validates SQL identifiers (table and column names).
// Only allows alphanumeric characters and underscores, must start with letter or underscore.
var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// isValidIdentifier checks if a name is a valid SQL identifier.
// This prevents SQL injection for names which cannot be parameterized.
func isValidIdentifier(name string) bool {
	return identifierRegex.MatchString(name)
}

// HypotheticalIndex describes one index to simulate with hypopg.
type HypotheticalIndex struct {
	Table   string
	Columns []string
	Using   string
}

// ParseHypotheticalIndexes converts the raw tool argument (an array of objects
// with "table", "columns" and optional "using" keys) into validated index
// definitions.
func ParseHypotheticalIndexes(raw []any) ([]HypotheticalIndex, error) {
	indexes := make([]HypotheticalIndex, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("hypothetical index at position %d is not an object", i)
		}

		table, _ := obj["table"].(string)
		if table == "" {
			return nil, fmt.Errorf("hypothetical index at position %d is missing 'table'", i)
		}
		if !isValidIdentifier(table) {
			return nil, fmt.Errorf("invalid table name: %s", table)
		}

		columnsRaw, ok := obj["columns"].([]any)
		if !ok || len(columnsRaw) == 0 {
			return nil, fmt.Errorf("hypothetical index on %q is missing 'columns'", table)
		}
		columns := make([]string, len(columnsRaw))
		for j, col := range columnsRaw {
			colStr, ok := col.(string)
			if !ok || !isValidIdentifier(colStr) {
				return nil, fmt.Errorf("invalid column name at position %d for table %q", j, table)
			}
			columns[j] = colStr
		}

		using, _ := obj["using"].(string)
		if using == "" {
			using = "btree"
		}
		if !isValidIdentifier(using) {
			return nil, fmt.Errorf("invalid index method: %s", using)
		}

		indexes = append(indexes, HypotheticalIndex{Table: table, Columns: columns, Using: using})
	}
	return indexes, nil
}

// createStatement renders the CREATE INDEX statement passed to
// hypopg_create_index. Identifiers were validated during parsing.
func (ix HypotheticalIndex) createStatement() string {
	return fmt.Sprintf("CREATE INDEX ON %s USING %s (%s)",
		ix.Table, ix.Using, strings.Join(ix.Columns, ", "))
}

// ExplainTool produces execution plans for SQL queries.
type ExplainTool struct {
	exec sqldriver.Executor
}

// NewExplainTool returns an ExplainTool executing through exec.
func NewExplainTool(exec sqldriver.Executor) *ExplainTool {
	return &ExplainTool{exec: exec}
}

// Explain returns the estimated execution plan without running the query.
func (t *ExplainTool) Explain(ctx context.Context, sql string) (string, error) {
	return t.runExplain(ctx, "EXPLAIN "+sql)
}

// ExplainAnalyze runs the query and returns the plan with real execution
// statistics and buffer usage.
func (t *ExplainTool) ExplainAnalyze(ctx context.Context, sql string) (string, error) {
	return t.runExplain(ctx, "EXPLAIN (ANALYZE, BUFFERS) "+sql)
}

// ExplainWithHypotheticalIndexes simulates the given indexes with hypopg and
// returns the plan the optimizer would choose if they existed. The hypopg
// session state is reset before returning, success or failure.
func (t *ExplainTool) ExplainWithHypotheticalIndexes(ctx context.Context, sql string, indexes []HypotheticalIndex) (string, error) {
	for _, ix := range indexes {
		_, err := t.exec.ExecuteQuery(ctx, "SELECT hypopg_create_index($1)", ix.createStatement())
		if err != nil {
			_, _ = t.exec.ExecuteQuery(ctx, "SELECT hypopg_reset()")
			return "", fmt.Errorf("failed to create hypothetical index on %s: %w", ix.Table, err)
		}
	}

	plan, err := t.runExplain(ctx, "EXPLAIN "+sql)

	if _, resetErr := t.exec.ExecuteQuery(ctx, "SELECT hypopg_reset()"); resetErr != nil && err == nil {
		err = fmt.Errorf("failed to reset hypothetical indexes: %w", resetErr)
	}
	if err != nil {
		return "", err
	}
	return plan, nil
}

// runExplain executes an EXPLAIN statement and joins the plan lines.
func (t *ExplainTool) runExplain(ctx context.Context, stmt string) (string, error) {
	rows, err := t.exec.ExecuteQuery(ctx, stmt)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("explain returned no plan")
	}

	var plan strings.Builder
	for i, row := range rows {
		if i > 0 {
			plan.WriteString("\n")
		}
		plan.WriteString(fmt.Sprintf("%v", row.Cells["QUERY PLAN"]))
	}
	return plan.String(), nil
}

// planCostRegex extracts the total estimated cost from the first plan line,
// e.g. "Seq Scan on users  (cost=0.00..35.50 rows=2550 width=4)".
var planCostRegex = regexp.MustCompile(`cost=[0-9.]+\.\.([0-9]+(?:\.[0-9]+)?)`)

// planCost parses the total cost out of a text-format plan. Returns -1 when
// no cost annotation is present (e.g. EXPLAIN of a utility statement).
func planCost(plan string) float64 {
	match := planCostRegex.FindStringSubmatch(plan)
	if match == nil {
		return -1
	}
	var cost float64
	if _, err := fmt.Sscanf(match[1], "%f", &cost); err != nil {
		return -1
	}
	return cost
}
