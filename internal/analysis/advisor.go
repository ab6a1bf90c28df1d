package analysis

import (
	"context"
	"fmt"
	"strings"

	"postgres-mcp/internal/sqldriver"
)

const (
	// MaxAdvisorQueries bounds the query list accepted by AnalyzeQueries.
	MaxAdvisorQueries = 10

	// workloadQueryLimit is how many statements AnalyzeWorkload pulls from
	// pg_stat_statements.
	workloadQueryLimit = 20

	// minCostImprovement is the fraction of plan cost a hypothetical index must
	// save before it is recommended.
	minCostImprovement = 0.10
)

// workloadSQL selects the most expensive statements by mean execution time.
// Utility and catalog statements are excluded.
const workloadSQL = `
	SELECT query, calls, mean_exec_time
	FROM pg_stat_statements
	WHERE query NOT ILIKE '%pg_catalog%'
	  AND query NOT ILIKE '%pg_stat_statements%'
	  AND query NOT ILIKE 'EXPLAIN%'
	  AND calls > 0
	ORDER BY mean_exec_time DESC
	LIMIT ` // limit appended as a parameter

// AdvisorTool recommends indexes for a workload or an explicit query list by
// costing candidate indexes with hypopg.
type AdvisorTool struct {
	exec sqldriver.Executor
}

// NewAdvisorTool returns an AdvisorTool executing through exec.
func NewAdvisorTool(exec sqldriver.Executor) *AdvisorTool {
	return &AdvisorTool{exec: exec}
}

// AnalyzeWorkload pulls the slowest statements from pg_stat_statements and
// recommends indexes for them. maxIndexSizeMB caps the estimated size of any
// recommended index.
func (t *AdvisorTool) AnalyzeWorkload(ctx context.Context, maxIndexSizeMB int) (string, error) {
	rows, err := t.exec.ExecuteQuery(ctx, workloadSQL+"$1", workloadQueryLimit)
	if err != nil {
		return "", fmt.Errorf("failed to read workload (is pg_stat_statements installed?): %w", err)
	}
	if len(rows) == 0 {
		return "No statements found in pg_stat_statements; nothing to analyze.", nil
	}

	queries := make([]string, 0, len(rows))
	for _, row := range rows {
		if q, ok := row.Cells["query"].(string); ok && q != "" {
			queries = append(queries, q)
		}
	}

	return t.analyze(ctx, queries, maxIndexSizeMB,
		fmt.Sprintf("Workload analysis of the %d slowest statements by mean execution time.", len(queries)))
}

// AnalyzeQueries recommends indexes for an explicit list of queries.
// The dispatcher enforces the list bounds before calling.
func (t *AdvisorTool) AnalyzeQueries(ctx context.Context, queries []string, maxIndexSizeMB int) (string, error) {
	return t.analyze(ctx, queries, maxIndexSizeMB,
		fmt.Sprintf("Index analysis of %d supplied queries.", len(queries)))
}

// recommendation is one index the advisor decided is worth creating.
type recommendation struct {
	index      HypotheticalIndex
	costBefore float64
	costAfter  float64
	sizeBytes  int64
}

// analyze costs candidate indexes per query and formats the combined report.
func (t *AdvisorTool) analyze(ctx context.Context, queries []string, maxIndexSizeMB int, header string) (string, error) {
	installed, message, err := CheckHypopg(ctx, t.exec)
	if err != nil {
		return "", err
	}
	if !installed {
		return message, nil
	}

	explain := NewExplainTool(t.exec)

	var recommendations []recommendation
	seen := make(map[string]bool)
	skipped := 0

	for _, query := range queries {
		plan, err := explain.Explain(ctx, query)
		if err != nil {
			skipped++
			continue
		}
		costBefore := planCost(plan)
		if costBefore <= 0 {
			skipped++
			continue
		}

		for _, candidate := range candidateIndexes(query) {
			key := candidate.createStatement()
			if seen[key] {
				continue
			}
			seen[key] = true

			rec, ok := t.costCandidate(ctx, explain, query, costBefore, candidate)
			if !ok {
				continue
			}
			if maxIndexSizeMB > 0 && rec.sizeBytes > int64(maxIndexSizeMB)*1024*1024 {
				continue
			}
			recommendations = append(recommendations, rec)
		}
	}

	return formatAdvisorReport(header, recommendations, len(queries), skipped), nil
}

// costCandidate simulates one index and measures the plan cost change.
// The hypopg session state is always reset before returning.
func (t *AdvisorTool) costCandidate(ctx context.Context, explain *ExplainTool, query string, costBefore float64, candidate HypotheticalIndex) (recommendation, bool) {
	defer func() { _, _ = t.exec.ExecuteQuery(ctx, "SELECT hypopg_reset()") }()

	rows, err := t.exec.ExecuteQuery(ctx,
		"SELECT indexrelid FROM hypopg_create_index($1)", candidate.createStatement())
	if err != nil || len(rows) == 0 {
		return recommendation{}, false
	}

	plan, err := explain.Explain(ctx, query)
	if err != nil {
		return recommendation{}, false
	}
	costAfter := planCost(plan)
	if costAfter < 0 || (costBefore-costAfter)/costBefore < minCostImprovement {
		return recommendation{}, false
	}

	var sizeBytes int64
	if sizeRows, err := t.exec.ExecuteQuery(ctx,
		"SELECT hypopg_relation_size($1) AS size", rows[0].Cells["indexrelid"]); err == nil && len(sizeRows) > 0 {
		switch v := sizeRows[0].Cells["size"].(type) {
		case int64:
			sizeBytes = v
		case int32:
			sizeBytes = int64(v)
		}
	}

	return recommendation{
		index:      candidate,
		costBefore: costBefore,
		costAfter:  costAfter,
		sizeBytes:  sizeBytes,
	}, true
}

// formatAdvisorReport renders recommendations as a text report.
func formatAdvisorReport(header string, recs []recommendation, analyzed, skipped int) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")

	if len(recs) == 0 {
		b.WriteString("No index recommendations. Existing indexes appear adequate for the analyzed queries.\n")
	} else {
		b.WriteString("Recommended indexes:\n")
		for i, rec := range recs {
			improvement := (rec.costBefore - rec.costAfter) / rec.costBefore * 100
			b.WriteString(fmt.Sprintf("%d. %s\n", i+1, rec.index.createStatement()))
			b.WriteString(fmt.Sprintf("   cost %.2f -> %.2f (%.0f%% improvement), estimated size %s\n",
				rec.costBefore, rec.costAfter, improvement, formatBytes(rec.sizeBytes)))
		}
	}

	b.WriteString(fmt.Sprintf("\n%d quer%s analyzed", analyzed, pluralYies(analyzed)))
	if skipped > 0 {
		b.WriteString(fmt.Sprintf(", %d skipped (not explainable)", skipped))
	}
	b.WriteString(".")
	return b.String()
}

func pluralYies(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// formatBytes renders a byte count in a human-readable unit.
func formatBytes(n int64) string {
	switch {
	case n >= 1024*1024*1024:
		return fmt.Sprintf("%.1f GB", float64(n)/(1024*1024*1024))
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	case n >= 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
