package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"postgres-mcp/internal/sqldriver"
)

// HealthType names one category of database health check.
type HealthType string

const (
	HealthIndex       HealthType = "index"
	HealthConnection  HealthType = "connection"
	HealthVacuum      HealthType = "vacuum"
	HealthSequence    HealthType = "sequence"
	HealthReplication HealthType = "replication"
	HealthBuffer      HealthType = "buffer"
	HealthConstraint  HealthType = "constraint"
	HealthAll         HealthType = "all"
)

// AllHealthTypes lists every concrete check, in report order.
var AllHealthTypes = []HealthType{
	HealthIndex, HealthConnection, HealthVacuum, HealthSequence,
	HealthReplication, HealthBuffer, HealthConstraint,
}

// HealthTypeValues returns the valid health_type argument values, sorted,
// for use in tool descriptions and error messages.
func HealthTypeValues() []string {
	values := make([]string, 0, len(AllHealthTypes)+1)
	for _, t := range AllHealthTypes {
		values = append(values, string(t))
	}
	values = append(values, string(HealthAll))
	sort.Strings(values)
	return values
}

// ParseHealthTypes parses a comma-separated health_type argument. "all"
// expands to every concrete check. Unknown names are an error.
func ParseHealthTypes(s string) ([]HealthType, error) {
	var types []HealthType
	seen := make(map[HealthType]bool)

	for _, part := range strings.Split(s, ",") {
		name := HealthType(strings.ToLower(strings.TrimSpace(part)))
		if name == "" {
			continue
		}
		if name == HealthAll {
			return AllHealthTypes, nil
		}

		valid := false
		for _, t := range AllHealthTypes {
			if name == t {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("invalid health check type %q (valid values: %s)",
				name, strings.Join(HealthTypeValues(), ", "))
		}
		if !seen[name] {
			seen[name] = true
			types = append(types, name)
		}
	}

	if len(types) == 0 {
		return nil, fmt.Errorf("no health check types specified (valid values: %s)",
			strings.Join(HealthTypeValues(), ", "))
	}
	return types, nil
}

// HealthTool runs health diagnostics against the catalog and statistics views.
type HealthTool struct {
	exec sqldriver.Executor
}

// NewHealthTool returns a HealthTool executing through exec.
func NewHealthTool(exec sqldriver.Executor) *HealthTool {
	return &HealthTool{exec: exec}
}

// Health runs the requested checks and returns a combined text report.
// healthType is a comma-separated list of check names or "all".
func (t *HealthTool) Health(ctx context.Context, healthType string) (string, error) {
	types, err := ParseHealthTypes(healthType)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i, ht := range types {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(fmt.Sprintf("=== %s health ===\n", ht))

		section, err := t.runCheck(ctx, ht)
		if err != nil {
			return "", fmt.Errorf("%s health check failed: %w", ht, err)
		}
		b.WriteString(section)
	}
	return b.String(), nil
}

func (t *HealthTool) runCheck(ctx context.Context, ht HealthType) (string, error) {
	switch ht {
	case HealthIndex:
		return t.checkIndexes(ctx)
	case HealthConnection:
		return t.checkConnections(ctx)
	case HealthVacuum:
		return t.checkVacuum(ctx)
	case HealthSequence:
		return t.checkSequences(ctx)
	case HealthReplication:
		return t.checkReplication(ctx)
	case HealthBuffer:
		return t.checkBuffer(ctx)
	case HealthConstraint:
		return t.checkConstraints(ctx)
	default:
		return "", fmt.Errorf("unhandled health type %q", ht)
	}
}

// checkIndexes reports invalid, unused and duplicate indexes.
func (t *HealthTool) checkIndexes(ctx context.Context) (string, error) {
	var b strings.Builder

	invalid, err := t.exec.ExecuteQuery(ctx, `
		SELECT c.relname AS index_name
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indexrelid
		WHERE NOT i.indisvalid
		ORDER BY c.relname`)
	if err != nil {
		return "", err
	}
	b.WriteString(listSection("Invalid indexes", invalid, "index_name",
		"none", "consider REINDEX or DROP"))

	unused, err := t.exec.ExecuteQuery(ctx, `
		SELECT s.relname || '.' || s.indexrelname AS index_name
		FROM pg_stat_user_indexes s
		JOIN pg_index i ON i.indexrelid = s.indexrelid
		WHERE s.idx_scan = 0 AND NOT i.indisunique AND NOT i.indisprimary
		ORDER BY pg_relation_size(s.indexrelid) DESC
		LIMIT 20`)
	if err != nil {
		return "", err
	}
	b.WriteString(listSection("Unused indexes (never scanned)", unused, "index_name",
		"none", "candidates for removal"))

	duplicate, err := t.exec.ExecuteQuery(ctx, `
		SELECT array_agg(c.relname ORDER BY c.relname)::text AS index_name
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indexrelid
		GROUP BY i.indrelid, i.indkey, i.indclass
		HAVING count(*) > 1`)
	if err != nil {
		return "", err
	}
	b.WriteString(listSection("Duplicate index groups", duplicate, "index_name",
		"none", "keep one per group"))

	return b.String(), nil
}

// checkConnections reports connection counts against max_connections.
func (t *HealthTool) checkConnections(ctx context.Context) (string, error) {
	rows, err := t.exec.ExecuteQuery(ctx, `
		SELECT count(*) AS total,
		       count(*) FILTER (WHERE state = 'active') AS active,
		       count(*) FILTER (WHERE state = 'idle') AS idle,
		       count(*) FILTER (WHERE state = 'idle in transaction') AS idle_in_tx,
		       current_setting('max_connections')::bigint AS max_connections
		FROM pg_stat_activity
		WHERE backend_type = 'client backend'`)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "No connection statistics available.", nil
	}

	c := rows[0].Cells
	total := toInt64(c["total"])
	max := toInt64(c["max_connections"])
	report := fmt.Sprintf("Connections: %d of %d max (%d active, %d idle, %d idle in transaction)",
		total, max, toInt64(c["active"]), toInt64(c["idle"]), toInt64(c["idle_in_tx"]))
	if max > 0 && total*100/max >= 80 {
		report += "\nWarning: connection utilization at or above 80%."
	}
	return report, nil
}

// checkVacuum reports dead-tuple buildup and transaction ID age.
func (t *HealthTool) checkVacuum(ctx context.Context) (string, error) {
	var b strings.Builder

	bloated, err := t.exec.ExecuteQuery(ctx, `
		SELECT relname || ' (' || n_dead_tup || ' dead tuples)' AS table_info
		FROM pg_stat_user_tables
		WHERE n_dead_tup > 10000
		  AND n_dead_tup > n_live_tup / 10
		ORDER BY n_dead_tup DESC
		LIMIT 10`)
	if err != nil {
		return "", err
	}
	b.WriteString(listSection("Tables with dead tuple buildup", bloated, "table_info",
		"none", "autovacuum may be lagging"))

	age, err := t.exec.ExecuteQuery(ctx, `
		SELECT datname, age(datfrozenxid) AS xid_age
		FROM pg_database
		WHERE datname = current_database()`)
	if err != nil {
		return "", err
	}
	if len(age) > 0 {
		xidAge := toInt64(age[0].Cells["xid_age"])
		b.WriteString(fmt.Sprintf("Transaction ID age: %d", xidAge))
		if xidAge > 1_500_000_000 {
			b.WriteString(" (Warning: approaching wraparound, vacuum urgently)")
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// checkSequences reports sequences above 80% of their maximum value.
func (t *HealthTool) checkSequences(ctx context.Context) (string, error) {
	rows, err := t.exec.ExecuteQuery(ctx, `
		SELECT schemaname || '.' || sequencename || ' (' ||
		       round(100.0 * COALESCE(last_value, 0) / max_value, 1) || '%)' AS sequence_info
		FROM pg_sequences
		WHERE COALESCE(last_value, 0) > max_value * 0.8
		ORDER BY COALESCE(last_value, 0)::numeric / max_value DESC`)
	if err != nil {
		return "", err
	}
	return listSection("Sequences above 80% of max value", rows, "sequence_info",
		"none", "consider migrating to bigint"), nil
}

// checkReplication reports replica lag from the primary's perspective.
func (t *HealthTool) checkReplication(ctx context.Context) (string, error) {
	rows, err := t.exec.ExecuteQuery(ctx, `
		SELECT application_name || ': ' || state ||
		       ', replay lag ' || COALESCE(replay_lag::text, 'n/a') AS replica_info
		FROM pg_stat_replication
		ORDER BY application_name`)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "No replicas connected.", nil
	}
	return listSection("Replicas", rows, "replica_info", "none", ""), nil
}

// checkBuffer reports the buffer cache hit rate for the current database.
func (t *HealthTool) checkBuffer(ctx context.Context) (string, error) {
	rows, err := t.exec.ExecuteQuery(ctx, `
		SELECT round(100.0 * sum(blks_hit) / NULLIF(sum(blks_hit) + sum(blks_read), 0), 2) AS hit_rate
		FROM pg_stat_database
		WHERE datname = current_database()`)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || rows[0].Cells["hit_rate"] == nil {
		return "Buffer cache hit rate: no data yet.", nil
	}

	report := fmt.Sprintf("Buffer cache hit rate: %v%%", rows[0].Cells["hit_rate"])
	if toFloat64(rows[0].Cells["hit_rate"]) < 90 {
		report += "\nWarning: hit rate below 90%; consider increasing shared_buffers."
	}
	return report, nil
}

// checkConstraints reports constraints that were created NOT VALID and never
// validated.
func (t *HealthTool) checkConstraints(ctx context.Context) (string, error) {
	rows, err := t.exec.ExecuteQuery(ctx, `
		SELECT conrelid::regclass || '.' || conname AS constraint_name
		FROM pg_constraint
		WHERE NOT convalidated
		ORDER BY conname`)
	if err != nil {
		return "", err
	}
	return listSection("Unvalidated constraints", rows, "constraint_name",
		"none", "run ALTER TABLE ... VALIDATE CONSTRAINT"), nil
}

// listSection formats one titled list of single-column rows.
func listSection(title string, rows []sqldriver.Row, column, emptyNote, hint string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString(": ")
	if len(rows) == 0 {
		b.WriteString(emptyNote)
		b.WriteString("\n")
		return b.String()
	}
	if hint != "" {
		b.WriteString("(" + hint + ")")
	}
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(fmt.Sprintf("  - %v\n", row.Cells[column]))
	}
	return b.String()
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	default:
		// pgx returns numeric columns as pgtype values in some configurations;
		// fall back to the string form.
		var f float64
		if _, err := fmt.Sscanf(fmt.Sprintf("%v", v), "%f", &f); err == nil {
			return f
		}
		return 0
	}
}
