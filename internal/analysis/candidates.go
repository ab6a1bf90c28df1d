package analysis

import (
	"regexp"
	"strings"
)

var (
	// fromTableRegex captures the first table referenced by FROM, JOIN or
	// UPDATE. Schema-qualified and aliased references resolve to the bare name.
	fromTableRegex = regexp.MustCompile(`(?i)\b(?:from|join|update)\s+(?:[a-zA-Z_][a-zA-Z0-9_]*\.)?([a-zA-Z_][a-zA-Z0-9_]*)`)

	// filterColumnRegex captures columns compared in WHERE/ON/AND/OR clauses.
	filterColumnRegex = regexp.MustCompile(`(?i)\b(?:where|on|and|or)\s+(?:[a-zA-Z_][a-zA-Z0-9_]*\.)?([a-zA-Z_][a-zA-Z0-9_]*)\s*(?:=|<>|!=|<=|>=|<|>|\bin\b|\blike\b|\bbetween\b)`)

	// orderByRegex captures the ORDER BY column list.
	orderByRegex = regexp.MustCompile(`(?i)\border\s+by\s+([a-zA-Z0-9_,.\s]+?)(?:\blimit\b|\boffset\b|\bfor\b|;|$)`)
)

// reservedColumnWords are capture-pattern matches that are never column names.
var reservedColumnWords = map[string]bool{
	"select": true, "not": true, "exists": true, "null": true,
	"true": true, "false": true, "case": true, "when": true,
}

// candidateIndexes derives index candidates from a query's filter and ordering
// columns. Heuristic by design: candidates are only suggestions that hypopg
// costing then accepts or rejects. Queries whose shape cannot be matched
// yield no candidates.
func candidateIndexes(query string) []HypotheticalIndex {
	tableMatch := fromTableRegex.FindStringSubmatch(query)
	if tableMatch == nil {
		return nil
	}
	table := strings.ToLower(tableMatch[1])
	if !isValidIdentifier(table) {
		return nil
	}

	var columns []string
	seen := make(map[string]bool)
	addColumn := func(raw string) {
		col := strings.ToLower(strings.TrimSpace(raw))
		if dot := strings.LastIndexByte(col, '.'); dot >= 0 {
			col = col[dot+1:]
		}
		if col == "" || seen[col] || reservedColumnWords[col] || !isValidIdentifier(col) {
			return
		}
		seen[col] = true
		columns = append(columns, col)
	}

	for _, match := range filterColumnRegex.FindAllStringSubmatch(query, -1) {
		addColumn(match[1])
	}
	if match := orderByRegex.FindStringSubmatch(query); match != nil {
		for _, col := range strings.Split(match[1], ",") {
			addColumn(strings.TrimSuffix(strings.TrimSuffix(
				strings.TrimSpace(strings.ToLower(col)), " desc"), " asc"))
		}
	}

	if len(columns) == 0 {
		return nil
	}

	// One single-column candidate per column, plus one composite over the
	// first two filter columns when there are at least two.
	candidates := make([]HypotheticalIndex, 0, len(columns)+1)
	for _, col := range columns {
		candidates = append(candidates, HypotheticalIndex{
			Table:   table,
			Columns: []string{col},
			Using:   "btree",
		})
	}
	if len(columns) >= 2 {
		candidates = append(candidates, HypotheticalIndex{
			Table:   table,
			Columns: []string{columns[0], columns[1]},
			Using:   "btree",
		})
	}
	return candidates
}
