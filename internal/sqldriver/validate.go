package sqldriver

import (
	"fmt"
	"regexp"
	"strings"
)

// Statements that modify data or schema are rejected in restricted mode.
var forbiddenSQLWords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"GRANT", "REVOKE", "COPY", "VACUUM", "REINDEX", "CLUSTER",
	"EXEC", "EXECUTE", "MERGE", "DO", "CALL",
}

var (
	sqlLineComment  = regexp.MustCompile(`--[^\n]*`)
	sqlBlockComment = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	forbiddenWordRe = regexp.MustCompile(`(?i)\b(` + strings.Join(forbiddenSQLWords, "|") + `)\b`)
)

// ValidateReadOnly returns an error if the statement appears to be anything
// other than a read. Line (--) and block (/* */) comments are stripped before
// checking. A keyword heuristic, not a full parser; false positives on quoted
// keywords are accepted in exchange for never letting a write through.
func ValidateReadOnly(sql string) error {
	cleaned := sqlLineComment.ReplaceAllString(sql, " ")
	cleaned = sqlBlockComment.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return fmt.Errorf("empty SQL after removing comments")
	}

	if loc := forbiddenWordRe.FindStringIndex(cleaned); loc != nil {
		word := strings.ToUpper(cleaned[loc[0]:loc[1]])
		return fmt.Errorf("restricted mode allows read-only statements only: found %q", word)
	}

	return nil
}
