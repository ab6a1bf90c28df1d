package analysis

import (
	"context"
	"fmt"

	"postgres-mcp/internal/sqldriver"
)

// HypopgExtension is the extension that provides hypothetical index support.
const HypopgExtension = "hypopg"

// CheckHypopg reports whether the hypopg extension is installed in the
// connected database. When it is not, the returned message tells the caller
// how to proceed (install vs. unavailable on the server).
func CheckHypopg(ctx context.Context, exec sqldriver.Executor) (bool, string, error) {
	rows, err := exec.ExecuteQuery(ctx,
		"SELECT extname FROM pg_extension WHERE extname = $1", HypopgExtension)
	if err != nil {
		return false, "", fmt.Errorf("failed to check extension status: %w", err)
	}
	if len(rows) > 0 {
		return true, "", nil
	}

	available, err := exec.ExecuteQuery(ctx,
		"SELECT name FROM pg_available_extensions WHERE name = $1", HypopgExtension)
	if err != nil {
		return false, "", fmt.Errorf("failed to check extension availability: %w", err)
	}

	if len(available) > 0 {
		return false, fmt.Sprintf(
			"The %s extension is available but not installed. "+
				"Run 'CREATE EXTENSION %s;' to enable hypothetical index simulation.",
			HypopgExtension, HypopgExtension), nil
	}

	return false, fmt.Sprintf(
		"The %s extension is not available on this server. "+
			"Install the hypopg package for your PostgreSQL version to enable "+
			"hypothetical index simulation.",
		HypopgExtension), nil
}
