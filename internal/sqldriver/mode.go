// Package sqldriver provides pooled PostgreSQL access for the MCP server.
//
// It owns the process-wide connection pool, constructs per-operation query
// drivers according to the configured access mode, and caches rarely-changing
// server metadata for the life of the session.
package sqldriver

import "fmt"

// AccessMode selects the safety behavior of drivers built by New.
// It is chosen once at process start and never changes afterwards.
type AccessMode string

const (
	// AccessUnrestricted allows any statement to reach the database as written.
	AccessUnrestricted AccessMode = "unrestricted"

	// AccessRestricted limits drivers to read-only statements with a fixed
	// statement timeout.
	AccessRestricted AccessMode = "restricted"
)

// ParseAccessMode converts a command-line flag value into an AccessMode.
// Returns an error for anything outside the closed {unrestricted, restricted} set.
func ParseAccessMode(s string) (AccessMode, error) {
	switch AccessMode(s) {
	case AccessUnrestricted:
		return AccessUnrestricted, nil
	case AccessRestricted:
		return AccessRestricted, nil
	default:
		return "", fmt.Errorf("unknown access mode %q (expected %q or %q)",
			s, AccessUnrestricted, AccessRestricted)
	}
}

// String implements fmt.Stringer.
func (m AccessMode) String() string {
	return string(m)
}
