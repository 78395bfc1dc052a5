// Package version carries build metadata injected with -ldflags "-X pricehub/internal/version.Version=...".
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the one-line build description.
func String() string {
	return fmt.Sprintf("pricehub %s (commit %s, built %s)", Version, Commit, BuildDate)
}
