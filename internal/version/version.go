// Package version holds build information set with -ldflags.
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String returns the version line printed by the CLI
func String() string {
	return Version + " (commit " + Commit + ", built " + BuildDate + ")"
}
