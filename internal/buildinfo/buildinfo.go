// Package buildinfo carries the identifiers the release script injects
// with -ldflags; a plain `go build` leaves the dev defaults.
package buildinfo

// Version is the release tag, set at build time.
var Version = "dev"

// Commit is the short git revision, set at build time.
var Commit = "unknown"

// Date is the build timestamp, set at build time.
var Date = "unknown"

// Short returns the most specific identifier available, for the monitor
// banner and logs.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	return "dev"
}
