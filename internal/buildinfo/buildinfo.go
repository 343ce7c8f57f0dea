// Package buildinfo carries build identifiers injected with
// -ldflags "-X ember/internal/buildinfo.Version=...".
package buildinfo

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns a compact build identifier for titles and the status screen.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	return "dev"
}

// String returns every identifier for the boot log.
func String() string {
	return Version + " (" + Commit + ", " + Date + ")"
}
