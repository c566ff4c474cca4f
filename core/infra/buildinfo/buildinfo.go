// Package buildinfo carries link-time version stamps.
package buildinfo

import (
	"runtime"

	"github.com/cordum/rqadmin/core/infra/logging"
)

// Set with -ldflags "-X github.com/cordum/rqadmin/core/infra/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Build is the version block reported by the status endpoint.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// Current returns the stamped build.
func Current() Build {
	return Build{Version: Version, Commit: Commit, Date: Date, GoVersion: runtime.Version()}
}

// Log writes the build summary with the service name.
func Log(service string) {
	b := Current()
	logging.Info(service, "starting", "version", b.Version, "commit", b.Commit, "date", b.Date, "go", b.GoVersion)
}
