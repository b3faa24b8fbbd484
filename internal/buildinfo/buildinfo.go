// Package buildinfo exposes version/commit/date metadata set via
// -ldflags at release build time, the way the teacher stamps its own
// CLI binaries.
package buildinfo

import (
	"encoding/json"
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

var UserAgent string

func init() {
	UserAgent = fmt.Sprintf("axqlctl/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String renders a human-readable multi-line summary for `axqlctl version`.
func String() string {
	return fmt.Sprintf("Version: %s\nCommit: %s\nBuild date: %s", Version, Commit, Date)
}

// JSON renders the same fields as a JSON object.
func JSON() ([]byte, error) {
	return json.Marshal(struct {
		Version string `json:"version"`
		Commit  string `json:"commit"`
		Date    string `json:"date"`
	}{Version, Commit, Date})
}
