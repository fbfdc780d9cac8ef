// Package version reports what build of tvstream is running.
//
// Release builds set Version, Commit and Date with -ldflags -X. Other builds
// fall back to the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set with -ldflags "-X github.com/jmylchreest/tvstream/internal/version.Version=1.0.0".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// ApplicationName is the binary and User-Agent product name.
const ApplicationName = "tvstream"

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build description.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info.Commit != "" {
		return info
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Commit = s.Value
			case "vcs.time":
				info.Date = s.Value
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}
	return info
}

// ShortCommit is the first eight characters of the commit, if known.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 8 {
		return i.Commit[:8]
	}
	return i.Commit
}

// String formats i for humans, e.g.
// "tvstream 1.2.0 (0123abcd, 2026-01-02T03:04:05Z) go1.25.4 linux/amd64".
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", ApplicationName, i.Version)
	if c := i.ShortCommit(); c != "" {
		b.WriteString(" (" + c)
		if i.Modified {
			b.WriteString("-dirty")
		}
		if i.Date != "" {
			b.WriteString(", " + i.Date)
		}
		b.WriteString(")")
	}
	fmt.Fprintf(&b, " %s %s", i.GoVersion, i.Platform)
	return b.String()
}

// UserAgent identifies this client in client-init messages and HTTP requests.
func UserAgent() string {
	return ApplicationName + "/" + Version
}
