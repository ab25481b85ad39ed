// Package version reports the walletscan client version.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version information - using semantic versioning
const (
	Major      = 0
	Minor      = 3
	Patch      = 0
	PreRelease = "" // e.g., "alpha", "beta", "rc1"
)

// Set with -ldflags "-X github.com/TeneoProtocolAI/walletscan/pkg/version.GitCommit=..."
var (
	GitCommit = ""
	BuildDate = ""
)

// Version returns the semantic version string
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if PreRelease != "" {
		version += "-" + PreRelease
	}
	return version
}

// BuildInfo describes the running binary.
type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo falls back to the VCS stamp embedded by the Go toolchain when
// GitCommit was not set at link time.
func GetBuildInfo() *BuildInfo {
	info := &BuildInfo{
		Name:      "walletscan",
		Version:   Version(),
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if info.GitCommit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				switch s.Key {
				case "vcs.revision":
					info.GitCommit = s.Value
				case "vcs.time":
					if info.BuildDate == "" {
						info.BuildDate = s.Value
					}
				}
			}
		}
	}
	return info
}

// String returns e.g. "walletscan v0.3.0 (1a2b3c4) go1.24.0 linux/amd64".
func (b *BuildInfo) String() string {
	s := fmt.Sprintf("%s v%s", b.Name, b.Version)
	if len(b.GitCommit) >= 7 {
		s += fmt.Sprintf(" (%s)", b.GitCommit[:7])
	}
	return s + fmt.Sprintf(" %s %s", b.GoVersion, b.Platform)
}
