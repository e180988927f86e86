// Package version reports how the storyrag binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/Aman-CERP/storyrag/pkg/version.Version=1.2.0".
// Left unset, GetInfo falls back to the module and VCS data that
// `go install` and `go build` embed.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// GoVersion is the toolchain that compiled the binary.
var GoVersion = runtime.Version()

// BuildInfo is the JSON shape of `storyrag version --json`.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Modified  bool   `json:"modified,omitempty"`
}

var (
	infoOnce sync.Once
	info     BuildInfo
)

// GetInfo merges ldflags values with the embedded build metadata. Values
// injected with ldflags win.
func GetInfo() BuildInfo {
	infoOnce.Do(func() {
		info = BuildInfo{
			Version:   Version,
			Commit:    Commit,
			Date:      Date,
			GoVersion: GoVersion,
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
		}
		if bi, ok := debug.ReadBuildInfo(); ok {
			fillFromBuild(&info, bi)
		}
	})
	return info
}

func fillFromBuild(info *BuildInfo, bi *debug.BuildInfo) {
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = shortCommit(s.Value)
			}
		case "vcs.time":
			if info.Date == "unknown" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

func shortCommit(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// String is the one-line form printed by `storyrag version`.
func String() string {
	i := GetInfo()
	commit := i.Commit
	if i.Modified {
		commit += "+dirty"
	}
	return fmt.Sprintf("storyrag %s (commit: %s, built: %s, go: %s)", i.Version, commit, i.Date, i.GoVersion)
}

// Short returns the version alone.
func Short() string {
	return GetInfo().Version
}
