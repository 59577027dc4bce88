// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// set via -ldflags "-X github.com/sustainable-computing-io/perfevent/internal/version.version=..."
var (
	version   string
	buildTime string
	gitBranch string
	gitCommit string
)

const unknown = "unknown"

type VersionInfo struct {
	Version   string
	BuildTime string
	GitBranch string
	GitCommit string

	GoVersion string
	GoOS      string
	GoArch    string
}

// Info returns the build information of the running binary. Fields not set
// at link time are taken from the embedded module build info when available.
func Info() VersionInfo {
	info := VersionInfo{
		Version:   version,
		BuildTime: buildTime,
		GitBranch: gitBranch,
		GitCommit: gitCommit,

		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fillFromBuildInfo(&info, bi)
	}
	return info
}

func fillFromBuildInfo(info *VersionInfo, bi *debug.BuildInfo) {
	if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		}
	}
}

// String renders the version banner printed by --version.
func (v VersionInfo) String() string {
	return fmt.Sprintf("perfevent %s (branch: %s, revision: %s, built: %s, %s %s/%s)",
		orUnknown(v.Version), orUnknown(v.GitBranch), orUnknown(v.GitCommit),
		orUnknown(v.BuildTime), v.GoVersion, v.GoOS, v.GoArch)
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
