// Package version holds the build identity of the teledigest binary. The
// variables are stamped with -ldflags "-X"; InitBinaryVersion fills any that
// were left unset from the embedded module build info.
package version

import (
	"fmt"
	"runtime/debug"
)

const unknown = "unknown"

// Build identity.
var (
	Version = "dev"
	Commit  = unknown
	Date    = unknown
)

// Build info settings written by the go tool for VCS builds.
const (
	settingRevision = "vcs.revision"
	settingTime     = "vcs.time"
	settingModified = "vcs.modified"
)

const shortCommitLength = 12

// InitBinaryVersion completes the build identity from debug.ReadBuildInfo.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	apply(info)
}

func apply(info *debug.BuildInfo) {
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	dirty := false

	for _, setting := range info.Settings {
		switch setting.Key {
		case settingRevision:
			if Commit == unknown {
				Commit = setting.Value
				if len(Commit) > shortCommitLength {
					Commit = Commit[:shortCommitLength]
				}
			}
		case settingTime:
			if Date == unknown {
				Date = setting.Value
			}
		case settingModified:
			dirty = setting.Value == "true"
		}
	}

	if dirty && Commit != unknown {
		Commit += "-dirty"
	}
}

// String returns the one-line identity printed by the version command.
func String() string {
	return fmt.Sprintf("teledigest %s (commit: %s, built: %s)", Version, Commit, Date)
}
