package build

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Commit and RawTags are set at link time, e.g.
// -ldflags "-X github.com/roasbeef/outreach/internal/build.Commit=abc".
var (
	Commit  string
	RawTags string
)

const (
	appMajor = 0
	appMinor = 3
	appPatch = 0

	// appPreRelease is appended after a dash when non-empty.
	appPreRelease = "beta"
)

// Version returns the semantic version of the binaries.
func Version() string {
	v := semver(appMajor, appMinor, appPatch)
	if appPreRelease != "" {
		v += "-" + appPreRelease
	}

	return v
}

// GoVersion returns the toolchain the binary was built with.
func GoVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}

	return info.GoVersion
}

// CommitHash returns Commit, falling back to the VCS revision recorded by
// the toolchain.
func CommitHash() string {
	if Commit != "" {
		return Commit
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}

	return ""
}

// Tags returns the build tags given in RawTags.
func Tags() []string {
	if RawTags == "" {
		return nil
	}

	return strings.Split(RawTags, ",")
}

func semver(major, minor, patch int) string {
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}
