// Package version reports the build version. Release builds set the
// variables with -ldflags "-X".
package version

import (
	"runtime/debug"
	"strings"
)

var (
	// Version is the release version.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = ""
)

// Get returns the version, falling back to the module version recorded by
// go install.
func Get() string {
	if Version != "dev" {
		return strings.TrimSpace(Version)
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

// String returns the version with the commit, if known.
func String() string {
	if Commit == "" {
		return Get()
	}
	c := Commit
	if len(c) > 12 {
		c = c[:12]
	}
	return Get() + " (" + c + ")"
}
