package main

import (
	"fmt"
	"runtime"
)

// Build identity, stamped via -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
}

// GetVersion returns the version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version:   version,
		Commit:    commit,
		Date:      date,
		GoVersion: runtime.Version(),
	}
}

// String returns a formatted version string
func (v VersionInfo) String() string {
	return fmt.Sprintf("agentkernel %s\nCommit: %s\nBuilt: %s\nGo: %s",
		v.Version, v.Commit, v.Date, v.GoVersion)
}

// ShortVersion returns a short version string
func (v VersionInfo) ShortVersion() string {
	return v.Version
}
