package version

import (
	"crypto/sha256"
	"fmt"
	"runtime/debug"
	"sync"
)

// Version is the current semantic version of intmaps
const Version = "0.1.0"

// Set at build time with -ldflags "-X .../internal/version.GitCommit=..."
var (
	BuildDate = "development"
	GitCommit = "unknown"
)

// Info returns version information as a string
func Info() string {
	return Version
}

// FullInfo returns detailed version information
func FullInfo() string {
	return fmt.Sprintf("intmaps %s (commit: %s, built: %s, build id: %s)", Version, GitCommit, BuildDate, BuildID())
}

var (
	buildID     string
	buildIDOnce sync.Once
)

// BuildID returns a fingerprint of the running binary: the Go version,
// main module and VCS settings hashed together
func BuildID() string {
	buildIDOnce.Do(func() {
		buildID = computeBuildID()
	})
	return buildID
}

func computeBuildID() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version + "-" + GitCommit
	}

	h := sha256.New()
	h.Write([]byte(info.GoVersion))
	h.Write([]byte(info.Main.Path))
	h.Write([]byte(info.Main.Version))
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision", "vcs.modified":
			h.Write([]byte(s.Key))
			h.Write([]byte(s.Value))
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}
