// Package buildinfo reports which clinic build is running. Release
// builds stamp the variables below with -ldflags; plain `go build`
// binaries fall back to the VCS data the toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Set with -ldflags "-X github.com/nugget/prenatal-clinic/internal/buildinfo.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var (
	started  = time.Now()
	vcsOnce  sync.Once
	vcsRev   string
	vcsTime  string
	vcsDirty bool
)

// readVCS loads the vcs.* settings embedded by the go command.
func readVCS() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			vcsRev = s.Value
		case "vcs.time":
			vcsTime = s.Value
		case "vcs.modified":
			vcsDirty = s.Value == "true"
		}
	}
}

// Commit is GitCommit, or the embedded VCS revision (short form, with a
// "-dirty" suffix for modified trees) when GitCommit was not stamped.
func Commit() string {
	if GitCommit != "unknown" && GitCommit != "" {
		return GitCommit
	}
	vcsOnce.Do(readVCS)
	if vcsRev == "" {
		return "unknown"
	}
	rev := vcsRev
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if vcsDirty {
		rev += "-dirty"
	}
	return rev
}

// Built is BuildTime, or the embedded commit time.
func Built() string {
	if BuildTime != "unknown" && BuildTime != "" {
		return BuildTime
	}
	vcsOnce.Do(readVCS)
	if vcsTime == "" {
		return "unknown"
	}
	return vcsTime
}

// Uptime is the time since process start, truncated to seconds.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// Info returns build and runtime facts keyed for the version command.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": Commit(),
		"build_time": Built(),
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// UserAgent is the User-Agent sent on outbound requests.
func UserAgent() string {
	return "prenatal-clinic/" + Version
}

// String is a one-line summary for the startup log.
func String() string {
	return fmt.Sprintf("prenatal-clinic %s (%s) built %s", Version, Commit(), Built())
}
