// Package version reports what binary is running.
//
// Release builds stamp the values with ldflags:
//
//	go build -ldflags "-X github.com/smtaidev/outbound/version.Version=v0.3.0 \
//	  -X github.com/smtaidev/outbound/version.CommitHash=$(git rev-parse HEAD)"
//
// Unstamped builds fall back to the VCS data the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

const unset = "dev"

// Set at build time via ldflags
var (
	Version    = unset
	CommitHash = unset
	BuildTime  = "unknown"
)

// Info is the build description shown by `outbound version` and /health
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Modified   bool   `json:"modified,omitempty"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

var (
	once sync.Once
	info Info
)

// Get returns the build description, resolved once per process
func Get() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			CommitHash: CommitHash,
			BuildTime:  BuildTime,
			GoVersion:  runtime.Version(),
			Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		}
		if bi, ok := debug.ReadBuildInfo(); ok {
			info.fillFromBuildInfo(bi)
		}
	})
	return info
}

// fillFromBuildInfo only touches fields ldflags left unset
func (i *Info) fillFromBuildInfo(bi *debug.BuildInfo) {
	if i.Version == unset && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.CommitHash == unset {
				i.CommitHash = s.Value
			}
		case "vcs.time":
			if i.BuildTime == "unknown" {
				i.BuildTime = s.Value
			}
		case "vcs.modified":
			i.Modified = s.Value == "true"
		}
	}
}

// Short is the commit abbreviated to seven characters, marked when the
// tree was dirty
func (i Info) Short() string {
	c := i.CommitHash
	if len(c) > 7 {
		c = c[:7]
	}
	if i.Modified {
		c += "+dirty"
	}
	return c
}

func (i Info) String() string {
	return fmt.Sprintf("outbound %s (commit %s, built %s)", i.Version, i.Short(), i.BuildTime)
}

// UserAgent is sent with requests to the remote batch API
func (i Info) UserAgent() string {
	return fmt.Sprintf("outbound/%s (%s)", i.Version, i.Platform)
}
