package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	dev := Info{Version: "dev", CommitHash: "0123456789abcdef", BuildTime: "now"}
	assert.Equal(t, "outbound dev (commit 0123456, built now)", dev.String())

	tagged := Info{Version: "v1.2.0", CommitHash: "abc", BuildTime: "now", Modified: true}
	assert.Equal(t, "outbound v1.2.0 (commit abc+dirty, built now)", tagged.String())
}

func TestUserAgent(t *testing.T) {
	i := Info{Version: "v1.0.0", Platform: "linux/amd64"}
	assert.Equal(t, "outbound/v1.0.0 (linux/amd64)", i.UserAgent())
}

func TestGetFillsRuntime(t *testing.T) {
	i := Get()
	assert.NotEmpty(t, i.GoVersion)
	assert.Contains(t, i.Platform, "/")
	assert.Equal(t, i, Get())
}

func TestFillFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "feedfacecafe"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	i := Info{Version: unset, CommitHash: unset, BuildTime: "unknown"}
	i.fillFromBuildInfo(bi)
	assert.Equal(t, "v0.4.1", i.Version)
	assert.Equal(t, "feedfac+dirty", i.Short())
	assert.Equal(t, "2026-10-01T12:00:00Z", i.BuildTime)

	stamped := Info{Version: "v1.0.0", CommitHash: "abc1234", BuildTime: "today"}
	stamped.fillFromBuildInfo(bi)
	assert.Equal(t, "v1.0.0", stamped.Version)
	assert.Equal(t, "abc1234", stamped.CommitHash)
	assert.Equal(t, "today", stamped.BuildTime)
}

func TestFillFromBuildInfo_DevelVersionIgnored(t *testing.T) {
	i := Info{Version: unset, CommitHash: unset}
	i.fillFromBuildInfo(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	assert.Equal(t, unset, i.Version)
}
