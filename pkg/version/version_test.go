package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.Equal(t, Name, info.Name)
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, GitCommit, info.GitCommit)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS, info.OS)
}

func TestInfoString(t *testing.T) {
	info := Info{
		Version:   "0.3.0",
		GitCommit: "f00d",
		BuildTime: "2026-10-01",
		GoVersion: "go1.23",
		OS:        "linux",
		Arch:      "arm64",
	}

	str := info.String()
	assert.Contains(t, str, "Cadence 0.3.0")
	assert.Contains(t, str, "commit: f00d")
	assert.Contains(t, str, "os/arch: linux/arm64")
	assert.Equal(t, "Cadence 0.3.0", info.Short())
}

func TestVersionVariables(t *testing.T) {
	assert.NotEmpty(t, Version)
	assert.True(t, strings.HasPrefix(GoVersion, "go"))
}
