// Package buildinfo provides build-time properties injected via ldflags:
//
//	go build -ldflags "-X github.com/nomis52/posrunner/buildinfo.version=v1.2.0 \
//	    -X github.com/nomis52/posrunner/buildinfo.gitCommit=$(git rev-parse --short HEAD)"
package buildinfo

import (
	"fmt"
	"runtime"
)

// Properties holds build-time properties injected via ldflags.
type Properties struct {
	Version   string `json:"version" yaml:"version"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GitCommit string `json:"git_commit" yaml:"git_commit"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Get returns the current build properties.
func Get() Properties {
	return Properties{
		Version:   version,
		BuildTime: buildTime,
		GitCommit: gitCommit,
		GoVersion: runtime.Version(),
	}
}

func (p Properties) String() string {
	return fmt.Sprintf("posrunner %s (commit %s, built %s, %s)", p.Version, p.GitCommit, p.BuildTime, p.GoVersion)
}
