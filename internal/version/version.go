// Package version identifies the running build.
package version

import (
	"fmt"
	"runtime"
)

// Build metadata, overridden with -ldflags "-X .../version.Version=...".
var (
	Name      = "Stellar Offline Player"
	Version   = "0.1.0"
	BuildTime = ""
	GitCommit = ""
)

// Info is served by /api/v1/version and printed in the startup banner.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"goVersion"`
	BuildTime string `json:"buildTime,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
}

func GetInfo() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		GoVersion: runtime.Version(),
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}
}

func (i Info) String() string {
	s := fmt.Sprintf("%s v%s", i.Name, i.Version)
	if i.GitCommit != "" {
		s += fmt.Sprintf(" (%s)", i.GitCommit[:min(7, len(i.GitCommit))])
	}
	if i.BuildTime != "" {
		s += " built " + i.BuildTime
	}
	return s
}

// UserAgent identifies the player to the index and asset hosts.
func UserAgent() string {
	return "StellarOfflinePlayer/" + Version
}
