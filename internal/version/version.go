// Package version exposes the build identity stamped in via ldflags.
package version

import "fmt"

// set at build time, e.g.
// go build -ldflags "-X .../internal/version.version=v1.2.0"
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

// Info identifies one collector build. It is logged at startup and rendered
// by the --version flag.
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GitCommit string `json:"git_commit"`
}

func Get() Info {
	return Info{
		Version:   version,
		BuildDate: buildDate,
		GitCommit: gitCommit,
	}
}

// String renders the info the way the --version flag prints it.
func (i Info) String() string {
	return fmt.Sprintf("%s (built %s, commit %s)", i.Version, i.BuildDate, i.GitCommit)
}
