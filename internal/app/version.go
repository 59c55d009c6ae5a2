package app

import "fmt"

// Version, Commit, and BuildTime are stamped via ldflags:
// go build -ldflags "-X github.com/avdeenkov/recodehub/internal/app.Version=1.0.0"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuildVersion formats the stamped build info for the startup log line.
func BuildVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime)
}
