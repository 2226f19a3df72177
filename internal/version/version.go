// Package version reports metricd build information. Version, GitCommit
// and BuildDate are set with -ldflags at build time.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// EngineModule is the module path of the embedded script engine.
const EngineModule = "github.com/dop251/goja"

// Info returns the one-line form printed by `metricd version`.
func Info() string {
	return fmt.Sprintf("metricd %s (commit: %s, built: %s, go: %s, engine: %s)",
		Version, GitCommit, BuildDate, runtime.Version(), Engine())
}

// Short returns just the version string.
func Short() string {
	return Version
}

// Engine returns the script engine's module version from the binary's
// build info, or "unknown" when it is not available (as in tests).
func Engine() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range bi.Deps {
		if dep.Path == EngineModule {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return "unknown"
}

// Map returns the build information for JSON responses.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"engine":     Engine(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
