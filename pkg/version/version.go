// Package version derives the running build's identity from the VCS
// metadata Go embeds in the binary, so no -ldflags wiring is needed.
package version

import "runtime/debug"

// AppName names this service in version strings, logs, and the
// User-Agent sent to LLM providers.
const AppName = "aria-core"

// Commit is the short git revision baked into the build, or "dev" when
// build info is unavailable (go test, non-git builds).
var Commit = commitFromBuildInfo()

func commitFromBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 8 {
				return s.Value[:8]
			}
			return s.Value
		}
	}
	return "dev"
}

// Full returns "aria-core/<commit>".
func Full() string {
	return AppName + "/" + Commit
}
