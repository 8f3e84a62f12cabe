package ihook

import "runtime/debug"

// baseVersion is the baked-in fallback GetVersion returns when no VCS
// metadata is available at build time (e.g. `go install` of a module
// outside any VCS checkout). Follows the same
// "name-YYYYMMDD-revision" shape DobbyGetVersion() uses
// (original_source/include/dobby.h), renamed to this engine.
const baseVersion = "ihook-00000000-unknown"

// GetVersion returns this build's version string: spec.md §6's
// get_version(). When the binary was built from a VCS checkout (the
// ordinary `go build`/`go install` case), the date and short revision
// embedded by the toolchain via debug.ReadBuildInfo() replace
// baseVersion's placeholders; otherwise baseVersion itself is returned
// unchanged.
func GetVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return baseVersion
	}

	var revision, vcsTime string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.time":
			vcsTime = setting.Value
		}
	}
	if revision == "" {
		return baseVersion
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}

	date := "00000000"
	if len(vcsTime) >= 10 {
		date = vcsTime[0:4] + vcsTime[5:7] + vcsTime[8:10] // "2026-07-30T..." -> "20260730"
	}
	return "ihook-" + date + "-" + revision
}
