// Package inject rewrites a build graph so that every entry point's output artifact carries a
// debug identifier, optionally injects the active release name, and reports the produced
// artifacts when the build ends.
//
// The algorithm is written once against Host; each build tool gets a thin adapter (see the
// esbuild subpackage).
//
// # Artifact format
//
// Every entry output evaluates a stub before any of the entry's own code. The stub resolves the
// global object (window, global, globalThis or self, in that order), captures
// new Error().stack as the key identifying the executing artifact and stores
//
//	<global>._releasekitDebugIds[<stack>] = "<debug id>"
//	<global>._releasekitDebugIdIdentifier = "releasekit-dbid-<debug id>"
//
// The registry property name and the "releasekit-dbid-" marker are part of the artifact
// format: runtime SDKs read the registry, and tooling recovers the id of an emitted file by
// scanning for the marker (see ExtractDebugID).
//
// When a release name is configured, a single shared module additionally sets
// <global>.RELEASEKIT_RELEASE = {id: "<release>"} and exports the constant
// __RELEASEKIT_RELEASE__.
package inject
