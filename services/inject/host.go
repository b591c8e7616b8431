package inject

import "context"

// ResolveKind tells whether a path is being resolved as a build entry point.
type ResolveKind int

const (
	KindImport ResolveKind = iota
	KindEntryPoint
)

// ResolveArgs describes one resolution request issued by the host.
type ResolveArgs struct {
	Path       string
	Importer   string
	Namespace  string
	ResolveDir string
	Kind       ResolveKind
	Data       any
}

// Resolution redirects a path to a (possibly virtual) module.
type Resolution struct {
	Path        string
	Namespace   string
	SideEffects bool
	Data        any
}

// LoadArgs describes one load request issued by the host.
type LoadArgs struct {
	Path      string
	Namespace string
	Data      any
}

// Module is the source returned for a virtual module.
type Module struct {
	Contents   string
	ResolveDir string
}

// Outcome summarises a finished build. HasManifest is false when the host could not expose
// the list of produced files.
type Outcome struct {
	Outputs     []string
	HasManifest bool
}

// ResolveFunc handles a resolution. Returning ok == false passes the request on to the next
// handler and eventually to the host's own resolver.
type ResolveFunc func(args ResolveArgs) (res Resolution, ok bool, err error)

// LoadFunc handles a load. Returning ok == false passes the request on.
type LoadFunc func(args LoadArgs) (mod Module, ok bool, err error)

// EndFunc observes the end of a build. A returned error fails the build.
type EndFunc func(ctx context.Context, outcome Outcome) error

// Host is the capability set a build tool adapter provides.
//
// Filters use Go regexp syntax. Adapters must treat the complete resolved path (including any
// "?<key>" suffix) together with the namespace as module identity, so that two resolutions
// returning different paths are never deduplicated into one module. The debug-id stub relies
// on this to get a fresh identifier per entry point.
type Host interface {
	OnResolve(filter string, fn ResolveFunc)
	OnLoad(filter, namespace string, fn LoadFunc)
	OnEnd(fn EndFunc)
	// AddInput adds path as an extra build input evaluated by every entry.
	AddInput(path string)
}
