package inject

import "regexp"

const (
	// ReleasePath is the reserved import path of the release name module.
	ReleasePath = "_releasekit-release-injector"
	// ReleaseNamespace holds the release name module.
	ReleaseNamespace = "releasekit-release"
	// ReleaseGlobal is the global property set to {id: <release>}.
	ReleaseGlobal = "RELEASEKIT_RELEASE"
	// ReleaseConstant is the constant exported by the release module.
	ReleaseConstant = "__RELEASEKIT_RELEASE__"
)

// ReleaseInjector adds one shared module exposing the release name to every entry.
type ReleaseInjector struct {
	Release string
}

// Register installs the injector on h. It does nothing without a release name.
func (r *ReleaseInjector) Register(h Host) {
	if r.Release == "" {
		return
	}
	h.OnResolve("^"+regexp.QuoteMeta(ReleasePath)+"$", func(ResolveArgs) (Resolution, bool, error) {
		return Resolution{Path: ReleasePath, Namespace: ReleaseNamespace, SideEffects: true}, true, nil
	})
	h.OnLoad(".*", ReleaseNamespace, func(LoadArgs) (Module, bool, error) {
		contents, err := r.source()
		if err != nil {
			return Module{}, false, err
		}
		return Module{Contents: contents}, true, nil
	})
	h.AddInput(ReleasePath)
}

func (r *ReleaseInjector) source() (string, error) {
	t, err := templates()
	if err != nil {
		return "", err
	}
	return t.Render("release_injector.js.tmpl", map[string]string{
		"Global":   ReleaseGlobal,
		"Constant": ReleaseConstant,
		"Release":  r.Release,
	})
}
