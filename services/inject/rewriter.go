package inject

import (
	"regexp"
	"strings"
)

const (
	// StubPath is the reserved import path of the debug id stub.
	StubPath = "_releasekit-debug-id-stub"
	// ProxyNamespace holds the proxy modules that replace entry points.
	ProxyNamespace = "releasekit-debug-id-proxy"
	// StubNamespace holds the uniquely keyed stub instances.
	StubNamespace = "releasekit-debug-id-stub"
)

type proxyData struct {
	original   string
	resolveDir string
}

// DebugIDInjector redirects every entry point to a proxy module that evaluates a fresh
// debug id stub and then re-exports the original entry unchanged.
type DebugIDInjector struct {
	// NewID generates debug ids. Defaults to NewDebugID.
	NewID func() string
	// NewKey generates the cache-busting key of each stub resolution. Defaults to
	// NewCacheBustingKey.
	NewKey func() string
}

// Register installs the injector's hooks on h.
func (d *DebugIDInjector) Register(h Host) {
	h.OnResolve("^"+regexp.QuoteMeta(StubPath)+"$", d.resolveStub)
	h.OnLoad(".*", StubNamespace, d.loadStub)
	h.OnResolve(".*", d.resolveEntry)
	h.OnLoad(".*", ProxyNamespace, d.loadProxy)
}

func (d *DebugIDInjector) resolveEntry(args ResolveArgs) (Resolution, bool, error) {
	if args.Kind != KindEntryPoint || isReserved(args.Path) {
		return Resolution{}, false, nil
	}
	return Resolution{
		Path:      args.Path,
		Namespace: ProxyNamespace,
		Data:      proxyData{original: args.Path, resolveDir: args.ResolveDir},
	}, true, nil
}

func (d *DebugIDInjector) loadProxy(args LoadArgs) (Module, bool, error) {
	data, ok := args.Data.(proxyData)
	if !ok {
		data = proxyData{original: args.Path}
	}
	t, err := templates()
	if err != nil {
		return Module{}, false, err
	}
	contents, err := t.Render("proxy_module.js.tmpl", map[string]string{
		"Stub":     StubPath,
		"Original": data.original,
	})
	if err != nil {
		return Module{}, false, err
	}
	return Module{Contents: contents, ResolveDir: data.resolveDir}, true, nil
}

func (d *DebugIDInjector) resolveStub(ResolveArgs) (Resolution, bool, error) {
	newKey := d.NewKey
	if newKey == nil {
		newKey = NewCacheBustingKey
	}
	return Resolution{
		Path:        StubPath + "?" + newKey(),
		Namespace:   StubNamespace,
		SideEffects: true,
	}, true, nil
}

func (d *DebugIDInjector) loadStub(LoadArgs) (Module, bool, error) {
	newID := d.NewID
	if newID == nil {
		newID = NewDebugID
	}
	contents, err := GenerateStub(newID())
	if err != nil {
		return Module{}, false, err
	}
	return Module{Contents: contents}, true, nil
}

func isReserved(path string) bool {
	return path == StubPath ||
		strings.HasPrefix(path, StubPath+"?") ||
		path == ReleasePath
}
