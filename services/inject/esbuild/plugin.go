// Package esbuild adapts the inject hooks to esbuild's Go plugin API.
package esbuild

import (
	"context"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"releasekit/services/inject"
)

// PluginName is reported by esbuild next to messages produced by the plugin.
const PluginName = "releasekit"

// Plugin returns an esbuild plugin installing the hooks selected by opts. ctx is passed to
// the upload callback when the build ends.
func Plugin(ctx context.Context, opts inject.Options) api.Plugin {
	if ctx == nil {
		ctx = context.Background()
	}
	return api.Plugin{
		Name: PluginName,
		Setup: func(build api.PluginBuild) {
			build.InitialOptions.Metafile = true
			inject.Setup(&host{ctx: ctx, build: build}, opts)
		},
	}
}

type host struct {
	ctx   context.Context
	build api.PluginBuild
}

func (h *host) OnResolve(filter string, fn inject.ResolveFunc) {
	h.build.OnResolve(api.OnResolveOptions{Filter: filter}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
		res, ok, err := fn(inject.ResolveArgs{
			Path:       args.Path,
			Importer:   args.Importer,
			Namespace:  args.Namespace,
			ResolveDir: args.ResolveDir,
			Kind:       kindOf(args.Kind),
			Data:       args.PluginData,
		})
		if err != nil || !ok {
			return api.OnResolveResult{}, err
		}
		out := api.OnResolveResult{
			PluginName: PluginName,
			Path:       res.Path,
			Namespace:  res.Namespace,
			PluginData: res.Data,
		}
		// The zero value leaves esbuild's own side-effect analysis in place.
		if res.SideEffects {
			out.SideEffects = api.SideEffectsTrue
		}
		return out, nil
	})
}

func (h *host) OnLoad(filter, namespace string, fn inject.LoadFunc) {
	h.build.OnLoad(api.OnLoadOptions{Filter: filter, Namespace: namespace}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
		mod, ok, err := fn(inject.LoadArgs{
			Path:      args.Path,
			Namespace: args.Namespace,
			Data:      args.PluginData,
		})
		if err != nil || !ok {
			return api.OnLoadResult{}, err
		}
		contents := mod.Contents
		return api.OnLoadResult{
			PluginName: PluginName,
			Contents:   &contents,
			ResolveDir: mod.ResolveDir,
			Loader:     api.LoaderJS,
		}, nil
	})
}

func (h *host) OnEnd(fn inject.EndFunc) {
	h.build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
		if err := fn(h.ctx, outcomeOf(result)); err != nil {
			return api.OnEndResult{
				Errors: []api.Message{{PluginName: PluginName, Text: err.Error()}},
			}, nil
		}
		return api.OnEndResult{}, nil
	})
}

func (h *host) AddInput(path string) {
	h.build.InitialOptions.Inject = append(h.build.InitialOptions.Inject, path)
}

func kindOf(kind api.ResolveKind) inject.ResolveKind {
	if kind == api.ResolveEntryPoint {
		return inject.KindEntryPoint
	}
	return inject.KindImport
}

const importIsUndefined = "import-is-undefined"

// Warnings returns msgs without the undefined-default warnings raised by entry proxies.
// A proxy re-exports `default` for every entry, so entries without a default export
// trigger one of these on each build.
func Warnings(msgs []api.Message) []api.Message {
	kept := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == importIsUndefined && fromProxy(msg.Location) {
			continue
		}
		kept = append(kept, msg)
	}
	return kept
}

func fromProxy(loc *api.Location) bool {
	if loc == nil {
		return false
	}
	return loc.Namespace == inject.ProxyNamespace || strings.HasPrefix(loc.File, inject.ProxyNamespace+":")
}
