package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/cobra"

	"releasekit/services/inject"
	"releasekit/services/inject/esbuild"
	"releasekit/services/release"
)

type buildFlags struct {
	entries     []string
	outdir      string
	releaseName string
	sourcemap   bool
	minify      bool
	noUpload    bool
}

func newBuildCommand(root *rootFlags) *cobra.Command {
	flags := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Bundle entry points with esbuild, inject debug ids and release the output",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := commandContext(cmd)
			s, err := openSession(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, s.Close()) }()

			settings := mergeBuildSettings(s.cfg.Build, cmd, flags)
			if len(settings.EntryPoints) == 0 {
				return errors.New("no entry points configured")
			}

			pluginOpts := inject.Options{DebugIDs: boolValue(settings.DebugIDs, true)}
			var orch *release.Orchestrator
			if !flags.noUpload {
				if orch, err = s.orchestrator(ctx, flags.releaseName); err != nil {
					return err
				}
				pluginOpts.Upload = orch.Upload
				if boolValue(settings.InjectRelease, true) {
					pluginOpts.Release = orch.Options().Release
				}
			} else if boolValue(settings.InjectRelease, true) && flags.releaseName != "" {
				pluginOpts.Release = flags.releaseName
			}

			result := api.Build(buildOptions(settings, esbuild.Plugin(ctx, pluginOpts)))
			for _, warning := range esbuild.Warnings(result.Warnings) {
				s.logger.Printf("WARN %s", formatMessage(warning))
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("build failed: %s", formatMessages(result.Errors))
			}
			s.logger.Printf("INFO build finished with %d output files", len(result.OutputFiles))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&flags.entries, "entry", nil, "Entry point (repeatable); overrides build.entry_points")
	cmd.Flags().StringVar(&flags.outdir, "outdir", "", "Output directory; overrides build.outdir")
	cmd.Flags().StringVar(&flags.releaseName, "release", "", "Release name; detected when empty")
	cmd.Flags().BoolVar(&flags.sourcemap, "sourcemap", false, "Emit linked source maps")
	cmd.Flags().BoolVar(&flags.minify, "minify", false, "Minify output")
	cmd.Flags().BoolVar(&flags.noUpload, "no-upload", false, "Only build and inject; skip the release pipeline")
	return cmd
}

func mergeBuildSettings(settings release.BuildSettings, cmd *cobra.Command, flags *buildFlags) release.BuildSettings {
	if len(flags.entries) > 0 {
		settings.EntryPoints = flags.entries
	}
	if flags.outdir != "" {
		settings.Outdir = flags.outdir
	}
	if settings.Outdir == "" {
		settings.Outdir = "dist"
	}
	if cmd.Flags().Changed("sourcemap") {
		settings.Sourcemap = flags.sourcemap
	}
	if cmd.Flags().Changed("minify") {
		settings.Minify = flags.minify
	}
	return settings
}

func buildOptions(settings release.BuildSettings, plugin api.Plugin) api.BuildOptions {
	opts := api.BuildOptions{
		EntryPoints:       settings.EntryPoints,
		Outdir:            settings.Outdir,
		Bundle:            true,
		Write:             true,
		Format:            api.FormatESModule,
		Platform:          api.PlatformBrowser,
		MinifyWhitespace:  settings.Minify,
		MinifyIdentifiers: settings.Minify,
		MinifySyntax:      settings.Minify,
		LogLevel:          api.LogLevelSilent,
		Plugins:           []api.Plugin{plugin},
	}
	if settings.Sourcemap {
		opts.Sourcemap = api.SourceMapLinked
	}
	return opts
}

func formatMessages(msgs []api.Message) string {
	texts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		texts = append(texts, formatMessage(msg))
	}
	return strings.Join(texts, "; ")
}

func formatMessage(msg api.Message) string {
	if msg.Location == nil || msg.Location.File == "" {
		return msg.Text
	}
	return fmt.Sprintf("%s:%d: %s", msg.Location.File, msg.Location.Line, msg.Text)
}

func boolValue(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
