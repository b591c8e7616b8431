package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"releasekit/services/bundler"
	"releasekit/services/tracker"
)

func newBundleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Artifact bundle build and verify operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newBundleBuildCommand())
	cmd.AddCommand(newBundleVerifyCommand())
	return cmd
}

func newBundleBuildCommand() *cobra.Command {
	var (
		root        string
		releaseName string
		dist        string
		output      string
	)

	cmd := &cobra.Command{
		Use:   "build [paths...]",
		Short: "Create a signed bundle from build output files, directories or globs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := bundler.NewSignerFromEnv()
			if err != nil {
				return err
			}
			root, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolve root: %w", err)
			}
			files, err := tracker.ExpandInclude(root, args)
			if err != nil {
				return err
			}
			_, err = bundler.Build(commandContext(cmd), bundler.BuildConfig{
				Files:   files,
				Root:    root,
				Release: releaseName,
				Dist:    dist,
				Output:  output,
				Signer:  signer,
				Stdout:  cmd.OutOrStdout(),
			})
			return err
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "Directory bundle paths are relative to")
	cmd.Flags().StringVar(&releaseName, "release", "", "Release the bundle belongs to")
	cmd.Flags().StringVar(&dist, "dist", "", "Optional distribution identifier")
	cmd.Flags().StringVar(&output, "output", "", "Destination bundle file (tar.zst)")
	_ = cmd.MarkFlagRequired("release")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newBundleVerifyCommand() *cobra.Command {
	var (
		bundleFile       string
		requireSignature bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check bundle hashes and signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := bundler.NewSignerFromEnv()
			if err != nil {
				return err
			}
			_, err = bundler.Verify(commandContext(cmd), bundler.VerifyConfig{
				BundlePath:       bundleFile,
				Signer:           signer,
				RequireSignature: requireSignature,
				Stdout:           cmd.OutOrStdout(),
			})
			return err
		},
	}

	cmd.Flags().StringVar(&bundleFile, "file", "", "Path to the bundle tar.zst")
	cmd.Flags().BoolVar(&requireSignature, "require-signature", false, "Fail when the bundle is unsigned")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
