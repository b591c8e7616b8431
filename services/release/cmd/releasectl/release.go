package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"releasekit/services/release"
)

func newReleaseCommand(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release lifecycle operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newReleaseRunCommand(root))
	cmd.AddCommand(newReleaseDetectCommand())
	return cmd
}

func newReleaseRunCommand(root *rootFlags) *cobra.Command {
	var (
		releaseName string
		include     []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the release pipeline over files that were already built",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := commandContext(cmd)
			s, err := openSession(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, s.Close()) }()

			if len(include) > 0 {
				s.cfg.Options.Include = include
			}
			orch, err := s.orchestrator(ctx, releaseName)
			if err != nil {
				return err
			}
			return orch.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&releaseName, "release", "", "Release name; detected when empty")
	cmd.Flags().StringSliceVar(&include, "include", nil, "Files, directories or globs to upload; overrides include")
	return cmd
}

func newReleaseDetectCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Print the release name derived from the environment or git",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := release.DetectRelease(commandContext(cmd), nil, dir)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), name)
			return err
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Git checkout to inspect")
	return cmd
}
