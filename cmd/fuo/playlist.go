package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/feeluown/fuocore/internal/core"
)

func targetFlags(cmd *cobra.Command, target *core.Target) {
	cmd.Flags().StringVarP(&target.Collection, "collection", "c", "", "local collection name")
	cmd.Flags().StringVar(&target.Playlist, "playlist", "", "provider playlist uri")
	cmd.MarkFlagsMutuallyExclusive("collection", "playlist")
}

func addCommand() *cobra.Command {
	var target core.Target

	cmd := &cobra.Command{
		Use:   "add <uri...>",
		Short: "Add songs, albums, artists or playlists",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Add(ctx, args, target)
			})
		},
	}
	targetFlags(cmd, &target)
	return cmd
}

func removeCommand() *cobra.Command {
	var target core.Target

	cmd := &cobra.Command{
		Use:     "remove <uri...>",
		Aliases: []string{"rm"},
		Short:   "Remove songs",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Remove(ctx, args, target)
			})
		},
	}
	targetFlags(cmd, &target)
	return cmd
}

func listCommand() *cobra.Command {
	var target core.Target

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the playlist, a collection or a provider playlist",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				if target == (core.Target{}) {
					return app.service.Queue(ctx)
				}
				return app.service.List(ctx, target)
			})
		},
	}
	targetFlags(cmd, &target)
	return cmd
}

func collectionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List local collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Collections(ctx)
			})
		},
	}
}
