package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/feeluown/fuocore/internal/core"
)

func searchCommand() *cobra.Command {
	var (
		sources []string
		types   []string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "search <keyword...>",
		Short: "Search providers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := core.SearchParams{Sources: splitList(sources), Types: splitList(types), Limit: limit}
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Search(ctx, strings.Join(args, " "), params)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "provider ids to search")
	cmd.Flags().StringSliceVar(&types, "type", nil, "song, album, artist, playlist, video or user")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "hits per provider and type")
	return cmd
}

func showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show [uri]",
		Short: "Show a model, or the registered providers",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				if len(args) == 0 {
					return app.service.Providers(ctx)
				}
				return app.service.Show(ctx, args[0])
			})
		},
	}
}

func providersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List registered providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Providers(ctx)
			})
		},
	}
}

func lyricCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lyric <song-uri>",
		Short: "Print the lyric of a song",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Lyric(ctx, args[0])
			})
		},
	}
}

func coverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cover <uri>",
		Short: "Fetch a model's cover into the daemon image cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Cover(ctx, args[0])
			})
		},
	}
}
