package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/pkg/fuo"
)

// run executes fn under the command timeout and prints its result.
func run(cmd *cobra.Command, fn func(ctx context.Context, app *app) (any, error)) error {
	app := fromContext(cmd)
	ctx, cancel := withTimeout(cmd.Context(), app.timeout)
	defer cancel()

	result, err := fn(ctx, app)
	if err != nil {
		return err
	}
	return app.printer.Print(result)
}

func statusCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show player status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Status(ctx)
			}); err != nil || !watch {
				return err
			}
			app := fromContext(cmd)
			topics := []string{"player.state_changed", "player.song_changed", "playlist.mode_changed", "player.error"}
			return app.service.Subscribe(cmd.Context(), topics, func(ev core.EventResult) error {
				return app.printer.Print(ev)
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "print player events after the status")

	return cmd
}

func playCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "play [uri|url|keyword...]",
		Short: "Play a song, or resume the current one",
		Long: "Play a fuo:// song URI, an http(s) or file media URL, or the song best\n" +
			"matching the given keywords. Without arguments the current song resumes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Play(ctx, args)
			})
		},
	}
}

func controlCommand(name string, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return core.MessageResult{}, app.service.Control(ctx, name)
			})
		},
	}
}

func nextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Skip to the next song",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Next(ctx)
			})
		},
	}
}

func previousCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "previous",
		Aliases: []string{"prev"},
		Short:   "Go back to the previous song",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Previous(ctx)
			})
		},
	}
}

func seekCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seek <position>",
		Short: "Seek to ms, a duration like 1m30s, m:ss, or +/- relative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.SeekTo(ctx, args[0])
			})
		},
	}
}

func volumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "volume [N|+N|-N]",
		Aliases: []string{"vol"},
		Short:   "Show or set the volume",
		Args:    cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := ""
			if len(args) == 1 {
				arg = args[0]
			}
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Volume(ctx, arg)
			})
		},
	}
}

func modeCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "mode <sequential|loop|one_loop|shuffle|fm>",
		Short:     "Set the playback mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"sequential", "loop", "one_loop", "shuffle", "fm"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return core.MessageResult{}, app.service.SetMode(ctx, args[0])
			})
		},
	}
}

func rawCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "raw <request...>",
		Short: "Send a request line as typed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := args[0]
			for _, arg := range args[1:] {
				line += " " + fuo.Quote(arg)
			}
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Raw(ctx, line)
			})
		},
	}
}
