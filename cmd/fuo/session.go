package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feeluown/fuocore/internal/core"
)

func subCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sub <topic...>",
		Short: "Print events published on topics until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.service.Subscribe(ctx, args, func(ev core.EventResult) error {
				return app.printer.Print(ev)
			})
		},
	}
}

func execCommand() *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "exec [file|-]",
		Short: "Run a script on the daemon's exec sink",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("code") {
				path := ""
				if len(args) == 1 {
					path = args[0]
				}
				data, err := readFileOrStdin(path)
				if err != nil {
					return core.WrapError(core.ExitUsage, "read script", err)
				}
				code = string(data)
			}
			return run(cmd, func(ctx context.Context, app *app) (any, error) {
				return app.service.Exec(ctx, code)
			})
		},
	}
	cmd.Flags().StringVarP(&code, "code", "e", "", "script text")
	return cmd
}
