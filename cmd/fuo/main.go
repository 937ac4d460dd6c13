package main

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/adapters/config"
	"github.com/feeluown/fuocore/internal/adapters/fuoclient"
	"github.com/feeluown/fuocore/internal/adapters/output"
	"github.com/feeluown/fuocore/internal/core"
)

type app struct {
	service core.Service
	printer output.Printer
	json    bool
	timeout time.Duration
}

func main() {
	root := &cobra.Command{
		Use:           "fuo",
		Short:         "FeelUOwn command line client",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	var (
		host    string
		port    int
		socket  string
		timeout time.Duration
		jsonOut bool
		noColor bool
		verbose bool
		ran     bool
		client  *fuoclient.Client
	)

	root.PersistentFlags().StringVar(&host, "host", "", "daemon host")
	root.PersistentFlags().IntVarP(&port, "port", "p", 0, "daemon port")
	root.PersistentFlags().StringVar(&socket, "socket", "", "daemon unix socket")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 0, "command timeout")
	root.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output json")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		ran = true
		cfg, err := config.Load()
		if err != nil {
			return core.WrapError(core.ExitUsage, "load config", err)
		}
		if noColor || (cfg.Color != nil && !*cfg.Color) || os.Getenv("NO_COLOR") != "" {
			pterm.DisableColor()
		}

		coreCfg, err := mergeConfig(cfg, host, port, socket, timeout)
		if err != nil {
			return err
		}
		resolver := core.Resolver{Config: coreCfg}
		endpoint, err := resolver.Endpoint()
		if err != nil {
			return err
		}

		ctx, cancel := withTimeout(cmd.Context(), coreCfg.Timeout)
		defer cancel()
		client, err = fuoclient.Dial(ctx, fuoclient.Options{
			Network: endpoint.Network,
			Address: endpoint.Address,
			Timeout: coreCfg.Timeout,
			Logger:  newLogger(verbose),
		})
		if err != nil {
			return core.WrapError(core.ExitRuntime, "connect to "+endpoint.Address, err)
		}

		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{
			service: core.Service{Transport: client, Resolver: resolver},
			printer: output.New(os.Stdout, jsonOut),
			json:    jsonOut,
			timeout: coreCfg.Timeout,
		}))
		return nil
	}

	root.AddCommand(statusCommand())
	root.AddCommand(playCommand())
	root.AddCommand(controlCommand("pause", "Pause playback"))
	root.AddCommand(controlCommand("resume", "Resume playback"))
	root.AddCommand(controlCommand("toggle", "Toggle between playing and paused"))
	root.AddCommand(controlCommand("stop", "Stop playback"))
	root.AddCommand(nextCommand())
	root.AddCommand(previousCommand())
	root.AddCommand(seekCommand())
	root.AddCommand(volumeCommand())
	root.AddCommand(modeCommand())
	root.AddCommand(searchCommand())
	root.AddCommand(showCommand())
	root.AddCommand(lyricCommand())
	root.AddCommand(providersCommand())
	root.AddCommand(coverCommand())
	root.AddCommand(addCommand())
	root.AddCommand(removeCommand())
	root.AddCommand(controlCommand("clear", "Clear the playlist"))
	root.AddCommand(listCommand())
	root.AddCommand(collectionsCommand())
	root.AddCommand(subCommand())
	root.AddCommand(execCommand())
	root.AddCommand(rawCommand())

	err := root.Execute()
	if client != nil {
		_ = client.Close()
	}
	if err != nil {
		if !ran {
			err = usageError(err)
		}
		output.Error(os.Stderr, err)
		os.Exit(core.ExitCode(err))
	}
}

// mergeConfig layers flags over fuo.toml and the environment.
func mergeConfig(cfg config.Config, host string, port int, socket string, timeout time.Duration) (core.Config, error) {
	out := core.Config{Host: cfg.Host, Port: cfg.Port, Socket: cfg.Socket, Timeout: 5 * time.Second, Aliases: cfg.Aliases}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return core.Config{}, core.WrapError(core.ExitUsage, "config timeout", err)
		}
		out.Timeout = d
	}
	if host != "" {
		out.Host = host
		out.Socket = ""
	}
	if port != 0 {
		out.Port = port
		out.Socket = ""
	}
	if socket != "" {
		out.Socket = socket
	}
	if timeout > 0 {
		out.Timeout = timeout
	}
	return out, nil
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	val := cmd.Context().Value(appKey{})
	if val == nil {
		return nil
	}
	return val.(*app)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func usageError(err error) error {
	var cliErr *core.CLIError
	if errors.As(err, &cliErr) {
		return err
	}
	return &core.CLIError{Code: core.ExitUsage, Msg: err.Error()}
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func readFileOrStdin(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
