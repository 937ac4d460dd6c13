package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/feeluown/fuocore/internal/adapters/clock"
	"github.com/feeluown/fuocore/internal/adapters/idgen"
	"github.com/feeluown/fuocore/internal/adapters/mqtt"
	"github.com/feeluown/fuocore/internal/adapters/mqttbroker"
	"github.com/feeluown/fuocore/internal/app"
	"github.com/feeluown/fuocore/internal/backends/gstreamer"
	"github.com/feeluown/fuocore/internal/backends/null"
	"github.com/feeluown/fuocore/internal/backends/vlc"
	"github.com/feeluown/fuocore/internal/collection"
	"github.com/feeluown/fuocore/internal/fuod"
	"github.com/feeluown/fuocore/internal/imgcache"
	"github.com/feeluown/fuocore/internal/library"
	"github.com/feeluown/fuocore/internal/player"
	"github.com/feeluown/fuocore/internal/providers/jellyfin"
	"github.com/feeluown/fuocore/internal/providers/local"
	"github.com/feeluown/fuocore/internal/providers/podcast"
	"github.com/feeluown/fuocore/internal/pubsub"
	"github.com/feeluown/fuocore/internal/rpc"
)

func main() {
	os.Exit(run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr))
}

func run(args []string, getenv func(string) string, stdout io.Writer, stderr io.Writer) int {
	var (
		configPath  string
		listen      string
		socket      string
		logLevel    string
		logFormat   string
		logOutput   string
		logSource   bool
		logUTC      bool
		logColor    bool
		printConfig bool
		dryRun      bool
		moduleOnly  string
	)

	defaultConfig, err := fuod.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	flags := flag.NewFlagSet("fuod", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&configPath, "config", "", "config file path (default "+defaultConfig+")")
	flags.StringVar(&listen, "listen", "", "TCP listen address override")
	flags.StringVar(&socket, "socket", "", "unix socket path override")
	flags.StringVar(&logLevel, "log-level", "", "log level override")
	flags.StringVar(&logFormat, "log-format", "", "log format override (text|json)")
	flags.StringVar(&logOutput, "log-output", "", "log output override (stdout|stderr)")
	flags.BoolVar(&logSource, "log-source", false, "include source file in logs")
	flags.BoolVar(&logUTC, "log-utc", false, "use UTC timestamps in logs")
	flags.BoolVar(&logColor, "log-color", false, "enable colored log output (text only)")
	flags.StringVar(&moduleOnly, "module", "", "limit optional modules to one")
	flags.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flags.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	var cfg fuod.Config
	if configPath == "" {
		cfg, err = fuod.LoadDefaultConfig(defaultConfig)
	} else {
		cfg, err = fuod.LoadConfig(configPath)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := applyOverrides(&cfg, getenv, listen, socket, logLevel, logFormat, logOutput, logSource, logUTC, logColor); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if printConfig {
		if err := toml.NewEncoder(stdout).Encode(cfg); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return 0
	}

	logger := fuod.NewLogger(fuod.LogConfig{
		Level:     cfg.Server.LogLevel,
		Format:    cfg.Server.LogFormat,
		Output:    cfg.Server.LogOutput,
		AddSource: cfg.Server.LogSource,
		UTC:       cfg.Server.LogUTC,
		Color:     cfg.Server.LogColor,
	})
	defer func() { _ = logger.Sync() }()

	d, err := build(cfg, afero.NewOsFs(), logger, moduleOnly)
	if err != nil {
		logger.Error("failed to build daemon", zap.Error(err))
		return 1
	}
	if dryRun {
		if err := d.close(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
		return 0
	}

	logger.Info("fuod starting",
		zap.String("listen", cfg.Server.Listen),
		zap.String("socket", d.socket),
		zap.String("backend", cfg.Player.Backend),
		zap.String("data_dir", cfg.Server.DataDir),
		zap.Strings("providers", d.providers),
		zap.Strings("modules", d.names()),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return d.serve(ctx, logger)
}

func applyOverrides(cfg *fuod.Config, getenv func(string) string, listen string, socket string, logLevel string, logFormat string, logOutput string, logSource bool, logUTC bool, logColor bool) error {
	if v := getenv("FEELUOWN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("FEELUOWN_PORT must be a port number")
		}
		host, _, err := net.SplitHostPort(cfg.Server.Listen)
		if err != nil {
			host = "127.0.0.1"
		}
		cfg.Server.Listen = net.JoinHostPort(host, v)
	}
	if v := getenv("FEELUOWN_SOCKET"); v != "" {
		cfg.Server.Socket = v
		cfg.Server.UnixSocket = true
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if socket != "" {
		cfg.Server.Socket = socket
		cfg.Server.UnixSocket = true
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.Server.LogFormat = logFormat
	}
	if logOutput != "" {
		cfg.Server.LogOutput = logOutput
	}
	if logSource {
		cfg.Server.LogSource = true
	}
	if logUTC {
		cfg.Server.LogUTC = true
	}
	if logColor {
		cfg.Server.LogColor = true
	}
	if cfg.Server.DataDir == "" {
		dir, err := fuod.DefaultDataDir()
		if err != nil {
			return err
		}
		cfg.Server.DataDir = dir
	}
	if cfg.Server.UnixSocket && cfg.Server.Socket == "" {
		cfg.Server.Socket = rpc.DefaultSocketPath()
	}
	return nil
}

// daemon is the wired object graph.
type daemon struct {
	app       *app.App
	server    *rpc.Server
	library   *library.Library
	socket    string
	providers []string
	modules   []fuod.ModuleRunner
}

func (d *daemon) names() []string {
	out := make([]string, len(d.modules))
	for i, m := range d.modules {
		out[i] = m.Name
	}
	return out
}

func (d *daemon) close() error {
	return d.library.Close()
}

// serve runs every module until ctx is done or one fails, then closes
// the library. It returns the process exit code.
func (d *daemon) serve(ctx context.Context, logger *zap.Logger) int {
	defer func() {
		if err := d.close(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}()
	supervisor := fuod.Supervisor{Logger: logger}
	if err := supervisor.Run(ctx, d.modules); err != nil {
		logger.Error("supervisor error", zap.Error(err))
		return 1
	}
	return 0
}

// Modules that always run. -module filters the others.
const (
	moduleApp          = "app"
	moduleRPC          = "rpc"
	moduleLocal        = "local_scan"
	moduleEmbeddedMQTT = "embedded_mqtt"
	moduleMQTTBridge   = "mqtt_bridge"
)

func build(cfg fuod.Config, fs afero.Fs, logger *zap.Logger, moduleOnly string) (*daemon, error) {
	clk := clock.Clock{}
	moduleLog := func(name string) *zap.Logger { return logger.With(zap.String("module", name)) }

	lib, err := buildLibrary(moduleLog("library"), cfg.Library)
	if err != nil {
		return nil, err
	}
	d := &daemon{library: lib, socket: cfg.Server.Socket}

	optional := []fuod.ModuleRunner{}
	p := cfg.Providers
	if p.Local.Enabled {
		prov, err := local.New(moduleLog("local"), fs, local.Config{
			Roots:        p.Local.Roots,
			IncludeExts:  p.Local.Extensions,
			ScanInterval: fuod.Millis(p.Local.ScanIntervalMS, local.DefaultScanInterval),
		})
		if err != nil {
			return nil, err
		}
		if err := lib.Register(prov); err != nil {
			return nil, err
		}
		optional = append(optional, fuod.ModuleRunner{Name: moduleLocal, Run: prov.Run})
	}
	if p.Podcast.Enabled {
		prov, err := podcast.New(moduleLog("podcast"), fs, clk, podcast.Config{
			Feeds:           p.Podcast.Feeds,
			RefreshInterval: fuod.Millis(p.Podcast.RefreshIntervalMS, 0),
			CacheDir:        filepath.Join(cfg.Server.DataDir, "cache", "podcasts"),
			Timeout:         fuod.Millis(p.Podcast.TimeoutMS, 0),
			NewestFirst:     p.Podcast.NewestFirst,
		})
		if err != nil {
			return nil, err
		}
		if err := lib.Register(prov); err != nil {
			return nil, err
		}
	}
	if p.Jellyfin.Enabled {
		prov, err := jellyfin.New(moduleLog("jellyfin"), jellyfin.Config{
			BaseURL: p.Jellyfin.BaseURL,
			APIKey:  p.Jellyfin.APIKey,
			UserID:  p.Jellyfin.UserID,
			Timeout: fuod.Millis(p.Jellyfin.TimeoutMS, 0),
		})
		if err != nil {
			return nil, err
		}
		if err := lib.Register(prov); err != nil {
			return nil, err
		}
	}
	for _, prov := range lib.Providers() {
		d.providers = append(d.providers, prov.ID())
	}

	driver, err := buildDriver(cfg, logger)
	if err != nil {
		return nil, err
	}
	backend := player.NewPolledBackend(moduleLog("backend"), driver, player.BackendOptions{
		PollInterval: fuod.Millis(cfg.Player.PollMS, 0),
		OpenTimeout:  fuod.Millis(cfg.Player.OpenTimeoutMS, 0),
	})

	deps := app.Deps{
		Library: lib,
		Backend: backend,
		Images:  imgcache.New(moduleLog("imgcache"), fs, filepath.Join(cfg.Server.DataDir, "cache", "images"), clk, imgcache.Options{}),
	}
	if cfg.Library.CollectionsEnabled() {
		mgr := collection.NewManager(moduleLog("collection"), fs, filepath.Join(cfg.Server.DataDir, "collections"), clk)
		if err := mgr.Scan(); err != nil {
			return nil, fmt.Errorf("collections: %w", err)
		}
		deps.Collections = mgr
	}
	a, err := app.New(moduleLog(moduleApp), deps, app.Config{
		FMProvider: cfg.FM.Provider,
		Player:     player.Options{MaxErrors: cfg.Player.MaxErrors, Volume: cfg.Player.Volume},
	})
	if err != nil {
		return nil, err
	}
	d.app = a

	srv := rpc.New(moduleLog(moduleRPC), a, idgen.Generator{Prefix: "conn"}, rpc.Config{
		Addr:   cfg.Server.Listen,
		Socket: cfg.Server.Socket,
	})
	if cfg.Exec.Batch {
		srv.SetExecSink(rpc.NewBatchSink(srv))
	}
	d.server = srv

	more, err := buildMQTT(cfg, a, srv, moduleLog)
	if err != nil {
		return nil, err
	}
	optional = append(optional, more...)

	d.modules = []fuod.ModuleRunner{
		{Name: moduleApp, Run: a.Run},
		{Name: moduleRPC, Run: srv.ListenAndServe},
	}
	for _, m := range optional {
		if moduleOnly == "" || moduleOnly == m.Name {
			d.modules = append(d.modules, m)
		}
	}
	if moduleOnly != "" && len(d.modules) == 2 {
		return nil, fmt.Errorf("module %s is not enabled", moduleOnly)
	}
	return d, nil
}

func buildLibrary(log *zap.Logger, cfg fuod.LibraryConfig) (*library.Library, error) {
	quality, ok := library.ParseQuality(cfg.Quality)
	if !ok {
		return nil, fmt.Errorf("library.quality: unknown quality %q", cfg.Quality)
	}
	strategy, ok := library.ParseStrategy(cfg.QualityStrategy)
	if !ok {
		return nil, fmt.Errorf("library.quality_strategy: unknown strategy %q", cfg.QualityStrategy)
	}
	return library.New(log, library.Options{
		Quality:        quality,
		Strategy:       strategy,
		SearchTimeout:  fuod.Millis(cfg.SearchTimeoutMS, library.DefaultSearchTimeout),
		GetTimeout:     fuod.Millis(cfg.GetTimeoutMS, library.DefaultGetTimeout),
		CacheSize:      cfg.CacheSize,
		Workers:        cfg.Workers,
		StandbySources: cfg.StandbySources,
	}), nil
}

// buildDriver picks the media engine. A GStreamer build without the
// gstreamer tag falls back to the null driver.
func buildDriver(cfg fuod.Config, logger *zap.Logger) (player.Driver, error) {
	switch cfg.Player.Backend {
	case fuod.BackendGStreamer, "":
		driver, err := gstreamer.NewDriver(gstreamer.Config{
			Pipeline: cfg.GStreamer.Pipeline,
			Device:   cfg.GStreamer.Device,
		})
		if err != nil {
			logger.Warn("gstreamer unavailable, using null backend", zap.Error(err))
			return null.NewDriver(), nil
		}
		return driver, nil
	case fuod.BackendVLC:
		driver, err := vlc.NewDriver(vlc.Config{
			BaseURL:  cfg.VLC.BaseURL,
			Username: cfg.VLC.Username,
			Password: cfg.VLC.Password,
			Timeout:  fuod.Millis(cfg.VLC.TimeoutMS, vlc.DefaultTimeout),
		})
		if err != nil {
			return nil, fmt.Errorf("vlc: %w", err)
		}
		return driver, nil
	case fuod.BackendNull:
		return null.NewDriver(), nil
	}
	return nil, fmt.Errorf("player.backend: unknown backend %q", cfg.Player.Backend)
}

// buildMQTT wires the embedded broker and the pubsub bridge. With no
// external broker URL the bridge talks to the embedded broker in-process.
func buildMQTT(cfg fuod.Config, a *app.App, srv *rpc.Server, moduleLog func(string) *zap.Logger) ([]fuod.ModuleRunner, error) {
	var modules []fuod.ModuleRunner
	var embedded *mqttbroker.Broker
	if cfg.EmbeddedMQTT.Enabled {
		e := cfg.EmbeddedMQTT
		b, err := mqttbroker.New(moduleLog(moduleEmbeddedMQTT), mqttbroker.Config{
			Listen:         e.Listen,
			AllowAnonymous: e.AllowAnonymous,
			Username:       e.Username,
			Password:       e.Password,
			TLSCA:          e.TLSCA,
			TLSCert:        e.TLSCert,
			TLSKey:         e.TLSKey,
		})
		if err != nil {
			return nil, err
		}
		embedded = b
		modules = append(modules, fuod.ModuleRunner{Name: moduleEmbeddedMQTT, Run: b.Run})
	}
	if !cfg.MQTT.Enabled {
		return modules, nil
	}

	log := moduleLog(moduleMQTTBridge)
	var bus pubsub.Bus
	switch {
	case cfg.MQTT.Broker == "" && embedded != nil:
		bus = embedded
	case cfg.MQTT.Broker == "":
		return nil, fmt.Errorf("mqtt.broker is required unless embedded_mqtt is enabled")
	default:
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = idgen.Generator{Prefix: "fuod"}.NewID()
		}
		client, err := mqtt.NewClient(mqtt.Options{
			BrokerURL: cfg.MQTT.Broker,
			ClientID:  clientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			TLSCA:     cfg.MQTT.TLS.CA,
			TLSCert:   cfg.MQTT.TLS.Cert,
			TLSKey:    cfg.MQTT.TLS.Key,
			Timeout:   2 * time.Second,
			Logger:    log,
		})
		if err != nil {
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		bus = client
	}

	var exec pubsub.CommandFunc
	if cfg.MQTT.Commands {
		exec = srv.Exec
	}
	bridge := pubsub.NewBridge(log, a.Broker, bus, pubsub.BridgeConfig{
		TopicBase: cfg.MQTT.TopicBase,
		Retain:    cfg.MQTT.Retain,
	}, exec)
	modules = append(modules, fuod.ModuleRunner{Name: moduleMQTTBridge, Run: bridge.Run})
	return modules, nil
}
