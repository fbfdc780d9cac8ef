package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/tvstream/internal/config"
	"github.com/jmylchreest/tvstream/internal/database"
	internalhttp "github.com/jmylchreest/tvstream/internal/http"
	"github.com/jmylchreest/tvstream/internal/http/handlers"
	"github.com/jmylchreest/tvstream/internal/mediaserver"
	"github.com/jmylchreest/tvstream/internal/metrics"
	"github.com/jmylchreest/tvstream/internal/observability"
	"github.com/jmylchreest/tvstream/internal/telemetry"
	"github.com/jmylchreest/tvstream/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve <port>",
	Short: "Start the streaming server",
	Long: `Start the streaming server on the given port.

The server provides:
- the streaming websocket at /ws
- REST API (health, channels, maintenance, telemetry summary) under /api/v1
- Prometheus metrics at /metrics
- OpenAPI documentation at /docs
- the player page from server.static_dir`,
	Args: requirePort,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to (overrides server.host)")
	serveCmd.Flags().String("static-dir", "", "directory with the player page (overrides server.static_dir)")
	serveCmd.Flags().Bool("maintenance", false, "start in maintenance mode")
	serveCmd.Flags().Bool("no-telemetry", false, "do not persist client telemetry")
}

// requirePort prints usage when the port is missing, since the root command
// silences usage on errors.
func requirePort(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		_ = cmd.Usage()
		return fmt.Errorf("serve takes exactly one port argument, got %d", len(args))
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", args[0])
	}
	applyServeFlags(cmd.Flags(), cfg)

	logger := observability.WithComponent(slog.Default(), "serve")
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var (
		db       *database.DB
		repo     telemetry.Repository
		recorder *telemetry.Recorder
		bg       sync.WaitGroup
	)
	if cfg.Telemetry.Enabled {
		db, err = database.New(cfg.Database, observability.WithComponent(logger, "database"))
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		repo = telemetry.NewRepository(db.DB)
		recorder = telemetry.NewRecorder(repo, telemetry.RecorderConfig{QueueSize: cfg.Telemetry.QueueSize},
			observability.WithComponent(logger, "telemetry"),
			telemetry.WithDropHook(m.IncTelemetryDropped))

		recCtx, cancelRec := context.WithCancel(context.WithoutCancel(ctx))
		defer cancelRec()
		bg.Add(1)
		go func() {
			defer bg.Done()
			_ = recorder.Run(recCtx)
		}()
		// The recorder drains its queue once the media server has stopped.
		defer func() {
			cancelRec()
			bg.Wait()
		}()

		pruner, err := telemetry.NewPruner(repo, cfg.Telemetry.PruneSchedule, cfg.Telemetry.Retention,
			observability.WithComponent(logger, "pruner"))
		if err != nil {
			return fmt.Errorf("creating telemetry pruner: %w", err)
		}
		if err := pruner.Start(ctx); err != nil {
			return fmt.Errorf("starting telemetry pruner: %w", err)
		}
		defer pruner.Stop()
	}

	channels, err := buildChannels(cfg.Streaming, time.Now())
	if err != nil {
		return err
	}
	selector, err := mediaserver.NewSelector(cfg.Streaming.Selector)
	if err != nil {
		return err
	}

	httpSrv := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxConnections:  cfg.Server.MaxConnections,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}, observability.WithComponent(logger, "http"), version.Version)

	opts := []mediaserver.Option{
		mediaserver.WithMetrics(m),
		mediaserver.WithCheckOrigin(httpSrv.CheckOrigin()),
	}
	if recorder != nil {
		opts = append(opts, mediaserver.WithRecorder(recorder))
	}
	media, err := mediaserver.New(mediaConfig(cfg), channels, selector,
		observability.WithComponent(logger, "mediaserver"), opts...)
	if err != nil {
		return fmt.Errorf("creating media server: %w", err)
	}
	defer media.Close()

	health := handlers.NewHealthHandler(version.Version, media)
	if db != nil {
		health.WithDB(db)
	}
	health.Register(httpSrv.API())
	handlers.NewChannelHandler(media).Register(httpSrv.API())
	if repo != nil {
		handlers.NewTelemetryHandler(repo).Register(httpSrv.API())
	}
	httpSrv.Handle(internalhttp.WebsocketPath, media)
	httpSrv.Handle(internalhttp.MetricsPath, m.Handler(func() {
		m.SetActiveClients(media.ClientCount())
	}))
	httpSrv.Static(cfg.Server.StaticDir)

	logger.Info("serving channels",
		slog.Any("channels", cfg.Streaming.Channels),
		slog.String("selector", cfg.Streaming.Selector),
		slog.Bool("telemetry", cfg.Telemetry.Enabled),
		slog.Bool("maintenance", media.Maintenance()))

	// ListenAndServe returns after graceful shutdown of plain HTTP; the
	// deferred media.Close then disconnects the hijacked websockets.
	return httpSrv.ListenAndServe(ctx)
}

func applyServeFlags(flags *pflag.FlagSet, c *config.Config) {
	applyChanged(flags, map[string]func(*pflag.Flag){
		"host":        func(f *pflag.Flag) { c.Server.Host = f.Value.String() },
		"static-dir":  func(f *pflag.Flag) { c.Server.StaticDir = f.Value.String() },
		"maintenance": func(f *pflag.Flag) { c.Server.Maintenance = flagBool(f) },
		"no-telemetry": func(f *pflag.Flag) {
			if flagBool(f) {
				c.Telemetry.Enabled = false
			}
		},
	})
}

func buildChannels(sc config.StreamingConfig, now time.Time) ([]*mediaserver.Channel, error) {
	out := make([]*mediaserver.Channel, 0, len(sc.Channels))
	for _, name := range sc.Channels {
		ch, err := mediaserver.NewChannel(mediaserver.ChannelConfig{
			Name:          name,
			Timescale:     sc.Timescale,
			VideoDuration: sc.VideoDuration,
			AudioDuration: sc.AudioDuration,
			Window:        sc.Window,
		}, now)
		if err != nil {
			return nil, fmt.Errorf("creating channel %s: %w", name, err)
		}
		out = append(out, ch)
	}
	return out, nil
}

func mediaConfig(c *config.Config) mediaserver.Config {
	mc := mediaserver.DefaultConfig()
	mc.FragmentSize = c.Streaming.FragmentSize.Int()
	mc.MaxBuffer = c.Streaming.MaxBuffer
	mc.MaxInflight = c.Streaming.MaxInflight
	mc.ServeInterval = c.Streaming.ServeInterval
	mc.WriteTimeout = c.Server.WriteTimeout
	mc.Maintenance = c.Server.Maintenance
	return mc
}
