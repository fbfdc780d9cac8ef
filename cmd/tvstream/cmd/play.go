package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/tvstream/internal/config"
	"github.com/jmylchreest/tvstream/internal/headless"
	"github.com/jmylchreest/tvstream/internal/observability"
	"github.com/jmylchreest/tvstream/internal/player"
	"github.com/jmylchreest/tvstream/internal/urlutil"
	"github.com/jmylchreest/tvstream/internal/version"
	"github.com/jmylchreest/tvstream/pkg/format"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a channel with the headless player",
	Long: `Connect to a streaming server and play a channel without rendering.

Media is parsed and buffered by a simulated decoder whose playhead advances
in real time, so startup delay, stalls and reconnects behave as in a browser.
A summary is printed when playback ends.

  tvstream play --server ws://localhost:8080/ws --channel news --duration 1m
  tvstream play --channel news --switch-to demo --switch-after 20s`,
	Args: cobra.NoArgs,
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().String("server", "", "server address, e.g. localhost:8080 or wss://host/ws (overrides client.server_url)")
	playCmd.Flags().String("channel", "", "channel to play (overrides client.channel)")
	playCmd.Flags().Duration("duration", 0, "stop after this long (0 plays until interrupted)")
	playCmd.Flags().String("switch-to", "", "channel to switch to during playback")
	playCmd.Flags().Duration("switch-after", 30*time.Second, "when to switch channels")
}

func runPlay(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	applyChanged(flags, map[string]func(*pflag.Flag){
		"server":  func(f *pflag.Flag) { cfg.Client.ServerURL = f.Value.String() },
		"channel": func(f *pflag.Flag) { cfg.Client.Channel = f.Value.String() },
	})
	serverURL, err := urlutil.WebsocketURL(cfg.Client.ServerURL)
	if err != nil {
		return err
	}
	duration, _ := flags.GetDuration("duration")
	switchTo, _ := flags.GetString("switch-to")
	switchAfter, _ := flags.GetDuration("switch-after")

	logger := observability.WithComponent(slog.Default(), "player")
	logger = observability.WithChannel(logger, cfg.Client.Channel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	sinks := &sinkSet{}
	newSink := func() player.Sink {
		s := headless.New(headless.Config{DecodeDelay: cfg.Client.DecodeDelay}, logger)
		sinks.add(s)
		return s
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	dialer := &player.WSDialer{URL: serverURL, Header: header, HandshakeTimeout: 10 * time.Second}

	mgr := player.NewManager(managerConfig(cfg.Client), dialer, newSink, identity(cfg.Client),
		player.NewNoticeBoard(logger), logger)

	if switchTo != "" {
		t := time.AfterFunc(switchAfter, func() {
			logger.Info("switching channel", slog.String("to", switchTo))
			mgr.SetChannel(switchTo)
		})
		defer t.Stop()
	}

	logger.Info("starting playback", slog.String("server", serverURL))
	start := time.Now()
	err = mgr.Run(ctx)
	elapsed := time.Since(start)

	printSummary(cmd.OutOrStdout(), mgr.Stats(), elapsed, sinks.stalls())

	switch {
	case err == nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return nil
	default:
		return fmt.Errorf("playback ended: %w", err)
	}
}

func managerConfig(c config.ClientConfig) player.ManagerConfig {
	return player.ManagerConfig{
		Channel:              c.Channel,
		ReconnectBase:        c.ReconnectBase,
		ReconnectMax:         c.ReconnectMax,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		HealthyPeriod:        c.HealthyPeriod,
		HeartbeatInterval:    c.HeartbeatInterval,
		MonitorInterval:      c.MonitorInterval,
		WatchdogTimeout:      c.WatchdogTimeout,
	}
}

func identity(c config.ClientConfig) player.Identity {
	return player.Identity{
		SessionKey:   c.SessionKey,
		UserName:     c.UserName,
		OS:           runtime.GOOS,
		Browser:      version.UserAgent(),
		ScreenWidth:  c.ScreenWidth,
		ScreenHeight: c.ScreenHeight,
	}
}

// sinkSet remembers every sink the player allocated so stalls can be
// totalled across channel switches and reconnects.
type sinkSet struct {
	mu    sync.Mutex
	sinks []*headless.Sink
}

func (s *sinkSet) add(sink *headless.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

func (s *sinkSet) stalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sink := range s.sinks {
		n += sink.Stalls()
	}
	return n
}

func printSummary(w io.Writer, st player.Stats, elapsed time.Duration, sinkStalls int) {
	row := func(name, value string) {
		fmt.Fprintf(w, "  %-18s %s\n", name, value)
	}

	fmt.Fprintln(w, "playback summary")
	row("channel", st.Channel)
	row("played for", format.Seconds(elapsed))
	if st.Started {
		row("startup delay", format.Seconds(st.StartupDelay))
	} else {
		row("startup delay", "never started")
	}
	row("stall time", fmt.Sprintf("%s (%s)", format.Seconds(st.CumulativeStall),
		format.Percentage(st.CumulativeStall.Seconds(), elapsed.Seconds())))
	row("rebuffers", format.Number(int64(st.Rebuffers)))
	row("decoder stalls", format.Number(int64(sinkStalls)))
	if st.VideoQuality != "" {
		row("video quality", fmt.Sprintf("%s, %s, ssim %.3f", st.VideoQuality, format.Bitrate(st.VideoBitrate*1000), st.SSIM))
	}
	row("chunks", fmt.Sprintf("%s video, %s audio", format.Number(int64(st.VideoChunks)), format.Number(int64(st.AudioChunks))))
	row("acks sent", format.Number(int64(st.Session.AcksSent)))
	row("reconnects", format.Number(int64(st.Reconnects)))
	if st.ChannelErr != nil {
		row("channel error", st.ChannelErr.Error())
	}
	if st.Fatal {
		row("state", "fatal")
	}
}
