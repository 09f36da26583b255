package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicebridge/internal/app"
	"github.com/MrWong99/voicebridge/internal/config"
	"github.com/MrWong99/voicebridge/internal/status"
	"github.com/MrWong99/voicebridge/pkg/audio/portaudio"
)

func newClientCmd(g *globals) *cobra.Command {
	var (
		peer      string
		port      int
		output    string
		duration  int
		autoStart bool
		statusAt  string
	)
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Stream the microphone to a peer and play its replies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := &g.cfg.Client
			flags := cmd.Flags()
			if flags.Changed("peer") {
				c.PeerAddr = peer
			}
			if flags.Changed("port") {
				c.PeerPort = port
			}
			if flags.Changed("output") {
				c.OutputFile = output
			}
			if flags.Changed("duration") {
				c.CaptureSeconds = duration
			}
			if flags.Changed("auto-start") {
				c.AutoStart = autoStart
			}
			if flags.Changed("status-addr") {
				c.StatusAddr = statusAt
			}
			if err := config.Validate(g.cfg); err != nil {
				return err
			}
			return runClient(g)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&peer, "peer", "p", "", "peer host name or IP address")
	f.IntVar(&port, "port", 0, "peer TCP port")
	f.StringVarP(&output, "output", "o", "", "save the first seconds of received audio to this WAV file")
	f.IntVarP(&duration, "duration", "d", 0, "seconds of received audio to save")
	f.BoolVar(&autoStart, "auto-start", true, "start streaming without waiting for Enter")
	f.StringVar(&statusAt, "status-addr", "", "serve /healthz, /readyz and /metrics on this address")
	return cmd
}

func runClient(g *globals) error {
	ctx, stop := signalContext()
	defer stop()
	g.watch(ctx)
	defer telemetry(ctx, "client")()

	dev, err := portaudio.New()
	if err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer dev.Terminate()

	// Status lines go to stdout on their own goroutine, like a UI thread.
	reporter := status.NewAsync(status.Multi{
		status.Func(func(text string) { fmt.Println(text) }),
		status.Log{Logger: slog.Default().With("role", "client")},
	}, 0)
	defer reporter.Close()

	opts := []app.Option{app.WithDevice(dev), app.WithReporter(reporter)}
	if !g.cfg.Client.AutoStart {
		opts = append(opts, app.WithStartSignal(waitForEnter()))
	}
	client, err := app.NewClient(g.cfg, opts...)
	if err != nil {
		return err
	}
	slog.Info("voicebridge client starting",
		"peer", g.cfg.Client.PeerURL(),
		"output_file", g.cfg.Client.OutputFile,
		"auto_start", g.cfg.Client.AutoStart,
	)
	return client.Run(ctx)
}

// waitForEnter returns a channel closed once the user presses Enter.
func waitForEnter() <-chan struct{} {
	ch := make(chan struct{})
	fmt.Println("Press Enter to start streaming.")
	go func() {
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		close(ch)
	}()
	return ch
}

func newServerCmd(g *globals) *cobra.Command {
	var (
		listen    string
		replyMode string
	)
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept clients, play their audio and answer with a tone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := &g.cfg.Server
			if cmd.Flags().Changed("listen") {
				s.ListenAddr = listen
			}
			if cmd.Flags().Changed("reply-mode") {
				s.ReplyMode = config.ReplyMode(replyMode)
			}
			if err := config.Validate(g.cfg); err != nil {
				return err
			}
			return runServer(g)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "TCP address to listen on")
	cmd.Flags().StringVar(&replyMode, "reply-mode", "", "per_message or periodic")
	return cmd
}

func runServer(g *globals) error {
	ctx, stop := signalContext()
	defer stop()
	g.watch(ctx)
	defer telemetry(ctx, "server")()

	dev, err := portaudio.New()
	if err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer dev.Terminate()

	srv, err := app.NewServer(g.cfg, app.WithDevice(dev))
	if err != nil {
		return err
	}
	slog.Info("voicebridge server starting",
		"listen_addr", g.cfg.Server.ListenAddr,
		"reply_mode", g.cfg.Server.ReplyMode,
		"tone_hz", g.cfg.Server.Tone.Frequency,
	)
	return srv.Run(ctx)
}
