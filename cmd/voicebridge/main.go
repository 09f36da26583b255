// Command voicebridge relays live PCM audio between a desktop client and a
// mobile server over one reconnecting WebSocket connection.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrWong99/voicebridge/internal/config"
	"github.com/MrWong99/voicebridge/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voicebridge: %v\n", err)
		return 1
	}
	return 0
}

// globals is the state shared by every sub-command, resolved in the root's
// PersistentPreRunE.
type globals struct {
	configPath string
	cfg        *config.Config
	level      *slog.LevelVar
}

func newRootCmd() *cobra.Command {
	g := &globals{level: new(slog.LevelVar)}
	cmd := &cobra.Command{
		Use:           "voicebridge",
		Short:         "Bidirectional WebSocket audio bridge",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load()
		},
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to the YAML configuration file")

	cmd.AddCommand(newClientCmd(g), newServerCmd(g))
	return cmd
}

// load resolves configuration in order: defaults, YAML file, .env file,
// VOICEBRIDGE_* environment. Sub-command flags are applied afterwards.
func (g *globals) load() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found", g.configPath)
		}
		return err
	}
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return err
	}
	g.cfg = cfg

	g.level.Set(parseLevel(cfg.LogLevel))
	slog.SetDefault(newLogger(g.level))
	return nil
}

// watch hot-reloads the log level from the config file until ctx ends.
// Other changes are logged as requiring a restart.
func (g *globals) watch(ctx context.Context) {
	if g.configPath == "" {
		return
	}
	w, err := config.NewWatcher(g.configPath, config.WithEnv(os.LookupEnv))
	if err != nil {
		slog.Warn("config watcher disabled", "path", g.configPath, "err", err)
		return
	}
	go w.Run(ctx, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			g.level.Set(parseLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes take effect after restart", "sections", strings.Join(d.RestartRequired, ","))
		}
	})
}

// telemetry installs the OTel providers and returns their shutdown func.
func telemetry(ctx context.Context, role string) func() {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		Role:    role,
		Version: version,
	})
	if err != nil {
		slog.Warn("telemetry disabled", "err", err)
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func parseLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
