package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by [ApplyEnv].
const EnvPrefix = "VOICEBRIDGE_"

// ErrPeerNotConfigured is returned by [ValidateClient] when no usable peer
// address is set.
var ErrPeerNotConfigured = errors.New("config: configure peer address first")

// Load reads the YAML configuration file at path on top of [Default] and
// returns a validated [Config]. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, Validate(cfg)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 192000]", a.SampleRate))
	}
	if a.Channels != 1 && a.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", a.Channels))
	}
	if a.SampleWidth != 2 {
		errs = append(errs, fmt.Errorf("audio.sample_width %d is unsupported; only 2 (16-bit) is supported", a.SampleWidth))
	}
	if a.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer must be positive, got %d", a.FramesPerBuffer))
	}

	// Client
	c := cfg.Client
	if c.PeerPort < 1 || c.PeerPort > 65535 {
		errs = append(errs, fmt.Errorf("client.peer_port %d is out of range [1, 65535]", c.PeerPort))
	}
	if c.OutputFile != "" && c.CaptureSeconds <= 0 {
		errs = append(errs, fmt.Errorf("client.capture_seconds must be positive when client.output_file is set, got %d", c.CaptureSeconds))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("client.queue_size must not be negative, got %d", c.QueueSize))
	}
	if c.StatusAddr != "" {
		if _, _, err := net.SplitHostPort(c.StatusAddr); err != nil {
			errs = append(errs, fmt.Errorf("client.status_addr %q: %w", c.StatusAddr, err))
		}
	}
	rc := c.Reconnect
	for name, d := range map[string]time.Duration{
		"initial_backoff":   rc.InitialBackoff,
		"max_backoff":       rc.MaxBackoff,
		"connect_timeout":   rc.ConnectTimeout,
		"handshake_timeout": rc.HandshakeTimeout,
		"ping_interval":     rc.PingInterval,
		"ping_timeout":      rc.PingTimeout,
		"poll_interval":     rc.PollInterval,
		"write_timeout":     rc.WriteTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("client.reconnect.%s must be positive, got %s", name, d))
		}
	}
	if rc.MaxBackoff > 0 && rc.MaxBackoff < rc.InitialBackoff {
		errs = append(errs, fmt.Errorf("client.reconnect.max_backoff %s is below initial_backoff %s", rc.MaxBackoff, rc.InitialBackoff))
	}
	if rc.HandshakeTimeout > rc.ConnectTimeout {
		slog.Warn("client.reconnect.handshake_timeout exceeds connect_timeout; the connect timeout wins",
			"handshake_timeout", rc.HandshakeTimeout,
			"connect_timeout", rc.ConnectTimeout,
		)
	}

	// Server
	s := cfg.Server
	if s.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	} else if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("server.listen_addr %q: %w", s.ListenAddr, err))
	}
	if s.RestartDelay <= 0 {
		errs = append(errs, fmt.Errorf("server.restart_delay must be positive, got %s", s.RestartDelay))
	}
	if !s.ReplyMode.IsValid() {
		errs = append(errs, fmt.Errorf("server.reply_mode %q is invalid; valid values: per_message, periodic", s.ReplyMode))
	}
	if s.ReplyMode == ReplyPeriodic && s.ReplyInterval <= 0 {
		errs = append(errs, fmt.Errorf("server.reply_interval must be positive in periodic mode, got %s", s.ReplyInterval))
	}
	if s.Tone.Frequency <= 0 || s.Tone.Frequency >= float64(a.SampleRate)/2 {
		errs = append(errs, fmt.Errorf("server.tone.frequency %.1f is out of range (0, %d)", s.Tone.Frequency, a.SampleRate/2))
	}
	if s.Tone.Duration <= 0 {
		errs = append(errs, fmt.Errorf("server.tone.duration must be positive, got %s", s.Tone.Duration))
	}
	if s.Tone.Amplitude <= 0 || s.Tone.Amplitude > 1 {
		errs = append(errs, fmt.Errorf("server.tone.amplitude %.2f is out of range (0, 1]", s.Tone.Amplitude))
	}

	return errors.Join(errs...)
}

// ValidateClient checks the settings only the client needs. It wraps
// [ErrPeerNotConfigured] when the peer address is missing or still the
// sample placeholder.
func ValidateClient(cfg *Config) error {
	addr := strings.TrimSpace(cfg.Client.PeerAddr)
	if addr == "" || addr == PlaceholderPeerAddr {
		return fmt.Errorf("%w: set client.peer_addr or %sPEER_ADDR", ErrPeerNotConfigured, EnvPrefix)
	}
	return nil
}

// ApplyEnv overlays VOICEBRIDGE_* variables found by lookup onto cfg and
// re-validates it. Pass [os.LookupEnv] in production. Malformed values are
// reported together.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	var level, mode string
	str("LOG_LEVEL", &level)
	if level != "" {
		cfg.LogLevel = LogLevel(level)
	}
	str("PEER_ADDR", &cfg.Client.PeerAddr)
	integer("PEER_PORT", &cfg.Client.PeerPort)
	str("OUTPUT_FILE", &cfg.Client.OutputFile)
	integer("CAPTURE_SECONDS", &cfg.Client.CaptureSeconds)
	boolean("AUTO_START", &cfg.Client.AutoStart)
	str("STATUS_ADDR", &cfg.Client.StatusAddr)
	str("LISTEN_ADDR", &cfg.Server.ListenAddr)
	str("REPLY_MODE", &mode)
	if mode != "" {
		cfg.Server.ReplyMode = ReplyMode(mode)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	return Validate(cfg)
}
