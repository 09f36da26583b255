// Package config provides the configuration schema, loader, and environment
// overlay for the voicebridge client and server.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ReplyMode selects how the server answers a client.
type ReplyMode string

const (
	// ReplyPerMessage answers every inbound frame with one tone frame.
	ReplyPerMessage ReplyMode = "per_message"

	// ReplyPeriodic sends a tone frame every reply_interval.
	ReplyPeriodic ReplyMode = "periodic"
)

// IsValid reports whether m is a recognised reply mode.
func (m ReplyMode) IsValid() bool {
	return m == ReplyPerMessage || m == ReplyPeriodic
}

// PlaceholderPeerAddr is the sample peer address shipped in example
// configurations. It is rejected so the client never dials it.
const PlaceholderPeerAddr = "YOUR_ANDROID_PHONE_IP_ADDRESS"

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader] and then overlaid with
// environment variables via [ApplyEnv].
type Config struct {
	LogLevel LogLevel     `yaml:"log_level"`
	Audio    AudioConfig  `yaml:"audio"`
	Client   ClientConfig `yaml:"client"`
	Server   ServerConfig `yaml:"server"`
}

// AudioConfig is the PCM format both endpoints must agree on.
type AudioConfig struct {
	// SampleRate in Hz. Default 44100.
	SampleRate int `yaml:"sample_rate"`

	// Channels is 1 (mono) or 2 (stereo). Default 1.
	Channels int `yaml:"channels"`

	// SampleWidth in bytes. Only 2 (16-bit) is supported.
	SampleWidth int `yaml:"sample_width"`

	// FramesPerBuffer is the hardware buffer size in sample frames. Default 1024.
	FramesPerBuffer int `yaml:"frames_per_buffer"`
}

// ClientConfig configures the desktop endpoint.
type ClientConfig struct {
	// PeerAddr is the host name or IP address of the server.
	PeerAddr string `yaml:"peer_addr"`

	// PeerPort is the server's TCP port. Default 8765.
	PeerPort int `yaml:"peer_port"`

	// OutputFile, when set, receives the first CaptureSeconds of audio
	// returned by the server as a WAV file.
	OutputFile string `yaml:"output_file"`

	// CaptureSeconds is the length of the one-shot capture. Default 5.
	CaptureSeconds int `yaml:"capture_seconds"`

	// AutoStart starts streaming immediately. When false the client waits
	// for the user to press Enter.
	AutoStart bool `yaml:"auto_start"`

	// QueueSize bounds the number of captured frames waiting to be sent.
	QueueSize int `yaml:"queue_size"`

	// StatusAddr, when set, serves /healthz, /readyz and /metrics.
	StatusAddr string `yaml:"status_addr"`

	// Reconnect tunes connection timing.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig holds the client's connection timing.
type ReconnectConfig struct {
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// ServerConfig configures the mobile endpoint.
type ServerConfig struct {
	// ListenAddr is the TCP address to serve on. Default "0.0.0.0:8765".
	ListenAddr string `yaml:"listen_addr"`

	// RestartDelay is the pause before listening again after the listener
	// failed. Default 5s.
	RestartDelay time.Duration `yaml:"restart_delay"`

	// ReplyMode selects the reply cadence. Default per_message.
	ReplyMode ReplyMode `yaml:"reply_mode"`

	// ReplyInterval is the cadence of periodic replies. Default 500ms.
	ReplyInterval time.Duration `yaml:"reply_interval"`

	// Tone is the synthesized reply signal.
	Tone ToneConfig `yaml:"tone"`
}

// ToneConfig describes the reply tone.
type ToneConfig struct {
	Frequency float64       `yaml:"frequency"`
	Duration  time.Duration `yaml:"duration"`
	Amplitude float64       `yaml:"amplitude"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Audio: AudioConfig{
			SampleRate:      44100,
			Channels:        1,
			SampleWidth:     2,
			FramesPerBuffer: 1024,
		},
		Client: ClientConfig{
			PeerPort:       8765,
			CaptureSeconds: 5,
			AutoStart:      true,
			QueueSize:      64,
			Reconnect: ReconnectConfig{
				InitialBackoff:   1 * time.Second,
				MaxBackoff:       30 * time.Second,
				ConnectTimeout:   6 * time.Second,
				HandshakeTimeout: 5 * time.Second,
				PingInterval:     1 * time.Second,
				PingTimeout:      3 * time.Second,
				PollInterval:     100 * time.Millisecond,
				WriteTimeout:     5 * time.Second,
			},
		},
		Server: ServerConfig{
			ListenAddr:    "0.0.0.0:8765",
			RestartDelay:  5 * time.Second,
			ReplyMode:     ReplyPerMessage,
			ReplyInterval: 500 * time.Millisecond,
			Tone: ToneConfig{
				Frequency: 440,
				Duration:  500 * time.Millisecond,
				Amplitude: 0.5,
			},
		},
	}
}

// PeerURL returns the WebSocket URL of the configured server.
func (c ClientConfig) PeerURL() string {
	return fmt.Sprintf("ws://%s/", net.JoinHostPort(c.PeerAddr, strconv.Itoa(c.PeerPort)))
}

// CaptureDuration returns CaptureSeconds as a duration.
func (c ClientConfig) CaptureDuration() time.Duration {
	return time.Duration(c.CaptureSeconds) * time.Second
}
