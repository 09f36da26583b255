package config

// ConfigDiff describes what changed between two configs.
// Only the log level is applied live; every other change is listed in
// RestartRequired so the caller can tell the operator.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the sections whose changes only take effect
	// after the process restarts, e.g. "audio" or "client.reconnect".
	RestartRequired []string
}

// Changed reports whether anything differs between the two configs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}

	oc, nc := old.Client, new.Client
	if oc.PeerAddr != nc.PeerAddr || oc.PeerPort != nc.PeerPort {
		d.RestartRequired = append(d.RestartRequired, "client.peer")
	}
	if oc.OutputFile != nc.OutputFile || oc.CaptureSeconds != nc.CaptureSeconds {
		d.RestartRequired = append(d.RestartRequired, "client.capture")
	}
	if oc.AutoStart != nc.AutoStart || oc.QueueSize != nc.QueueSize || oc.StatusAddr != nc.StatusAddr {
		d.RestartRequired = append(d.RestartRequired, "client")
	}
	if oc.Reconnect != nc.Reconnect {
		d.RestartRequired = append(d.RestartRequired, "client.reconnect")
	}

	if old.Server != new.Server {
		d.RestartRequired = append(d.RestartRequired, "server")
	}

	return d
}
