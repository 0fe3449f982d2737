package config

// Diff describes what changed between two configs, split into what can be
// applied live and what needs the bridge restarted.
type Diff struct {
	// LogLevelChanged is safe to hot-apply.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired is set when pipe paths, Discord attachment, or sink
	// wiring changed. Those are bound to the running session.
	RestartRequired bool

	// Changed names the sections that differ, for logging.
	Changed []string
}

// Compare returns what changed between old and new.
func Compare(old, new *Config) Diff {
	d := Diff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
		d.Changed = append(d.Changed, "server.log_level")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = true
		d.Changed = append(d.Changed, "server.listen_addr")
	}
	if old.Discord != new.Discord {
		d.RestartRequired = true
		d.Changed = append(d.Changed, "discord")
	}
	if old.Pipes != new.Pipes {
		d.RestartRequired = true
		d.Changed = append(d.Changed, "pipes")
	}
	if old.Sink != new.Sink {
		d.RestartRequired = true
		d.Changed = append(d.Changed, "sink")
	}
	return d
}
