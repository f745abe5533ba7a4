package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DialogChanged is set when any dialog tuning value changed. Dialog
	// settings apply to the next turn without a restart.
	DialogChanged bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !reflect.DeepEqual(old.Dialog, new.Dialog) {
		d.DialogChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"store", old.Store, new.Store},
		{"enhancement", old.Enhancement, new.Enhancement},
		{"paraphrase", old.Paraphrase, new.Paraphrase},
		{"providers", old.Providers, new.Providers},
		{"resilience", old.Resilience, new.Resilience},
		{"voice", old.Voice, new.Voice},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	slices.Sort(d.RestartRequired)
	return d
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.DialogChanged && len(d.RestartRequired) == 0
}
