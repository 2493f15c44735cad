package config

import (
	"reflect"

	"github.com/MrWong99/voxlink/pkg/realtime"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	InstructionsChanged  bool
	VoiceChanged         bool
	TurnDetectionChanged bool

	// Session carries the session.update body for the changed fields.
	// It is only meaningful when [ConfigDiff.SessionChanged] reports true.
	Session realtime.SessionParams

	// RestartRequired lists top-level sections whose changes are ignored
	// until restart.
	RestartRequired []string
}

// SessionChanged reports whether a session.update should be sent.
func (d ConfigDiff) SessionChanged() bool {
	return d.InstructionsChanged || d.VoiceChanged || d.TurnDetectionChanged
}

// Empty reports whether nothing changed at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SessionChanged() && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	or, nr := old.Realtime, new.Realtime
	if or.Instructions != nr.Instructions {
		d.InstructionsChanged = true
		d.Session.Instructions = nr.Instructions
	}
	if or.Voice != nr.Voice {
		d.VoiceChanged = true
		d.Session.Voice = nr.Voice
	}
	if !reflect.DeepEqual(or.TurnDetection, nr.TurnDetection) {
		d.TurnDetectionChanged = true
		td := nr.TurnDetection.Wire()
		d.Session.TurnDetection = &td
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	or.Instructions, nr.Instructions = "", ""
	or.Voice, nr.Voice = "", ""
	or.TurnDetection, nr.TurnDetection = TurnDetectionConfig{}, TurnDetectionConfig{}
	if !reflect.DeepEqual(or, nr) {
		d.RestartRequired = append(d.RestartRequired, "realtime")
	}
	if old.Timeouts != new.Timeouts {
		d.RestartRequired = append(d.RestartRequired, "timeouts")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !reflect.DeepEqual(old.Fallback, new.Fallback) {
		d.RestartRequired = append(d.RestartRequired, "fallback")
	}
	if old.Transcript != new.Transcript {
		d.RestartRequired = append(d.RestartRequired, "transcript")
	}

	return d
}
