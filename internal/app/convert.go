package app

import (
	"log/slog"

	"github.com/DanielWill-1/audentra/internal/config"
	"github.com/DanielWill-1/audentra/internal/engine"
	"github.com/DanielWill-1/audentra/pkg/provider/tts"
)

// TuningFromConfig converts the dialog section into engine tuning.
func TuningFromConfig(d config.DialogConfig) engine.Tuning {
	return engine.Tuning{
		AcceptThreshold:   d.AcceptThreshold,
		MaxClarifications: d.MaxClarifications,
		MaxRequired:       d.MaxRequired,
		MaxOptional:       d.MaxOptional,
		MinASRConfidence:  d.MinASRConfidence,
		CorrectionCues:    d.CorrectionCues,
		IdleTimeout:       d.IdleTimeout,
	}
}

// VoiceFromConfig converts the voice section into a synthesis voice.
func VoiceFromConfig(v config.VoiceConfig) tts.VoiceConfig {
	return tts.VoiceConfig{
		VoiceID:         v.VoiceID,
		Stability:       v.Stability,
		SimilarityBoost: v.SimilarityBoost,
	}
}

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
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
