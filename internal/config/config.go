// Package config provides the configuration schema and loader for DoctorApp.
package config

import (
	"os"
	"path/filepath"
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

// appName is the directory created under the per-user application-data root.
const appName = "DoctorApp"

// Defaults applied by [Default] and for every key missing from a YAML file.
const (
	DefaultBackupKeep      = 5
	DefaultLanguage        = "sr"
	DefaultSampleRate      = 16000
	DefaultFramesPerBuffer = 1024
	DefaultModelFile       = "ggml-small.bin"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity of the stderr logger.
	LogLevel LogLevel `yaml:"log_level"`

	// DataDir is the application-data root. The database, audio recordings,
	// backups, models and error log all live below it. Defaults to
	// [DefaultDataRoot].
	DataDir string `yaml:"data_dir"`

	Backup  BackupConfig  `yaml:"backup"`
	Speech  SpeechConfig  `yaml:"speech"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// BackupConfig controls the backup rotation policy.
type BackupConfig struct {
	// Keep is the number of most recent backups retained. Default: 5.
	Keep int `yaml:"keep"`
}

// SpeechConfig configures dictation capture and offline recognition.
type SpeechConfig struct {
	// ModelPath is the whisper.cpp ggml model file. When empty,
	// <data_dir>/models/ggml-small.bin is used.
	ModelPath string `yaml:"model_path"`

	// Language is the spoken language passed to the recogniser. Default: "sr".
	Language string `yaml:"language"`

	// SampleRate is the capture rate in Hz. whisper.cpp only accepts 16000.
	SampleRate int `yaml:"sample_rate"`

	// FramesPerBuffer is the number of samples read from the device per
	// capture iteration. Default: 1024.
	FramesPerBuffer int `yaml:"frames_per_buffer"`
}

// MetricsConfig configures the optional diagnostics listener.
type MetricsConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz when non-empty
	// (e.g. "127.0.0.1:9464").
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config with every field set to its default value.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		DataDir:  DefaultDataRoot(),
		Backup:   BackupConfig{Keep: DefaultBackupKeep},
		Speech: SpeechConfig{
			Language:        DefaultLanguage,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
		},
	}
}

// DefaultDataRoot returns the per-user application-data directory
// (%APPDATA%\DoctorApp on Windows, ~/.config/DoctorApp on Linux,
// ~/Library/Application Support/DoctorApp on macOS). Falls back to the
// working directory when no user config dir can be determined.
func DefaultDataRoot() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return appName
	}
	return filepath.Join(base, appName)
}

// StoreDir is the directory holding the database file and its audio/ and
// backup/ subdirectories.
func (c *Config) StoreDir() string { return filepath.Join(c.DataDir, "data") }

// DatabasePath is the SQLite database file.
func (c *Config) DatabasePath() string { return filepath.Join(c.StoreDir(), "database.db") }

// AudioDir is where dictation recordings are written.
func (c *Config) AudioDir() string { return filepath.Join(c.StoreDir(), "audio") }

// ErrorLogPath is the append-only JSON-lines failure log.
func (c *Config) ErrorLogPath() string { return filepath.Join(c.DataDir, "logs", "errors.json") }

// ModelPath resolves the whisper model location.
func (c *Config) ModelPath() string {
	if c.Speech.ModelPath != "" {
		return c.Speech.ModelPath
	}
	return filepath.Join(c.DataDir, "models", DefaultModelFile)
}
