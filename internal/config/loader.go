package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted by [Load] and [LoadOrDefault]. They take
// precedence over the file.
const (
	EnvDataDir  = "DOCTORAPP_DATA_DIR"
	EnvLogLevel = "DOCTORAPP_LOG_LEVEL"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Keys missing from the file keep their [Default] values, relative
// paths are taken relative to the file's directory, and a leading "~/" is
// expanded to the user's home.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like [Load] but falls back to [Default] when the
// file does not exist. Environment overrides apply in both cases.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	slog.Debug("config file not found, using defaults", "path", path)
	cfg = Default()
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Paths are used as written and the environment is
// not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays the document in r on [Default]. An empty document is not
// an error.
func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) resolvePaths(base string) {
	c.DataDir = resolvePath(base, c.DataDir)
	c.Speech.ModelPath = resolvePath(base, c.Speech.ModelPath)
}

func resolvePath(base, p string) string {
	if p == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func applyEnv(c *Config) {
	if v, ok := os.LookupEnv(EnvDataDir); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.LogLevel = LogLevel(strings.ToLower(v))
	}
}

// Validate reports every problem with cfg as one joined error. Problems that
// only degrade dictation are logged instead.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		add("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel)
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		add("data_dir must not be empty")
	}
	if cfg.Backup.Keep <= 0 {
		add("backup.keep %d must be positive", cfg.Backup.Keep)
	}

	sp := cfg.Speech
	if sp.SampleRate != DefaultSampleRate {
		add("speech.sample_rate %d is unsupported; the recogniser requires %d", sp.SampleRate, DefaultSampleRate)
	}
	if sp.FramesPerBuffer <= 0 {
		add("speech.frames_per_buffer %d must be positive", sp.FramesPerBuffer)
	}
	if sp.Language == "" {
		slog.Warn("speech.language is empty; the recogniser will auto-detect the language")
	}
	if sp.ModelPath != "" && filepath.Ext(sp.ModelPath) != ".bin" {
		slog.Warn("speech.model_path does not look like a ggml model", "path", sp.ModelPath)
	}

	return errors.Join(errs...)
}
