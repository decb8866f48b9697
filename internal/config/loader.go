package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".voxgate"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("VOXGATE_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("VOXGATE_HOME")); h != "" {
		return expandHome(h)
	}
	return os.UserHomeDir()
}

func expandHome(p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		base, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, p[1:]), nil
	}
	return p, nil
}

// Load reads the config file (if present), applies environment overrides and
// fills in defaults. A missing file is not an error: defaults plus env are
// enough to run.
func Load() (*Config, error) {
	cfg := &Config{}

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Errors are intentionally ignored: a bad env var should not take down a
	// run that has a valid file config underneath it.
	_ = envconfig.Process("VOXGATE_PATHS", &cfg.Paths)
	_ = envconfig.Process("VOXGATE_COLLECTOR", &cfg.Collector)
	_ = envconfig.Process("VOXGATE_CONSUMER", &cfg.Consumer)
	_ = envconfig.Process("VOXGATE_AUTH", &cfg.Auth)
	_ = envconfig.Process("VOXGATE_CHANNELS_SIGNAL", &cfg.Channels.Signal)
	_ = envconfig.Process("VOXGATE_CHANNELS_SLACK", &cfg.Channels.Slack)
	_ = envconfig.Process("VOXGATE_TRANSCRIBE", &cfg.Transcribe)
	_ = envconfig.Process("VOXGATE_EXECUTOR", &cfg.Executor)
	_ = envconfig.Process("VOXGATE_MIRROR", &cfg.Mirror)
}

func applyDefaults(cfg *Config) {
	if cfg.Paths.StateDir == "" {
		home, err := resolveHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Paths.StateDir = filepath.Join(home, ConfigDir)
	}
	sd := cfg.Paths.StateDir
	if cfg.Paths.RawLog == "" {
		cfg.Paths.RawLog = filepath.Join(sd, "inbound_raw.jsonl")
	}
	if cfg.Paths.RawOffset == "" {
		cfg.Paths.RawOffset = filepath.Join(sd, "inbound_raw.offset")
	}
	if cfg.Paths.RawWriteLock == "" {
		cfg.Paths.RawWriteLock = filepath.Join(sd, "inbound_raw.write.lock")
	}
	if cfg.Paths.CollectorLock == "" {
		cfg.Paths.CollectorLock = filepath.Join(sd, "collector.lock")
	}
	if cfg.Paths.Database == "" {
		cfg.Paths.Database = filepath.Join(sd, "events.db")
	}
	if cfg.Paths.AuthFailureLog == "" {
		cfg.Paths.AuthFailureLog = filepath.Join(sd, "auth_failures.log")
	}

	if cfg.Collector.PollMS <= 0 {
		cfg.Collector.PollMS = 1500
	}
	if cfg.Collector.MaxAttempts <= 0 {
		cfg.Collector.MaxAttempts = 5
	}
	if cfg.Consumer.Name == "" {
		cfg.Consumer.Name = "voiceauth-main"
	}
	if cfg.Consumer.Limit <= 0 {
		cfg.Consumer.Limit = 100
	}
	if cfg.Consumer.MaxAttempts <= 0 {
		cfg.Consumer.MaxAttempts = 3
	}
	if cfg.Auth.CodeLength <= 0 {
		cfg.Auth.CodeLength = 4
	}
	if cfg.Auth.TTLSeconds <= 0 {
		cfg.Auth.TTLSeconds = 300
	}
	if cfg.Channels.Signal.TimeoutSeconds <= 0 {
		cfg.Channels.Signal.TimeoutSeconds = 15
	}
	if cfg.Channels.Slack.TimeoutSeconds <= 0 {
		cfg.Channels.Slack.TimeoutSeconds = 15
	}
	if cfg.Transcribe.APIBase == "" {
		cfg.Transcribe.APIBase = "https://api.elevenlabs.io"
	}
	if cfg.Transcribe.ModelID == "" {
		cfg.Transcribe.ModelID = "scribe_v1"
	}
	if cfg.Transcribe.MinConfidence <= 0 {
		cfg.Transcribe.MinConfidence = 0.4
	}
	if cfg.Transcribe.TimeoutSeconds <= 0 {
		cfg.Transcribe.TimeoutSeconds = 60
	}
	if cfg.Executor.TimeoutSeconds <= 0 {
		cfg.Executor.TimeoutSeconds = 120
	}
	if cfg.Mirror.Topic == "" {
		cfg.Mirror.Topic = "voxgate.events"
	}
}
