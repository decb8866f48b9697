// Package config provides configuration types and loading for voxgate.
package config

import "time"

// Config is the root configuration struct.
type Config struct {
	Paths      PathsConfig      `json:"paths"`
	Collector  CollectorConfig  `json:"collector"`
	Consumer   ConsumerConfig   `json:"consumer"`
	Auth       AuthConfig       `json:"auth"`
	Channels   ChannelsConfig   `json:"channels"`
	Transcribe TranscribeConfig `json:"transcribe"`
	Executor   ExecutorConfig   `json:"executor"`
	Mirror     MirrorConfig     `json:"mirror"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations for durable state
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings. Any empty field is
// derived from StateDir when the config is loaded.
type PathsConfig struct {
	StateDir       string `json:"stateDir" envconfig:"STATE_DIR"`
	RawLog         string `json:"rawLog" envconfig:"RAW_LOG"`
	RawOffset      string `json:"rawOffset" envconfig:"RAW_OFFSET"`
	RawWriteLock   string `json:"rawWriteLock" envconfig:"RAW_WRITE_LOCK"`
	CollectorLock  string `json:"collectorLock" envconfig:"COLLECTOR_LOCK"`
	Database       string `json:"database" envconfig:"DATABASE"`
	AuthFailureLog string `json:"authFailureLog" envconfig:"AUTH_FAILURE_LOG"`
}

// ---------------------------------------------------------------------------
// Collector – inbound ingestion
// ---------------------------------------------------------------------------

// CollectorConfig controls the inbound collector loop.
type CollectorConfig struct {
	Account     string `json:"account" envconfig:"ACCOUNT"`
	PollMS      int    `json:"pollMs" envconfig:"POLL_MS"`
	MaxAttempts int    `json:"maxAttempts" envconfig:"MAX_ATTEMPTS"`
}

// PollInterval returns the follow-mode poll interval with a floor of 200ms.
func (c CollectorConfig) PollInterval() time.Duration {
	ms := c.PollMS
	if ms < 200 {
		ms = 200
	}
	return time.Duration(ms) * time.Millisecond
}

// ConsumerConfig controls cursor consumer runs.
type ConsumerConfig struct {
	Name        string `json:"name" envconfig:"NAME"`
	Limit       int    `json:"limit" envconfig:"LIMIT"`
	MaxAttempts int    `json:"maxAttempts" envconfig:"MAX_ATTEMPTS"`
}

// AuthConfig controls the two-channel authorization gate.
type AuthConfig struct {
	CodeLength       int    `json:"codeLength" envconfig:"CODE_LENGTH"`
	TTLSeconds       int    `json:"ttlSeconds" envconfig:"TTL_SECONDS"`
	AuthorizedSender string `json:"authorizedSender" envconfig:"AUTHORIZED_SENDER"`
}

// TTL returns the pending-authorization lifetime.
func (c AuthConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// Channels – primary (responses) and secondary (code delivery)
// ---------------------------------------------------------------------------

// ChannelsConfig contains both channel configurations.
type ChannelsConfig struct {
	Signal SignalConfig `json:"signal"`
	Slack  SlackConfig  `json:"slack"`
}

// SignalConfig configures the primary response channel bridge.
type SignalConfig struct {
	BridgeURL      string `json:"bridgeUrl" envconfig:"BRIDGE_URL"`
	TimeoutSeconds int    `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
}

// SlackConfig configures the secondary code-delivery channel.
type SlackConfig struct {
	Enabled        bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken       string `json:"botToken" envconfig:"BOT_TOKEN"`
	ChannelID      string `json:"channelId" envconfig:"CHANNEL_ID"`
	TimeoutSeconds int    `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
}

// TranscribeConfig configures the speech-to-text collaborator.
type TranscribeConfig struct {
	APIKey         string  `json:"apiKey" envconfig:"API_KEY"`
	APIBase        string  `json:"apiBase" envconfig:"API_BASE"`
	ModelID        string  `json:"modelId" envconfig:"MODEL_ID"`
	Language       string  `json:"language" envconfig:"LANGUAGE"`
	MinConfidence  float64 `json:"minConfidence" envconfig:"MIN_CONFIDENCE"`
	TimeoutSeconds int     `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
}

// ExecutorConfig configures the downstream command executor gateway.
type ExecutorConfig struct {
	BaseURL        string `json:"baseUrl" envconfig:"BASE_URL"`
	Token          string `json:"token" envconfig:"TOKEN"`
	TimeoutSeconds int    `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
}

// MirrorConfig configures the optional Kafka event mirror.
type MirrorConfig struct {
	Enabled bool     `json:"enabled" envconfig:"ENABLED"`
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
}
