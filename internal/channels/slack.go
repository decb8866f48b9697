package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"

	"github.com/voxgate/voxgate/internal/config"
)

// SlackSender delivers authorization codes as Slack messages. Slack is the
// out-of-band channel: codes never travel on the channel the request came in
// on.
type SlackSender struct {
	api       *slack.Client
	channelID string
	timeout   time.Duration
}

// NewSlackSender creates a SlackSender, or nil when the channel is disabled.
func NewSlackSender(cfg config.SlackConfig) *SlackSender {
	if !cfg.Enabled || cfg.BotToken == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SlackSender{
		api:       slack.New(cfg.BotToken),
		channelID: cfg.ChannelID,
		timeout:   timeout,
	}
}

// SendCode posts the code message. The recipient overrides the configured
// channel when set (per-sender DM routing).
func (s *SlackSender) SendCode(ctx context.Context, recipient, text string) error {
	channel := recipient
	if channel == "" {
		channel = s.channelID
	}
	if channel == "" {
		return fmt.Errorf("slack channel not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, _, err := s.api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack code delivery: %w", err)
	}
	return nil
}
