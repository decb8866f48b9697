package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxgate/voxgate/internal/config"
)

// SignalBridge sends primary-channel replies through an HTTP message bridge.
type SignalBridge struct {
	bridgeURL string
	client    *http.Client
}

// NewSignalBridge creates a SignalBridge from config.
func NewSignalBridge(cfg config.SignalConfig) *SignalBridge {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SignalBridge{
		bridgeURL: cfg.BridgeURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// Respond posts one text message to the bridge.
func (b *SignalBridge) Respond(ctx context.Context, recipient, text string) error {
	if b.bridgeURL == "" {
		return fmt.Errorf("signal bridge url not configured")
	}
	body, err := json.Marshal(map[string]string{
		"recipient": recipient,
		"message":   text,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.bridgeURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("signal bridge send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("signal bridge send: status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
