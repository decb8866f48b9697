package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxgate/voxgate/internal/config"
)

const maxSummaryLen = 3000

// Gateway executes prompts against an HTTP agent gateway.
type Gateway struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewGateway creates a Gateway executor from config.
func NewGateway(cfg config.ExecutorConfig) *Gateway {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Gateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Execute posts the prompt and extracts the best textual answer from the
// gateway's response payload. Payload shape varies by gateway runtime, so
// extraction scans known fields before walking the whole document.
func (g *Gateway) Execute(ctx context.Context, prompt string) (string, error) {
	if g.baseURL == "" {
		return "", fmt.Errorf("executor gateway url not configured")
	}
	body, err := json.Marshal(map[string]string{"message": prompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/agent", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("executor request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("executor: status %d", resp.StatusCode)
	}

	var parsed any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "Execution completed, but assistant output could not be parsed.", nil
	}
	text := BestText(parsed)
	if text == "" {
		return "Execution completed, but no assistant text was returned.", nil
	}
	if len(text) > maxSummaryLen {
		text = text[:maxSummaryLen]
	}
	return text, nil
}

// canonical answer fields, in preference order
var preferredKeys = []string{"final", "reply", "text", "message"}

// BestText extracts the most useful assistant text from an arbitrarily
// nested response document.
func BestText(payload any) string {
	if obj, ok := payload.(map[string]any); ok {
		for _, k := range preferredKeys {
			if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}

	candidates := textCandidates(payload)
	for _, c := range candidates {
		lower := strings.ToLower(c)
		if lower != "execution completed." && lower != "execution completed" {
			return c
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

var candidateKeys = []string{"final", "reply", "text", "message", "content", "output"}

// textCandidates walks the document collecting non-empty strings under
// answer-ish keys, preserving order and dropping duplicates.
func textCandidates(v any) []string {
	var out []string
	seen := map[string]struct{}{}

	var walk func(v any)
	walk = func(v any) {
		switch node := v.(type) {
		case map[string]any:
			for _, k := range candidateKeys {
				if s, ok := node[k].(string); ok {
					s = strings.TrimSpace(s)
					if s == "" {
						continue
					}
					if _, dup := seen[s]; dup {
						continue
					}
					seen[s] = struct{}{}
					out = append(out, s)
				}
			}
			for _, child := range node {
				walk(child)
			}
		case []any:
			for _, item := range node {
				walk(item)
			}
		}
	}
	walk(v)
	return out
}
