package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxgate/voxgate/internal/config"
)

// ElevenLabs calls the ElevenLabs speech-to-text API.
type ElevenLabs struct {
	apiKey   string
	apiBase  string
	modelID  string
	language string
	client   *http.Client
}

// NewElevenLabs creates the client from config.
func NewElevenLabs(cfg config.TranscribeConfig) *ElevenLabs {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ElevenLabs{
		apiKey:   cfg.APIKey,
		apiBase:  strings.TrimRight(cfg.APIBase, "/"),
		modelID:  cfg.ModelID,
		language: cfg.Language,
		client:   &http.Client{Timeout: timeout},
	}
}

type elevenLabsResponse struct {
	Text                string  `json:"text"`
	Transcript          string  `json:"transcript"`
	LanguageProbability float64 `json:"language_probability"`
	Words               []struct {
		Text string `json:"text"`
	} `json:"words"`
	Error any `json:"error"`
}

// Transcribe uploads the audio file and returns the transcript.
func (e *ElevenLabs) Transcribe(ctx context.Context, path string) (Result, error) {
	if e.apiKey == "" {
		return Result{}, fmt.Errorf("transcription api key not configured")
	}

	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model_id", e.modelID); err != nil {
		return Result{}, err
	}
	if e.language != "" {
		if err := mw.WriteField("language_code", e.language); err != nil {
			return Result{}, err
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return Result{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return Result{}, fmt.Errorf("read audio file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiBase+"/v1/speech-to-text", &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("speech-to-text request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("speech-to-text: status %d: %s", resp.StatusCode, truncate(string(payload), 512))
	}

	var parsed elevenLabsResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Result{}, fmt.Errorf("speech-to-text: parse response: %w", err)
	}
	if parsed.Error != nil {
		return Result{}, fmt.Errorf("speech-to-text: %v", parsed.Error)
	}

	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		text = strings.TrimSpace(parsed.Transcript)
	}
	if text == "" && len(parsed.Words) > 0 {
		parts := make([]string, 0, len(parsed.Words))
		for _, w := range parsed.Words {
			if w.Text != "" {
				parts = append(parts, w.Text)
			}
		}
		text = strings.TrimSpace(strings.Join(parts, " "))
	}

	confidence := parsed.LanguageProbability
	if confidence == 0 && text != "" {
		confidence = 1
	}
	return Result{Text: text, Confidence: confidence}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
