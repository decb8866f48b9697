// Package transcribe defines the speech-to-text collaborator interface and
// the ElevenLabs implementation.
package transcribe

import "context"

// Result is one transcription outcome.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Transcriber converts an audio attachment into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (Result, error)
}
