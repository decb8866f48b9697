// Package voiceauth is the business consumer behind the cursor engine: a
// voice message from the authorized sender opens an authorization challenge,
// and the matching code typed back on the primary channel triggers exactly
// one execution of the transcribed request.
package voiceauth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/voxgate/voxgate/internal/authgate"
	"github.com/voxgate/voxgate/internal/channels"
	"github.com/voxgate/voxgate/internal/event"
	"github.com/voxgate/voxgate/internal/executor"
	"github.com/voxgate/voxgate/internal/transcribe"
)

var voiceExtensions = map[string]bool{
	".m4a": true, ".opus": true, ".ogg": true, ".oga": true,
	".aac": true, ".mp3": true, ".wav": true, ".webm": true,
}

const (
	maxTranscriptEcho = 500
	maxReplyLen       = 3500
)

// Options configures the handler.
type Options struct {
	// AuthorizedSender is the only sender whose events are acted on.
	AuthorizedSender string
	// MinConfidence below which a transcript is treated as ambiguous.
	MinConfidence float64
}

// Handler implements consumer.Handler for the voice authorization flow.
type Handler struct {
	gate        *authgate.Gate
	transcriber transcribe.Transcriber
	exec        executor.Executor
	responder   channels.Responder
	codeSender  channels.CodeSender
	opts        Options
	codeRe      *regexp.Regexp
}

// New creates a Handler. The code pattern is derived from the gate's
// configured code length; only an exact all-digits message counts as a
// code submission.
func New(gate *authgate.Gate, tr transcribe.Transcriber, ex executor.Executor,
	responder channels.Responder, codeSender channels.CodeSender, opts Options) *Handler {
	return &Handler{
		gate:        gate,
		transcriber: tr,
		exec:        ex,
		responder:   responder,
		codeSender:  codeSender,
		opts:        opts,
		codeRe:      regexp.MustCompile(fmt.Sprintf(`^\s*([0-9]{%d})\s*$`, gate.CodeLength())),
	}
}

// Handle processes one event. Events outside the flow (other senders,
// edits, deletes, unrelated text) are accepted silently so the checkpoint
// can advance past them.
func (h *Handler) Handle(ctx context.Context, ev *event.Event) error {
	if ev.Sender.ID == "" || ev.Sender.ID != h.opts.AuthorizedSender {
		return nil
	}
	if ev.Message.IsEdit || ev.Message.IsDelete {
		return nil
	}

	if att := findVoiceAttachment(ev.Attachments); att != nil {
		return h.handleVoice(ctx, ev, att)
	}
	if m := h.codeRe.FindStringSubmatch(ev.Message.Text); m != nil {
		return h.handleCode(ctx, ev, m[1])
	}
	return nil
}

func (h *Handler) handleVoice(ctx context.Context, ev *event.Event, att *event.Attachment) error {
	sender := ev.Sender.ID

	result, err := h.transcriber.Transcribe(ctx, att.Path)
	if err != nil {
		return fmt.Errorf("transcribe %s: %w", att.Path, err)
	}
	text := strings.TrimSpace(result.Text)
	if text == "" || result.Confidence < h.opts.MinConfidence {
		// Ambiguous input still gets an explicit response.
		return h.responder.Respond(ctx, sender,
			"I couldn't make out that voice message. Please try again with a clearer recording.")
	}

	code, err := h.gate.Challenge(ctx, sender, text, ev.SourceMessageID)
	if err != nil {
		return fmt.Errorf("open challenge: %w", err)
	}
	codeMsg := fmt.Sprintf("Auth code: %s (valid %s for your voice request)", code, "5 minutes")
	if err := h.codeSender.SendCode(ctx, "", codeMsg); err != nil {
		// Without the code the pending state is unusable; report and let the
		// engine redeliver, which supersedes with a fresh code.
		_ = h.responder.Respond(ctx, sender,
			"Voice request received, but the authorization code could not be delivered. It will be retried.")
		return fmt.Errorf("deliver code: %w", err)
	}

	prompt := fmt.Sprintf(
		"Voice request transcribed. Enter the %d-digit code sent over your secondary channel to authorize execution.",
		h.gate.CodeLength())
	if err := h.responder.Respond(ctx, sender, prompt); err != nil {
		// The code is already out; retrying from scratch would invalidate it.
		slog.Warn("Challenge prompt delivery failed", "sender", sender, "error", err)
	}
	slog.Info("Authorization challenge opened", "sender", sender, "source_message_id", ev.SourceMessageID)
	return nil
}

func (h *Handler) handleCode(ctx context.Context, ev *event.Event, code string) error {
	sender := ev.Sender.ID

	transcript, err := h.gate.Validate(ctx, sender, code, ev.SourceMessageID)
	if err != nil {
		if reason := authgate.Reason(err); reason != "" {
			// Rejections are terminal for this event: respond and move on.
			if respErr := h.responder.Respond(ctx, sender, "Authorization failed: "+rejectionText(reason)); respErr != nil {
				slog.Warn("Rejection reply delivery failed", "sender", sender, "error", respErr)
			}
			return nil
		}
		return err
	}

	// From here on this event must never be retried: the pending state is
	// consumed and execution happens at most once.
	summary, execErr := h.exec.Execute(ctx, "Authorized voice request:\n"+transcript)
	if execErr != nil {
		slog.Error("Authorized execution failed", "sender", sender, "error", execErr)
		summary = "Execution was triggered, but it failed: " + execErr.Error()
	}

	echo := transcript
	if len(echo) > maxTranscriptEcho {
		echo = echo[:maxTranscriptEcho]
	}
	reply := fmt.Sprintf("Request authorized and executed.\n\nRequest:\n%s\n\nOutput:\n%s", echo, summary)
	if len(reply) > maxReplyLen {
		reply = reply[:maxReplyLen]
	}
	if err := h.responder.Respond(ctx, sender, reply); err != nil {
		slog.Warn("Execution summary delivery failed", "sender", sender, "error", err)
	}
	slog.Info("Authorized request executed", "sender", sender, "source_message_id", ev.SourceMessageID)
	return nil
}

// findVoiceAttachment returns the first attachment that looks like a voice
// note and points at a readable local file.
func findVoiceAttachment(atts []event.Attachment) *event.Attachment {
	for i := range atts {
		att := &atts[i]
		if att.Path == "" {
			continue
		}
		if !isVoice(att) {
			continue
		}
		if _, err := os.Stat(att.Path); err != nil {
			continue
		}
		return att
	}
	return nil
}

func isVoice(att *event.Attachment) bool {
	if strings.HasPrefix(strings.ToLower(att.MimeType), "audio/") {
		return true
	}
	name := att.Filename
	if name == "" {
		name = att.Path
	}
	return voiceExtensions[strings.ToLower(filepath.Ext(name))]
}

func rejectionText(reason string) string {
	switch reason {
	case authgate.RejectNoPending:
		return "no pending voice request awaits a code."
	case authgate.RejectExpired:
		return "the code expired. Send the voice request again."
	case authgate.RejectMismatch:
		return "the code does not match."
	case authgate.RejectAlreadyConsumed:
		return "this code was already used."
	default:
		return reason
	}
}
