// Package channels holds the two delivery channels the authorization flow
// depends on: the primary channel carrying user-visible responses and code
// submissions, and the secondary out-of-band channel carrying codes.
package channels

import (
	"context"
	"errors"
)

// Responder sends a text reply to a recipient on the primary channel.
// Every user-initiated action gets a response through this; silence is
// never an acceptable failure mode.
type Responder interface {
	Respond(ctx context.Context, recipient, text string) error
}

// CodeSender delivers an authorization code over the secondary channel.
type CodeSender interface {
	SendCode(ctx context.Context, recipient, text string) error
}

// Unconfigured is a CodeSender that fails loudly. Used when no secondary
// channel is configured, so a challenge never opens with no way to deliver
// its code.
type Unconfigured struct{}

func (Unconfigured) SendCode(ctx context.Context, recipient, text string) error {
	return errors.New("secondary code channel is not configured")
}
