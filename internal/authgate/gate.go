// Package authgate implements the two-channel authorization gate: a voice
// transcript creates a pending authorization and a numeric code delivered
// over a secondary channel; the matching code submitted on the primary
// channel within the TTL authorizes execution exactly once.
package authgate

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"time"
)

// Rejection reasons.
const (
	RejectNoPending       = "no_pending"
	RejectExpired         = "expired"
	RejectMismatch        = "mismatch"
	RejectAlreadyConsumed = "already_consumed"
)

// RejectedError is returned by Validate for every non-authorized outcome.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "authorization rejected: " + e.Reason
}

// Reason extracts the rejection reason from an error, empty if the error is
// not a rejection.
func Reason(err error) string {
	if r, ok := err.(*RejectedError); ok {
		return r.Reason
	}
	return ""
}

// Pending is the per-sender authorization state.
type Pending struct {
	SenderID        string `json:"sender_id"`
	Transcript      string `json:"transcript"`
	Code            string `json:"code"`
	SourceMessageID string `json:"source_message_id,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	ExpiresAt       int64  `json:"expires_at"`
	Consumed        bool   `json:"consumed"`
}

// Gate holds pending authorizations in the shared store database.
type Gate struct {
	db      *sql.DB
	codeLen int
	ttl     time.Duration
	audit   *AuditLog // nil disables the failure log
	now     func() time.Time
}

// New creates a Gate over the shared database.
func New(db *sql.DB, codeLen int, ttl time.Duration, audit *AuditLog) *Gate {
	if codeLen <= 0 {
		codeLen = 4
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Gate{db: db, codeLen: codeLen, ttl: ttl, audit: audit, now: time.Now}
}

// CodeLength returns the configured code length.
func (g *Gate) CodeLength() int { return g.codeLen }

// Challenge creates a new pending authorization for the sender, superseding
// any prior pending one, and returns the generated code. Delivery of the
// code over the secondary channel is the caller's step: the pending state
// must exist before the code leaves the process.
func (g *Gate) Challenge(ctx context.Context, sender, transcript, sourceMessageID string) (string, error) {
	code, err := generateCode(g.codeLen)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	now := g.now().Unix()
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO pending_auth (sender_id, transcript, code, source_message_id, created_at, expires_at, consumed)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(sender_id) DO UPDATE SET
			transcript = excluded.transcript,
			code = excluded.code,
			source_message_id = excluded.source_message_id,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			consumed = 0`,
		sender, transcript, code, sourceMessageID, now, now+int64(g.ttl.Seconds()))
	if err != nil {
		return "", fmt.Errorf("store pending authorization: %w", err)
	}
	return code, nil
}

// Validate checks a submitted code against the sender's pending
// authorization. On success the pending state is consumed atomically with
// returning the transcript: the consumption is a single conditional UPDATE,
// so two near-simultaneous correct submissions resolve to exactly one
// Authorized outcome. All failures return *RejectedError and are appended
// to the audit log.
func (g *Gate) Validate(ctx context.Context, sender, submitted, messageID string) (string, error) {
	p, err := g.PendingFor(ctx, sender)
	if err != nil {
		return "", err
	}
	now := g.now().Unix()

	reason := ""
	switch {
	case p == nil:
		reason = RejectNoPending
	case p.Consumed:
		reason = RejectAlreadyConsumed
	case now > p.ExpiresAt:
		reason = RejectExpired
	case p.Code != submitted: // exact match only
		reason = RejectMismatch
	}
	if reason != "" {
		return "", g.reject(sender, submitted, messageID, reason)
	}

	// One-shot consumption. The WHERE clause re-checks everything the
	// classification saw, so a concurrent winner leaves zero rows here.
	res, err := g.db.ExecContext(ctx, `
		UPDATE pending_auth SET consumed = 1
		WHERE sender_id = ? AND code = ? AND consumed = 0 AND expires_at >= ?`,
		sender, submitted, now)
	if err != nil {
		return "", fmt.Errorf("consume pending authorization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", g.reject(sender, submitted, messageID, RejectAlreadyConsumed)
	}
	return p.Transcript, nil
}

func (g *Gate) reject(sender, code, messageID, reason string) error {
	if g.audit != nil {
		g.audit.Record(AuditEntry{
			TS:        g.now().Unix(),
			SenderID:  sender,
			Reason:    reason,
			Code:      code,
			MessageID: messageID,
		})
	}
	return &RejectedError{Reason: reason}
}

// PendingFor returns the sender's pending authorization, nil when none.
func (g *Gate) PendingFor(ctx context.Context, sender string) (*Pending, error) {
	var p Pending
	var srcMsgID sql.NullString
	var consumed int
	err := g.db.QueryRowContext(ctx, `
		SELECT sender_id, transcript, code, source_message_id, created_at, expires_at, consumed
		FROM pending_auth WHERE sender_id = ?`, sender,
	).Scan(&p.SenderID, &p.Transcript, &p.Code, &srcMsgID, &p.CreatedAt, &p.ExpiresAt, &consumed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending authorization: %w", err)
	}
	p.SourceMessageID = srcMsgID.String
	p.Consumed = consumed != 0
	return &p, nil
}

// HasLivePending reports whether the sender has a non-expired, non-consumed
// pending authorization.
func (g *Gate) HasLivePending(ctx context.Context, sender string) (bool, error) {
	p, err := g.PendingFor(ctx, sender)
	if err != nil {
		return false, err
	}
	return p != nil && !p.Consumed && g.now().Unix() <= p.ExpiresAt, nil
}

// GC removes consumed and long-expired rows. Opportunistic: correctness
// never depends on it running.
func (g *Gate) GC(ctx context.Context) (int64, error) {
	res, err := g.db.ExecContext(ctx,
		`DELETE FROM pending_auth WHERE consumed = 1 OR expires_at < ?`,
		g.now().Add(-time.Hour).Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// generateCode returns a uniformly distributed numeric code of n digits
// (leading zeros allowed).
func generateCode(n int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < n; i++ {
		max.Mul(max, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
