package authgate

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// AuditEntry is one gate rejection, recorded append-only for later review.
type AuditEntry struct {
	TS        int64  `json:"ts"`
	SenderID  string `json:"sender_id"`
	Reason    string `json:"reason"`
	Code      string `json:"code,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// AuditLog appends rejection entries to a JSONL file.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

// NewAuditLog creates an AuditLog writing to path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Record appends one entry. Failures are logged, never propagated: an audit
// write must not turn a rejection into a different error.
func (a *AuditLog) Record(entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		slog.Warn("Auth audit log dir create failed", "error", err)
		return
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		slog.Warn("Auth audit log open failed", "error", err)
		return
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("Auth audit entry marshal failed", "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Warn("Auth audit log write failed", "error", err)
	}
}
