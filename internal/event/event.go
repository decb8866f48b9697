// Package event defines the canonical normalized event schema shared by the
// collector and all consumers.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Chat types.
const (
	ChatDirect = "direct"
	ChatGroup  = "group"
)

// Chat identifies the conversation an event belongs to.
type Chat struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Sender identifies who produced the message.
type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Message carries the textual body plus edit/delete markers.
type Message struct {
	Text     string `json:"text"`
	IsEdit   bool   `json:"is_edit"`
	IsDelete bool   `json:"is_delete"`
}

// Attachment describes one media item referenced by an event.
type Attachment struct {
	ID        string `json:"id,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Path      string `json:"path,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
}

// Event is the canonical normalized record. Immutable once stored.
// Seq is the store-assigned insertion sequence; zero until persisted.
type Event struct {
	Seq             int64           `json:"-"`
	EventID         string          `json:"event_id"`
	Source          string          `json:"source"`
	Account         string          `json:"account,omitempty"`
	ReceivedAt      int64           `json:"received_at"`
	SourceMessageID string          `json:"source_message_id,omitempty"`
	Chat            Chat            `json:"chat"`
	Sender          Sender          `json:"sender"`
	Message         Message         `json:"message"`
	Attachments     []Attachment    `json:"attachments"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// Normalize converts one raw upstream payload into a canonical Event.
// Unrecognized fields are not dropped: the verbatim payload is retained in
// Raw so later consumers (and replay tooling) can reparse it.
func Normalize(raw []byte, account string) (*Event, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("parse raw payload: %w", err)
	}
	return normalizeObject(obj, raw, account), nil
}

func normalizeObject(obj map[string]any, raw []byte, account string) *Event {
	now := time.Now().Unix()

	msgObj := asObject(obj["message"])
	senderObj := asObject(obj["sender"])
	chatObj := asObject(obj["chat"])

	ev := &Event{
		Source:          "signal",
		Account:         account,
		ReceivedAt:      firstInt(obj["received_at"], obj["timestamp"], now),
		SourceMessageID: firstString(obj["source_message_id"], obj["id"]),
		Chat: Chat{
			Type: firstString(chatObj["type"], obj["chat_type"], ChatDirect),
			ID:   firstString(chatObj["id"], obj["chat_id"]),
			Name: firstString(chatObj["name"], obj["chat_name"]),
		},
		Sender: Sender{
			ID:   firstString(senderObj["id"], obj["sender_id"], obj["source"]),
			Name: firstString(senderObj["name"], obj["sender_name"]),
		},
		Message: Message{
			Text:     firstString(msgObj["text"], obj["text"]),
			IsEdit:   asBool(msgObj["is_edit"]) || asBool(obj["is_edit"]),
			IsDelete: asBool(msgObj["is_delete"]) || asBool(obj["is_delete"]),
		},
		Attachments: normalizeAttachments(obj["attachments"]),
		Raw:         json.RawMessage(append([]byte(nil), raw...)),
	}
	if ev.Account == "" {
		ev.Account = asString(obj["account"])
	}
	ev.EventID = StableID(ev, raw)
	return ev
}

// StableID derives a deterministic event identifier from stable upstream
// fields so the same raw item always dedups to the same row, even if the raw
// source is reprocessed after a collector restart. When no stable field is
// present it falls back to hashing the verbatim payload.
func StableID(ev *Event, raw []byte) string {
	seed := strings.Join([]string{
		ev.SourceMessageID,
		strconv.FormatInt(ev.ReceivedAt, 10),
		ev.Sender.ID,
		ev.Message.Text,
	}, "|")
	if ev.SourceMessageID == "" && ev.Sender.ID == "" && ev.Message.Text == "" {
		sum := sha256.Sum256(raw)
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

func normalizeAttachments(v any) []Attachment {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Attachment, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Attachment{
			ID:        asString(obj["id"]),
			MimeType:  firstString(obj["mime_type"], obj["content_type"]),
			Filename:  asString(obj["filename"]),
			Path:      asString(obj["path"]),
			SizeBytes: asInt(obj["size_bytes"]),
			Checksum:  asString(obj["checksum"]),
		})
	}
	return out
}

func asObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatInt(int64(s), 10)
	default:
		return ""
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i
	default:
		return 0
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func firstString(vals ...any) string {
	for _, v := range vals {
		if s := asString(v); s != "" {
			return s
		}
	}
	return ""
}

func firstInt(vals ...any) int64 {
	for _, v := range vals {
		if n := asInt(v); n != 0 {
			return n
		}
	}
	return 0
}
