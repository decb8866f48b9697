package event

import (
	"encoding/json"
	"testing"
)

func TestNormalizeNestedShape(t *testing.T) {
	raw := []byte(`{
		"id": "msg-001",
		"timestamp": 1712000000,
		"chat": {"type": "group", "id": "grp-9", "name": "ops"},
		"sender": {"id": "+4917612345678", "name": "Alice"},
		"message": {"text": "hello", "is_edit": true},
		"attachments": [
			{"id": "att-1", "content_type": "audio/ogg", "path": "/tmp/a.ogg", "size_bytes": 2048}
		]
	}`)
	ev, err := Normalize(raw, "main")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.SourceMessageID != "msg-001" {
		t.Errorf("source message id = %q", ev.SourceMessageID)
	}
	if ev.ReceivedAt != 1712000000 {
		t.Errorf("received at = %d", ev.ReceivedAt)
	}
	if ev.Account != "main" {
		t.Errorf("account = %q", ev.Account)
	}
	if ev.Chat.Type != ChatGroup || ev.Chat.ID != "grp-9" || ev.Chat.Name != "ops" {
		t.Errorf("chat = %+v", ev.Chat)
	}
	if ev.Sender.ID != "+4917612345678" || ev.Sender.Name != "Alice" {
		t.Errorf("sender = %+v", ev.Sender)
	}
	if ev.Message.Text != "hello" || !ev.Message.IsEdit || ev.Message.IsDelete {
		t.Errorf("message = %+v", ev.Message)
	}
	if len(ev.Attachments) != 1 {
		t.Fatalf("attachments = %d", len(ev.Attachments))
	}
	att := ev.Attachments[0]
	if att.MimeType != "audio/ogg" || att.Path != "/tmp/a.ogg" || att.SizeBytes != 2048 {
		t.Errorf("attachment = %+v", att)
	}
	if ev.EventID == "" {
		t.Error("event id not set")
	}
}

func TestNormalizeFlatShape(t *testing.T) {
	raw := []byte(`{
		"source_message_id": "m7",
		"received_at": 1712000500,
		"sender_id": "+1555",
		"chat_id": "+1555",
		"text": "flat body"
	}`)
	ev, err := Normalize(raw, "")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.Chat.Type != ChatDirect {
		t.Errorf("chat type = %q, want direct default", ev.Chat.Type)
	}
	if ev.Sender.ID != "+1555" || ev.Message.Text != "flat body" {
		t.Errorf("flat fields not mapped: %+v", ev)
	}
}

func TestNormalizeRejectsNonObject(t *testing.T) {
	for _, raw := range []string{`not json`, `[1,2]`, `"str"`} {
		if _, err := Normalize([]byte(raw), ""); err == nil {
			t.Errorf("Normalize(%q): expected error", raw)
		}
	}
}

func TestNormalizeRetainsRaw(t *testing.T) {
	raw := []byte(`{"id":"x","text":"t","future_field":{"deep":true}}`)
	ev, err := Normalize(raw, "")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(ev.Raw, &back); err != nil {
		t.Fatalf("raw not reparseable: %v", err)
	}
	if _, ok := back["future_field"]; !ok {
		t.Error("unknown field dropped from raw copy")
	}
}

func TestStableIDDeterministic(t *testing.T) {
	raw := []byte(`{"id":"m1","received_at":100,"sender_id":"s1","text":"hi"}`)
	a, err := Normalize(raw, "acct")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Normalize(raw, "acct")
	if err != nil {
		t.Fatal(err)
	}
	if a.EventID != b.EventID {
		t.Errorf("same payload produced different ids: %s vs %s", a.EventID, b.EventID)
	}

	// Whitespace-only differences in the payload do not change the id when
	// the stable fields are present.
	c, err := Normalize([]byte(`{ "id":"m1", "received_at":100, "sender_id":"s1", "text":"hi" }`), "acct")
	if err != nil {
		t.Fatal(err)
	}
	if a.EventID != c.EventID {
		t.Error("reformatted payload changed the stable id")
	}
}

func TestStableIDDistinct(t *testing.T) {
	a, _ := Normalize([]byte(`{"id":"m1","received_at":100,"sender_id":"s1","text":"hi"}`), "")
	b, _ := Normalize([]byte(`{"id":"m2","received_at":100,"sender_id":"s1","text":"hi"}`), "")
	if a.EventID == b.EventID {
		t.Error("different message ids collided")
	}
}

func TestStableIDFallbackHashesPayload(t *testing.T) {
	a, err := Normalize([]byte(`{"opaque":1}`), "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Normalize([]byte(`{"opaque":2}`), "")
	if err != nil {
		t.Fatal(err)
	}
	if a.EventID == b.EventID {
		t.Error("payload-hash fallback collided for distinct payloads")
	}
	a2, _ := Normalize([]byte(`{"opaque":1}`), "")
	if a.EventID != a2.EventID {
		t.Error("payload-hash fallback not deterministic")
	}
}
