package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/voxgate/voxgate/internal/event"
)

func openTestStore(t *testing.T) *EventStore {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testEvent(id, text string) *event.Event {
	return &event.Event{
		EventID:    id,
		Source:     "signal",
		ReceivedAt: 1712000000,
		Chat:       event.Chat{Type: event.ChatDirect, ID: "c1"},
		Sender:     event.Sender{ID: "s1"},
		Message:    event.Message{Text: text},
		Raw:        json.RawMessage(`{"text":"` + text + `"}`),
	}
}

func TestInsertEventDedup(t *testing.T) {
	st := openTestStore(t)

	ok, err := st.InsertEvent(testEvent("ev-1", "first"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !ok {
		t.Fatal("first insert reported duplicate")
	}

	ok, err = st.InsertEvent(testEvent("ev-1", "first again"))
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if ok {
		t.Error("second insert with same event_id should report duplicate")
	}

	n, err := st.CountEvents()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("event count = %d, want 1", n)
	}
}

func TestInsertEventConcurrentSameID(t *testing.T) {
	st := openTestStore(t)

	const workers = 8
	var wg sync.WaitGroup
	inserted := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.InsertEvent(testEvent("contested", "same"))
			if err != nil {
				t.Errorf("concurrent insert: %v", err)
				return
			}
			inserted <- ok
		}()
	}
	wg.Wait()
	close(inserted)

	wins := 0
	for ok := range inserted {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
	n, _ := st.CountEvents()
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestReadSinceOrderAndCheckpoint(t *testing.T) {
	st := openTestStore(t)

	for i := 1; i <= 5; i++ {
		ev := testEvent(fmt.Sprintf("ev-%d", i), fmt.Sprintf("msg %d", i))
		if _, err := st.InsertEvent(ev); err != nil {
			t.Fatal(err)
		}
	}

	batch, err := st.ReadSince(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 3 {
		t.Fatalf("batch = %d events, want 3", len(batch))
	}
	for i, ev := range batch {
		if want := fmt.Sprintf("ev-%d", i+1); ev.EventID != want {
			t.Errorf("batch[%d] = %s, want %s", i, ev.EventID, want)
		}
		if i > 0 && batch[i].Seq <= batch[i-1].Seq {
			t.Error("events out of insertion order")
		}
	}

	rest, err := st.ReadSince(batch[len(batch)-1].Seq, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 {
		t.Fatalf("rest = %d events, want 2", len(rest))
	}
	if rest[0].EventID != "ev-4" {
		t.Errorf("resume read started at %s, want ev-4", rest[0].EventID)
	}
}

func TestReadSinceRoundTripsFields(t *testing.T) {
	st := openTestStore(t)

	in := testEvent("round", "body text")
	in.Account = "main"
	in.SourceMessageID = "m-9"
	in.Attachments = []event.Attachment{{ID: "a1", MimeType: "audio/ogg", Path: "/tmp/x.ogg"}}
	if _, err := st.InsertEvent(in); err != nil {
		t.Fatal(err)
	}

	out, err := st.ReadSince(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatal("no events read back")
	}
	got := out[0]
	if got.EventID != "round" || got.Account != "main" || got.SourceMessageID != "m-9" {
		t.Errorf("identity fields lost: %+v", got)
	}
	if got.Message.Text != "body text" {
		t.Errorf("message text = %q", got.Message.Text)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].MimeType != "audio/ogg" {
		t.Errorf("attachments lost: %+v", got.Attachments)
	}
}

func TestOffsets(t *testing.T) {
	st := openTestStore(t)

	cp, err := st.Offset("c1")
	if err != nil {
		t.Fatal(err)
	}
	if cp != 0 {
		t.Errorf("unknown consumer offset = %d, want 0", cp)
	}

	if err := st.CommitOffset("c1", 7); err != nil {
		t.Fatal(err)
	}
	if err := st.CommitOffset("c1", 12); err != nil {
		t.Fatal(err)
	}
	cp, _ = st.Offset("c1")
	if cp != 12 {
		t.Errorf("offset = %d, want 12", cp)
	}

	if err := st.CommitOffset("c2", 3); err != nil {
		t.Fatal(err)
	}
	list, err := st.ListOffsets()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("offsets listed = %d, want 2", len(list))
	}

	if err := st.ResetOffset("c1"); err != nil {
		t.Fatal(err)
	}
	cp, _ = st.Offset("c1")
	if cp != 0 {
		t.Errorf("offset after reset = %d, want 0", cp)
	}
}

func TestProcessedMarkers(t *testing.T) {
	st := openTestStore(t)

	done, err := st.AlreadyProcessed("c1", "ev-1")
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Error("unmarked event reported processed")
	}

	if err := st.MarkProcessed("c1", "ev-1"); err != nil {
		t.Fatal(err)
	}
	// Marking twice is a no-op.
	if err := st.MarkProcessed("c1", "ev-1"); err != nil {
		t.Fatal(err)
	}

	done, _ = st.AlreadyProcessed("c1", "ev-1")
	if !done {
		t.Error("marked event not reported processed")
	}

	// Markers are per consumer.
	done, _ = st.AlreadyProcessed("c2", "ev-1")
	if done {
		t.Error("marker leaked across consumers")
	}

	if err := st.UnmarkProcessed("c1", "ev-1"); err != nil {
		t.Fatal(err)
	}
	done, _ = st.AlreadyProcessed("c1", "ev-1")
	if done {
		t.Error("unmark did not clear the marker")
	}
}

func TestFailureCounters(t *testing.T) {
	st := openTestStore(t)

	for want := 1; want <= 3; want++ {
		got, err := st.NoteFailure("c1", 42, "boom")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("attempts = %d, want %d", got, want)
		}
	}

	if err := st.ClearFailure("c1", 42); err != nil {
		t.Fatal(err)
	}
	got, err := st.NoteFailure("c1", 42, "boom")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("attempts after clear = %d, want 1", got)
	}
}

func TestDeadLetters(t *testing.T) {
	st := openTestStore(t)

	id1, err := st.AddDeadLetter(StageCollector, "", []byte(`{broken`), "parse error", 0)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := st.AddDeadLetter(StageConsumer, "ev-9", []byte(`{"ok":true}`), "handler failed", 3)
	if err != nil {
		t.Fatal(err)
	}

	all, err := st.ListDeadLetters("", false, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("listed = %d, want 2", len(all))
	}

	consumerOnly, err := st.ListDeadLetters(StageConsumer, false, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(consumerOnly) != 1 || consumerOnly[0].ID != id2 {
		t.Errorf("stage filter wrong: %+v", consumerOnly)
	}

	d, err := st.GetDeadLetter(id1)
	if err != nil {
		t.Fatal(err)
	}
	if string(d.RawPayload) != `{broken` {
		t.Errorf("payload not preserved verbatim: %q", d.RawPayload)
	}

	if err := st.MarkReplayed(id1); err != nil {
		t.Fatal(err)
	}
	pending, _ := st.ListDeadLetters("", false, 10)
	if len(pending) != 1 {
		t.Errorf("pending after replay = %d, want 1", len(pending))
	}
	withReplayed, _ := st.ListDeadLetters("", true, 10)
	if len(withReplayed) != 2 {
		t.Errorf("all after replay = %d, want 2", len(withReplayed))
	}

	counts, err := st.CountDeadLetters()
	if err != nil {
		t.Fatal(err)
	}
	if counts[StageConsumer] != 1 || counts[StageCollector] != 0 {
		t.Errorf("counts = %v", counts)
	}

	if _, err := st.GetDeadLetter(9999); err == nil {
		t.Error("missing dead letter did not error")
	}
}
